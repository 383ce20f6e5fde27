package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultTrustScore is the trust score every account starts with
const DefaultTrustScore = 100

// User holds the structure for the users collection in mongo
type User struct {
	ID                    primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Name                  string             `json:"name" bson:"name"`
	Username              string             `json:"username,omitempty" bson:"username,omitempty"`
	Email                 string             `json:"email" bson:"email"`
	Password              string             `json:"-" bson:"password,omitempty"`
	Role                  Role               `json:"role" bson:"role"`
	ClerkUserID           string             `json:"clerkUserId,omitempty" bson:"clerkUserId,omitempty"`
	Location              string             `json:"location,omitempty" bson:"location,omitempty"`
	Coordinates           *Coordinates       `json:"coordinates,omitempty" bson:"coordinates,omitempty"`
	ProfilePictureURL     string             `json:"profilePictureUrl,omitempty" bson:"profilePictureUrl,omitempty"`
	TrustScore            int                `json:"trustScore" bson:"trustScore"`
	Department            string             `json:"department,omitempty" bson:"department,omitempty"`
	ActiveTasks           int                `json:"activeTasks" bson:"activeTasks"`
	IsAvailable           bool               `json:"isAvailable" bson:"isAvailable"`
	Gamification          Gamification       `json:"gamification" bson:"gamification"`
	ProfileSetupCompleted bool               `json:"profileSetupCompleted" bson:"profileSetupCompleted"`
	CreatedAt             time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// Gamification holds the points, level and badges a user has earned
type Gamification struct {
	XP                 int      `json:"xp" bson:"xp"`
	Points             int      `json:"points" bson:"points"`
	Level              int      `json:"level" bson:"level"`
	Badges             []Badge  `json:"badges" bson:"badges"`
	CompletedScenarios []string `json:"completedScenarios" bson:"completedScenarios"`
}

// Badge is a named achievement
type Badge struct {
	ID         string    `json:"id" bson:"id"`
	Name       string    `json:"name" bson:"name"`
	Icon       string    `json:"icon,omitempty" bson:"icon,omitempty"`
	UnlockedAt time.Time `json:"unlockedAt" bson:"unlockedAt"`
}

// LevelForXP is 1 + floor(xp/100)
func LevelForXP(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return 1 + xp/100
}

// HasBadge reports whether the user already holds the badge id
func (g Gamification) HasBadge(id string) bool {
	for _, b := range g.Badges {
		if b.ID == id {
			return true
		}
	}
	return false
}

// IsStaff reports whether the user can moderate issues
func (u *User) IsStaff() bool {
	return u.Role == RoleModerator || u.Role == RoleAdmin
}

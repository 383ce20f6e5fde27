package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Poll holds the structure for the polls collection in mongo
type Poll struct {
	ID          primitive.ObjectID   `json:"_id" bson:"_id,omitempty"`
	Question    string               `json:"question" bson:"question"`
	Description string               `json:"description,omitempty" bson:"description,omitempty"`
	Options     []PollOption         `json:"options" bson:"options"`
	CreatedBy   *primitive.ObjectID  `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	VotedBy     []primitive.ObjectID `json:"votedBy" bson:"votedBy"`
	Category    string               `json:"category" bson:"category"`
	ExpiresAt   *time.Time           `json:"expiresAt,omitempty" bson:"expiresAt,omitempty"`
	IsActive    bool                 `json:"isActive" bson:"isActive"`
	CreatedAt   time.Time            `json:"createdAt" bson:"createdAt"`
}

// PollOption is one answer of a poll
type PollOption struct {
	Text  string `json:"text" bson:"text"`
	Votes int    `json:"votes" bson:"votes"`
}

// Post types
const (
	PostTypePost         = "post"
	PostTypeAnnouncement = "announcement"
)

// Post holds the structure for the posts collection in mongo
type Post struct {
	ID          primitive.ObjectID   `json:"_id" bson:"_id,omitempty"`
	Content     string               `json:"content" bson:"content"`
	Image       string               `json:"image,omitempty" bson:"image,omitempty"`
	Author      primitive.ObjectID   `json:"author" bson:"author"`
	Type        string               `json:"type,omitempty" bson:"type,omitempty"`
	LinkedIssue *primitive.ObjectID  `json:"linkedIssue,omitempty" bson:"linkedIssue,omitempty"`
	Likes       []primitive.ObjectID `json:"likes" bson:"likes"`
	Upvotes     []primitive.ObjectID `json:"upvotes" bson:"upvotes"`
	Downvotes   []primitive.ObjectID `json:"downvotes" bson:"downvotes"`
	CreatedAt   time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt" bson:"updatedAt"`
}

// NetVotes is upvotes minus downvotes
func (p *Post) NetVotes() int {
	return len(p.Upvotes) - len(p.Downvotes)
}

// Comment holds the structure for the comments collection in mongo
type Comment struct {
	ID            primitive.ObjectID   `json:"_id" bson:"_id,omitempty"`
	Content       string               `json:"content" bson:"content"`
	Author        primitive.ObjectID   `json:"author" bson:"author"`
	Post          primitive.ObjectID   `json:"post" bson:"post"`
	ParentComment *primitive.ObjectID  `json:"parentComment,omitempty" bson:"parentComment,omitempty"`
	Likes         []primitive.ObjectID `json:"likes" bson:"likes"`
	CreatedAt     time.Time            `json:"createdAt" bson:"createdAt"`
}

// Community holds the structure for the communities collection in mongo
type Community struct {
	ID          primitive.ObjectID   `json:"_id" bson:"_id,omitempty"`
	Name        string               `json:"name" bson:"name"`
	Description string               `json:"description,omitempty" bson:"description,omitempty"`
	Image       string               `json:"image,omitempty" bson:"image,omitempty"`
	Category    string               `json:"category,omitempty" bson:"category,omitempty"`
	Members     []primitive.ObjectID `json:"members" bson:"members"`
	Verified    bool                 `json:"verified" bson:"verified"`
	Creator     *primitive.ObjectID  `json:"creator,omitempty" bson:"creator,omitempty"`
	CreatedAt   time.Time            `json:"createdAt" bson:"createdAt"`
}

// Contact statuses
const (
	ContactPending = "Pending"
	ContactReplied = "Replied"
	ContactIgnored = "Ignored"
)

// Contact holds the structure for the contacts collection in mongo
type Contact struct {
	ID        primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Name      string             `json:"name" bson:"name"`
	Email     string             `json:"email" bson:"email"`
	Message   string             `json:"message" bson:"message"`
	Status    string             `json:"status" bson:"status"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}

// Lost item statuses
const (
	LostItemLost     = "Lost"
	LostItemFound    = "Found"
	LostItemReturned = "Returned"
)

// LostItemCategories are the categories a lost item may be filed under
var LostItemCategories = []string{"Electronics", "Documents", "Keys", "Wallet", "Pets", "Clothing", "Other"}

// LostItem holds the structure for the lostitems collection in mongo
type LostItem struct {
	ID           primitive.ObjectID  `json:"_id" bson:"_id,omitempty"`
	Title        string              `json:"title" bson:"title"`
	Description  string              `json:"description" bson:"description"`
	Category     string              `json:"category" bson:"category"`
	Location     string              `json:"location" bson:"location"`
	Image        string              `json:"image,omitempty" bson:"image,omitempty"`
	Status       string              `json:"status" bson:"status"`
	ContactName  string              `json:"contactName" bson:"contactName"`
	ContactPhone string              `json:"contactPhone" bson:"contactPhone"`
	DateLost     *time.Time          `json:"dateLost,omitempty" bson:"dateLost,omitempty"`
	ReportedBy   *primitive.ObjectID `json:"reportedBy,omitempty" bson:"reportedBy,omitempty"`
	CreatedAt    time.Time           `json:"createdAt" bson:"createdAt"`
}

// Settings is the single platform settings document
type Settings struct {
	ID                primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	MaintenanceMode   bool               `json:"maintenanceMode" bson:"maintenanceMode"`
	NewRegistrations  bool               `json:"newRegistrations" bson:"newRegistrations"`
	EmailAlerts       bool               `json:"emailAlerts" bson:"emailAlerts"`
	PushNotifications bool               `json:"pushNotifications" bson:"pushNotifications"`
	UpdatedAt         time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// DefaultSettings is used until an admin saves settings for the first time
func DefaultSettings() Settings {
	return Settings{NewRegistrations: true, EmailAlerts: true, PushNotifications: true}
}

// ChatMessage is one message in the community chat room
type ChatMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	SenderID  string    `json:"senderId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Package gamification awards points, levels and badges for civic actions.
package gamification

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
)

// Action is something a citizen can be rewarded for
type Action string

// Rewarded actions
const (
	ReportIssue    Action = "REPORT_ISSUE"
	VotePoll       Action = "VOTE_POLL"
	IssueResolved  Action = "ISSUE_RESOLVED"
	VerifiedReport Action = "VERIFIED_REPORT"
)

// ProCitizenPoints is the point total that unlocks the Civix Legend badge
const ProCitizenPoints = 500

// Points returns the reward for an action, zero for unknown actions
func Points(a Action) int {
	switch a {
	case ReportIssue:
		return 10
	case VotePoll:
		return 5
	case IssueResolved:
		return 50
	case VerifiedReport:
		return 20
	}
	return 0
}

// Badges
var (
	BadgeFirstReport = models.Badge{ID: "first_report", Name: "Citizen Journalist", Icon: "medal"}
	BadgeVoter       = models.Badge{ID: "voter", Name: "Voice of City", Icon: "vote"}
	BadgeProCitizen  = models.Badge{ID: "pro_citizen", Name: "Civix Legend", Icon: "crown"}
)

// NewBadges lists the badges a user earns after performing action, given their updated state
func NewBadges(g models.Gamification, a Action) []models.Badge {
	var out []models.Badge
	if a == ReportIssue && !g.HasBadge(BadgeFirstReport.ID) {
		out = append(out, BadgeFirstReport)
	}
	if a == VotePoll && !g.HasBadge(BadgeVoter.ID) {
		out = append(out, BadgeVoter)
	}
	if g.Points >= ProCitizenPoints && !g.HasBadge(BadgeProCitizen.ID) {
		out = append(out, BadgeProCitizen)
	}
	return out
}

// Award credits the user matched by filter for an action. Points and xp are
// incremented atomically; level and badges are derived from the new totals.
func Award(ctx context.Context, users databases.UserDatabase, filter bson.M, a Action, now time.Time) (*models.Gamification, error) {
	pts := Points(a)
	if pts == 0 {
		return nil, fmt.Errorf("unknown action %q", a)
	}

	after := options.After
	user, err := users.FindOneAndUpdate(ctx, filter,
		bson.M{"$inc": bson.M{"gamification.points": pts, "gamification.xp": pts}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	)
	if err != nil {
		return nil, err
	}

	g := user.Gamification
	set := bson.M{}
	if lvl := models.LevelForXP(g.XP); lvl > g.Level {
		g.Level = lvl
		set["gamification.level"] = lvl
	}
	badges := NewBadges(g, a)
	if len(set) == 0 && len(badges) == 0 {
		return &g, nil
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$max"] = set
	}
	if len(badges) > 0 {
		for i := range badges {
			badges[i].UnlockedAt = now
		}
		update["$push"] = bson.M{"gamification.badges": bson.M{"$each": badges}}
		g.Badges = append(g.Badges, badges...)
	}
	// badge ids are guarded so a racing award cannot push the same badge twice
	guard := bson.M{"_id": user.ID}
	if len(badges) > 0 {
		ids := make([]string, len(badges))
		for i, b := range badges {
			ids[i] = b.ID
		}
		guard["gamification.badges.id"] = bson.M{"$nin": ids}
	}
	if _, err := users.UpdateOne(ctx, guard, update); err != nil {
		return nil, err
	}
	return &g, nil
}

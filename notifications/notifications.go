// Package notifications stores in-app notifications and pushes them to connected clients.
package notifications

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
)

// Role recipients
const (
	RecipientAdmin     = "admin"
	RecipientModerator = "moderator"
	RecipientOfficer   = "officer"
)

const staleTitle = "Stale Issue Alert"

// StaleAfter is how long an issue may sit in Pending before admins are alerted
const StaleAfter = 7 * 24 * time.Hour

// Service creates and lists notifications
type Service struct {
	DB  databases.NotificationDatabase
	Hub *Hub
	Now func() time.Time
}

// NewService builds a Service. hub may be nil when nothing is listening.
func NewService(db databases.NotificationDatabase, hub *Hub) *Service {
	return &Service{DB: db, Hub: hub, Now: func() time.Time { return time.Now().UTC() }}
}

// Notify stores n and pushes it to any client listening on its recipient
func (s *Service) Notify(ctx context.Context, n models.Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("notification has no recipient")
	}
	if n.Type == "" {
		n.Type = models.NotificationInfo
	}
	n.ID = primitive.NewObjectID()
	n.CreatedAt = s.Now()
	n.Read = false

	if _, err := s.DB.InsertOne(ctx, n); err != nil {
		return err
	}
	if s.Hub != nil {
		s.Hub.Push(n.Recipient, EventNewNotification, n)
	}
	return nil
}

// Recipients lists the recipient keys a viewer reads from: their own id plus
// the role channel for staff.
func Recipients(userID string, role models.Role) []string {
	keys := []string{userID}
	switch role {
	case models.RoleAdmin:
		keys = append(keys, RecipientAdmin)
	case models.RoleModerator:
		keys = append(keys, RecipientModerator)
	case models.RoleOfficer:
		keys = append(keys, RecipientOfficer)
	}
	return keys
}

func recipientFilter(recipients []string) bson.M {
	return bson.M{"recipient": bson.M{"$in": recipients}}
}

// List returns the notifications addressed to any of recipients, newest first
func (s *Service) List(ctx context.Context, recipients []string) ([]models.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	list, err := s.DB.Find(ctx, recipientFilter(recipients), opts)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Notification{}
	}
	return list, nil
}

// MarkRead flags one notification as read
func (s *Service) MarkRead(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.DB.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"read": true}})
	return err
}

// MarkAllRead flags every notification addressed to recipients as read
func (s *Service) MarkAllRead(ctx context.Context, recipients []string) error {
	_, err := s.DB.UpdateMany(ctx, recipientFilter(recipients), bson.M{"$set": bson.M{"read": true}})
	return err
}

// AlertStaleIssues raises one admin warning per issue that has been Pending
// longer than StaleAfter. Issues that already have an alert are skipped.
func (s *Service) AlertStaleIssues(ctx context.Context, issues databases.IssueDatabase) (int, error) {
	threshold := s.Now().Add(-StaleAfter)
	stale, err := issues.Find(ctx, bson.M{
		"status":    models.StatusPending,
		"createdAt": bson.M{"$lt": threshold},
	})
	if err != nil {
		return 0, err
	}

	created := 0
	for _, issue := range stale {
		n, err := s.DB.CountDocuments(ctx, bson.M{
			"recipient": RecipientAdmin,
			"title":     staleTitle,
			"relatedId": issue.ID,
		})
		if err != nil {
			return created, err
		}
		if n > 0 {
			continue
		}
		id := issue.ID
		err = s.Notify(ctx, models.Notification{
			Recipient: RecipientAdmin,
			Title:     staleTitle,
			Message:   fmt.Sprintf("Issue %q has been pending for over 7 days.", issue.Title),
			Type:      models.NotificationWarning,
			RelatedID: &id,
		})
		if err != nil {
			zap.S().Warnw("failed to create stale issue alert", "issueId", issue.ID.Hex(), "error", err)
			continue
		}
		created++
	}
	return created, nil
}

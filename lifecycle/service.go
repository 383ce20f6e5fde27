// Package lifecycle implements issue intake, status changes, assignment and the
// resolution review flow.
package lifecycle

import (
	"context"
	"errors"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/civix/civix-api/clients/ai"
	"github.com/civix/civix-api/clients/mlservice"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
)

// Classifier is the ML service used to enrich new issues
type Classifier interface {
	PredictPriority(ctx context.Context, t mlservice.Text) (string, error)
	DetectFake(ctx context.Context, t mlservice.Text) (mlservice.FakeResult, error)
	Categorize(ctx context.Context, t mlservice.Text) (string, error)
	Embedding(ctx context.Context, text string) ([]float64, error)
	FindDuplicates(ctx context.Context, t mlservice.Text, existing []mlservice.Candidate) ([]mlservice.Duplicate, error)
	ValidateImage(ctx context.Context, imageURL, category string) (mlservice.ImageValidation, error)
}

// Assistant is the generative model used for judgement calls
type Assistant interface {
	Sentiment(ctx context.Context, text string) (ai.SentimentResult, error)
	MatchImage(ctx context.Context, title, description string, image []byte, mimeType string) (ai.ImageMatch, error)
	AnalyzeIssue(ctx context.Context, title, description string) (ai.Analysis, error)
	DetectDuplicates(ctx context.Context, title, description string, refs []ai.Reference) (ai.DuplicateResult, error)
}

// Uploader stores files and returns their public URL
type Uploader interface {
	Upload(ctx context.Context, file io.Reader, folder string) (string, error)
}

// Mailer sends reporter-facing email
type Mailer interface {
	StatusUpdate(toEmail, title, complaintID, status, remarks string) error
	IssueUpdated(toEmail, title, complaintID string) error
}

// Notifier records in-app notifications
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Service runs the issue workflows. Classifier, Assistant, Uploader and Mailer
// are optional; when nil the matching enrichment is skipped.
type Service struct {
	Issues   databases.IssueDatabase
	Users    databases.UserDatabase
	Posts    databases.PostDatabase
	Notifier Notifier

	Classifier Classifier
	Assistant  Assistant
	Uploader   Uploader
	Mailer     Mailer

	// CallTimeout bounds every call to an external service
	CallTimeout time.Duration
	Now         func() time.Time
	// Go runs fire-and-forget work such as background image validation
	Go func(func())
}

// New builds a Service with the required stores
func New(issues databases.IssueDatabase, users databases.UserDatabase, posts databases.PostDatabase, notifier Notifier) *Service {
	return &Service{
		Issues:      issues,
		Users:       users,
		Posts:       posts,
		Notifier:    notifier,
		CallTimeout: 8 * time.Second,
		Now:         func() time.Time { return time.Now().UTC() },
		Go:          func(f func()) { go f() },
	}
}

func (s *Service) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.CallTimeout)
}

// load fetches an issue by id, mapping a miss to ErrNotFound
func (s *Service) load(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	issue, err := s.Issues.FindOne(ctx, bson.M{"_id": id})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("Issue not found", err)
	}
	if err != nil {
		return nil, err
	}
	return issue, nil
}

// entry builds a timeline entry whose timestamp never precedes the issue's last entry
func (s *Service) entry(issue *models.Issue, status models.IssueStatus, message, by string) models.TimelineEntry {
	ts := s.Now()
	if last := issue.LastTimelineAt(); ts.Before(last) {
		ts = last
	}
	return models.TimelineEntry{Status: status, Timestamp: ts, Message: message, ByUser: by}
}

func (s *Service) notify(ctx context.Context, n models.Notification) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, n); err != nil {
		zap.S().Warnw("failed to create notification", "recipient", n.Recipient, "title", n.Title, "error", err)
	}
}

// adjustLoad keeps an officer's activeTasks in step with an issue moving between
// open and terminal statuses
func (s *Service) adjustLoad(ctx context.Context, officer *primitive.ObjectID, from, to models.IssueStatus) {
	if officer == nil {
		return
	}
	delta := 0
	switch {
	case !from.IsTerminal() && to.IsTerminal():
		delta = -1
	case from.IsTerminal() && !to.IsTerminal():
		delta = 1
	}
	if delta == 0 {
		return
	}
	if err := s.Users.AdjustActiveTasks(ctx, *officer, delta); err != nil {
		zap.S().Warnw("failed to adjust officer load", "officerId", officer.Hex(), "delta", delta, "error", err)
	}
}

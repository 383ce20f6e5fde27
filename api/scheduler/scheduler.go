package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/civix/civix-api/clients/ai"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/feedback"
	"github.com/civix/civix-api/lifecycle"
	"github.com/civix/civix-api/models"
	"github.com/civix/civix-api/notifications"
)

const (
	feedbackJobTimeout = 10 * time.Minute
	staleSweepSchedule = "@every 6h"
	// sentiment calls in flight per issue
	sentimentConcurrency = 4
)

// Sentimenter scores free-text feedback
type Sentimenter interface {
	Sentiment(ctx context.Context, text string) (ai.SentimentResult, error)
}

// StaleAlerter raises alerts for issues left in Pending too long
type StaleAlerter interface {
	AlertStaleIssues(ctx context.Context, issues databases.IssueDatabase) (int, error)
}

// Summary describes one run of the feedback job
type Summary struct {
	Skipped   bool
	Scanned   int
	Processed int
	Updated   int
	Failed    int
}

// Scheduler runs the periodic background jobs
type Scheduler struct {
	cron *cron.Cron

	IDB      databases.IssueDatabase
	UDB      databases.UserDatabase
	Notifier lifecycle.Notifier
	Stale    StaleAlerter
	Analyzer Sentimenter

	Schedule     string
	WorkerID     int
	TotalWorkers int
	CallTimeout  time.Duration
	Now          func() time.Time

	running atomic.Bool
}

// NewScheduler creates a new scheduler instance. analyzer and stale may be nil.
func NewScheduler(issues databases.IssueDatabase, users databases.UserDatabase, notifier lifecycle.Notifier, stale StaleAlerter, analyzer Sentimenter, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(zap.L())))),
		),
		IDB:          issues,
		UDB:          users,
		Notifier:     notifier,
		Stale:        stale,
		Analyzer:     analyzer,
		Schedule:     cfg.FeedbackJobSchedule,
		WorkerID:     cfg.WorkerID,
		TotalWorkers: cfg.TotalWorkers,
		CallTimeout:  cfg.ExternalCallTimeout,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the jobs, starts the cron loop and kicks off one feedback run straight away
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.Schedule, s.runFeedbackJob); err != nil {
		return fmt.Errorf("failed to register feedback job %q: %w", s.Schedule, err)
	}
	if s.Stale != nil {
		if _, err := s.cron.AddFunc(staleSweepSchedule, s.sweepStaleIssues); err != nil {
			return fmt.Errorf("failed to register stale issue sweep: %w", err)
		}
	}
	s.cron.Start()
	go s.runFeedbackJob()
	zap.S().Infow("scheduler started", "feedbackSchedule", s.Schedule, "workerId", s.WorkerID, "totalWorkers", s.TotalWorkers)
	return nil
}

// Stop waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("scheduler stopped")
}

func (s *Scheduler) runFeedbackJob() {
	ctx, cancel := context.WithTimeout(context.Background(), feedbackJobTimeout)
	defer cancel()
	if _, err := s.RunFeedbackJob(ctx); err != nil {
		zap.S().Errorw("feedback job failed", "error", err)
	}
}

func (s *Scheduler) sweepStaleIssues() {
	ctx, cancel := context.WithTimeout(context.Background(), feedbackJobTimeout)
	defer cancel()
	n, err := s.Stale.AlertStaleIssues(ctx, s.IDB)
	if err != nil {
		zap.S().Errorw("stale issue sweep failed", "error", err)
		return
	}
	if n > 0 {
		zap.S().Infow("raised stale issue alerts", "count", n)
	}
}

// RunFeedbackJob scores due checkpoints on every resolved issue owned by this
// worker. A run that starts while another is still going returns at once with
// Skipped set.
func (s *Scheduler) RunFeedbackJob(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		zap.S().Info("feedback job still running, skipping")
		return Summary{Skipped: true}, nil
	}
	defer s.running.Store(false)

	open := make([]bson.M, 0, len(feedback.Checkpoints))
	for _, cp := range feedback.Checkpoints {
		open = append(open, bson.M{cp.Field(): bson.M{"$ne": true}})
	}
	issues, err := s.IDB.Find(ctx, bson.M{
		"status":                 bson.M{"$in": []models.IssueStatus{models.StatusResolved, models.StatusClosed}},
		"resolution.submittedAt": bson.M{"$exists": true},
		"$or":                    open,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to find issues awaiting feedback checks: %w", err)
	}

	var sum Summary
	now := s.Now()
	for i := range issues {
		issue := &issues[i]
		sum.Scanned++
		if !s.owns(issue.ID) {
			continue
		}
		updated, err := s.processIssue(ctx, issue, now)
		if err != nil {
			sum.Failed++
			zap.S().Errorw("feedback check failed", "issueId", issue.ID.Hex(), "error", err)
			continue
		}
		sum.Processed++
		if updated {
			sum.Updated++
		}
	}
	if sum.Updated > 0 || sum.Failed > 0 {
		zap.S().Infow("feedback job complete", "updated", sum.Updated, "processed", sum.Processed, "failed", sum.Failed)
	}
	return sum, nil
}

// owns shards issues across workers by the last byte of their id
func (s *Scheduler) owns(id primitive.ObjectID) bool {
	if s.TotalWorkers <= 1 {
		return true
	}
	hex := id.Hex()
	b, err := strconv.ParseUint(hex[len(hex)-2:], 16, 8)
	if err != nil {
		return false
	}
	return int(b)%s.TotalWorkers == s.WorkerID-1
}

func (s *Scheduler) processIssue(ctx context.Context, issue *models.Issue, now time.Time) (bool, error) {
	if issue.Resolution == nil || issue.Resolution.SubmittedAt == nil {
		return false, nil
	}
	due := feedback.Due(issue.FeedbackTimeline.Checks, now.Sub(*issue.Resolution.SubmittedAt))
	if len(due) == 0 {
		return false, nil
	}

	set := bson.M{}
	for _, i := range s.scoreSentiments(ctx, issue.Feedbacks) {
		set["feedbacks."+strconv.Itoa(i)+".sentimentScore"] = *issue.Feedbacks[i].SentimentScore
		set["feedbacks."+strconv.Itoa(i)+".sentimentLabel"] = issue.Feedbacks[i].SentimentLabel
	}

	officer, err := s.officer(ctx, issue)
	if err != nil {
		return false, err
	}

	for _, cp := range due {
		if officer != nil && len(issue.Feedbacks) > 0 {
			s.apply(ctx, issue, officer, feedback.Evaluate(issue.Feedbacks, cp))
		}
		cp.Mark(&issue.FeedbackTimeline.Checks)
		set[cp.Field()] = true
	}

	if _, err := s.IDB.UpdateOne(ctx, bson.M{"_id": issue.ID}, bson.M{"$set": set}); err != nil {
		return false, fmt.Errorf("failed to save feedback checks: %w", err)
	}
	return true, nil
}

// officer loads the assigned officer, or nil when the issue has none
func (s *Scheduler) officer(ctx context.Context, issue *models.Issue) (*models.User, error) {
	if issue.AssignedOfficer == nil {
		return nil, nil
	}
	u, err := s.UDB.FindOne(ctx, bson.M{"_id": *issue.AssignedOfficer})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load officer: %w", err)
	}
	return u, nil
}

func (s *Scheduler) apply(ctx context.Context, issue *models.Issue, officer *models.User, r feedback.Result) {
	delta := r.Delta()
	if delta == 0 {
		return
	}
	if err := s.UDB.AdjustTrustScore(ctx, bson.M{"_id": officer.ID}, delta); err != nil {
		zap.S().Errorw("failed to adjust officer trust score", "officerId", officer.ID.Hex(), "delta", delta, "error", err)
		return
	}
	zap.S().Infow("officer trust score adjusted", "officerId", officer.ID.Hex(), "checkpoint", r.Checkpoint.Label, "class", r.Class, "delta", delta)

	if !r.Alert() || s.Notifier == nil {
		return
	}
	err := s.Notifier.Notify(ctx, models.Notification{
		Recipient: notifications.RecipientAdmin,
		Title:     fmt.Sprintf("⚠️ Performance Alert (%s)", r.Checkpoint.Label),
		Message:   fmt.Sprintf("Officer %s received poor ratings (%.1f⭐) on issue %s.", officer.Name, r.AvgStars, issue.ComplaintID),
		Type:      models.NotificationWarning,
		RelatedID: &issue.ID,
	})
	if err != nil {
		zap.S().Warnw("failed to send performance alert", "issueId", issue.ID.Hex(), "error", err)
	}
}

// scoreSentiments fills in sentiment on entries that still need it and returns
// their indexes. A failed call caches a neutral score so it is not retried.
func (s *Scheduler) scoreSentiments(ctx context.Context, feedbacks []models.Feedback) []int {
	if s.Analyzer == nil {
		return nil
	}
	var pending []int
	for i, f := range feedbacks {
		if feedback.NeedsSentiment(f) {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(sentimentConcurrency)
	var g errgroup.Group
	for _, i := range pending {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			res := s.sentiment(ctx, feedbacks[i].Comment)
			feedbacks[i].SentimentScore = &res.Score
			feedbacks[i].SentimentLabel = res.Label
			return nil
		})
	}
	_ = g.Wait()

	scored := pending[:0]
	for _, i := range pending {
		if feedbacks[i].SentimentScore != nil {
			scored = append(scored, i)
		}
	}
	return scored
}

func (s *Scheduler) sentiment(ctx context.Context, text string) ai.SentimentResult {
	timeout := s.CallTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := s.Analyzer.Sentiment(cctx, text)
	if err != nil {
		zap.S().Warnw("sentiment analysis failed, scoring as neutral", "error", err)
		return ai.SentimentResult{Score: 0, Label: ai.LabelNeutral}
	}
	return res
}

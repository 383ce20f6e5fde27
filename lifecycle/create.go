package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civix/civix-api/assignment"
	"github.com/civix/civix-api/clients/cloudstore"
	"github.com/civix/civix-api/clients/mlservice"
	"github.com/civix/civix-api/gamification"
	"github.com/civix/civix-api/models"
)

// Messages attached to an otherwise successful submission
const (
	ImageMismatchWarning = "Our AI suggests the image might not strictly match the description. This helps us prioritize eco-impact!"
	AIVerified           = "AI Verified ✓"
	AIFlagged            = "We noticed slight inconsistency or duplication. Accepted, but flagged."

	spamMessage = "Your reported issue %q was flagged as spam. Reason: %s. If this is a mistake, please contact support."
)

// Thresholds used during intake
const (
	duplicateScoreThreshold = 0.6
	duplicateCandidates     = 100
	imageMismatchPenalty    = -5
	spamConfidence          = 0.7
	flagConfidence          = 0.6
)

// File is an upload attached to a request
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// NewIssue is the citizen's submission
type NewIssue struct {
	Title         string
	Description   string
	Phone         string
	Email         string
	NotifyByEmail bool
	IssueType     string
	IsPrivate     bool
	Location      string
	Coordinates   *models.Coordinates
	Category      string
	File          *File
	// Reporter is set when the request was authenticated
	Reporter *primitive.ObjectID
}

// Created is what CreateIssue returns
type Created struct {
	Issue      *models.Issue `json:"issue"`
	Warning    string        `json:"warning,omitempty"`
	AIFeedback string        `json:"aiFeedback"`
}

type enrichment struct {
	priority       models.Priority
	category       string
	isFake         bool
	fakeConfidence float64
	embedding      []float64
	imageMismatch  bool
}

// CreateIssue validates and stores a new issue. Only the final insert can fail the
// request; every enrichment degrades to a default when its collaborator is down.
func (s *Service) CreateIssue(ctx context.Context, in NewIssue) (*Created, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Title == "" || in.Description == "" || in.Email == "" || in.Phone == "" {
		return nil, validation("Title, description, email, and phone are required")
	}

	fileURL := s.upload(ctx, in.File, cloudstore.FolderIssues)
	enr := s.enrich(ctx, in)

	var warning string
	if enr.imageMismatch {
		warning = ImageMismatchWarning
		if err := s.Users.AdjustTrustScore(ctx, bson.M{"email": in.Email}, imageMismatchPenalty); err != nil {
			zap.S().Warnw("failed to penalize reporter trust", "email", in.Email, "error", err)
		}
	}

	category := in.Category
	if category == "" || category == assignment.DefaultDepartment {
		category = enr.category
	}
	if category == "" {
		category = assignment.DefaultDepartment
	}

	reporter := in.Reporter
	if reporter == nil {
		if u, err := s.Users.FindOne(ctx, bson.M{"email": in.Email}); err == nil {
			reporter = &u.ID
		} else if !errors.Is(err, mongo.ErrNoDocuments) {
			zap.S().Warnw("failed to look up reporter", "email", in.Email, "error", err)
		}
	}

	now := s.Now()
	issue := &models.Issue{
		ID:             primitive.NewObjectID(),
		ComplaintID:    NewComplaintID(now),
		Title:          in.Title,
		Description:    in.Description,
		Phone:          in.Phone,
		Email:          in.Email,
		FileURL:        fileURL,
		NotifyByEmail:  in.NotifyByEmail,
		IssueType:      in.IssueType,
		IsPrivate:      in.IsPrivate,
		Location:       in.Location,
		Coordinates:    in.Coordinates,
		Category:       category,
		Department:     assignment.Department(category),
		Priority:       enr.priority,
		PriorityScore:  enr.priority.Weight(),
		IsFake:         enr.isFake,
		FakeConfidence: enr.fakeConfidence,
		Embedding:      enr.embedding,
		Status:         models.StatusPending,
		Timeline:       []models.TimelineEntry{{Status: models.StatusPending, Timestamp: now, Message: "Issue Reported", ByUser: models.ActorUser}},
		Reporter:       reporter,
		Upvotes:        []primitive.ObjectID{},
		Downvotes:      []primitive.ObjectID{},
		Feedbacks:      []models.Feedback{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	officer := s.pickOfficer(ctx, issue.Department)
	if officer != nil {
		issue.AssignedOfficer = &officer.ID
		issue.Status = models.StatusAssigned
		issue.Timeline = append(issue.Timeline, models.TimelineEntry{
			Status:    models.StatusAssigned,
			Timestamp: now,
			Message:   fmt.Sprintf("Auto-assigned to Officer %s (Load: %d)", officer.Name, officer.ActiveTasks),
			ByUser:    models.ActorSystem,
		})
	}

	if _, err := s.Issues.InsertOne(ctx, issue); err != nil {
		return nil, err
	}
	zap.S().Infow("issue created", "issueId", issue.ID.Hex(), "complaintId", issue.ComplaintID, "priority", issue.Priority, "category", issue.Category)

	if officer != nil {
		if err := s.Users.AdjustActiveTasks(ctx, officer.ID, 1); err != nil {
			zap.S().Warnw("failed to increment officer load", "officerId", officer.ID.Hex(), "error", err)
		}
		s.notify(ctx, models.Notification{
			Recipient: officer.ID.Hex(),
			Title:     "New Task Assigned",
			Message:   fmt.Sprintf("You have been assigned a new %s priority issue: %q.", issue.Priority, issue.Title),
			Type:      models.NotificationInfo,
			RelatedID: &issue.ID,
		})
	}

	if fileURL != "" && s.Classifier != nil {
		id, cat := issue.ID, issue.Category
		s.Go(func() { s.validateImage(context.Background(), id, fileURL, cat) })
	}

	if !issue.IsFake && warning == "" {
		if dup := s.topDuplicate(ctx, issue); dup != "" {
			warning = "Potential duplicate of " + dup
		}
	}

	if issue.Priority == models.PriorityHigh || issue.Priority == models.PriorityMedium {
		icon, typ := "📢", models.NotificationInfo
		if issue.Priority == models.PriorityHigh {
			icon, typ = "🚨", models.NotificationWarning
		}
		s.notify(ctx, models.Notification{
			Recipient: "admin",
			Title:     fmt.Sprintf("%s Issue Alert", issue.Priority),
			Message:   fmt.Sprintf("%s New Issue: %q (%s)", icon, issue.Title, issue.Category),
			Type:      typ,
			RelatedID: &issue.ID,
		})
	}

	if reporter != nil {
		s.award(ctx, bson.M{"_id": *reporter}, gamification.ReportIssue)
		if !issue.IsPrivate {
			s.autoPost(ctx, issue, *reporter)
		}
	}

	feedback := AIVerified
	if warning != "" {
		feedback = AIFlagged
	}
	return &Created{Issue: issue, Warning: warning, AIFeedback: feedback}, nil
}

func (s *Service) upload(ctx context.Context, f *File, folder string) string {
	if f == nil || len(f.Data) == 0 || s.Uploader == nil {
		return ""
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	url, err := s.Uploader.Upload(cctx, bytes.NewReader(f.Data), folder)
	if err != nil {
		zap.S().Warnw("file upload failed, continuing without it", "file", f.Name, "error", err)
		return ""
	}
	return url
}

// enrich runs every classifier call at once and keeps whatever succeeded
func (s *Service) enrich(ctx context.Context, in NewIssue) enrichment {
	out := enrichment{priority: models.PriorityPending, category: assignment.DefaultDepartment}
	text := mlservice.Text{Title: in.Title, Description: in.Description}

	var (
		g        errgroup.Group
		priority string
		category string
		fake     mlservice.FakeResult
		fakeOK   bool
	)
	run := func(name string, f func(ctx context.Context) error) {
		g.Go(func() error {
			cctx, cancel := s.callCtx(ctx)
			defer cancel()
			if err := f(cctx); err != nil {
				zap.S().Warnw("issue enrichment failed", "task", name, "error", err)
			}
			return nil
		})
	}

	if s.Classifier != nil {
		run("priority", func(ctx context.Context) (err error) {
			priority, err = s.Classifier.PredictPriority(ctx, text)
			return err
		})
		run("fake", func(ctx context.Context) error {
			res, err := s.Classifier.DetectFake(ctx, text)
			if err == nil {
				fake, fakeOK = res, true
			}
			return err
		})
		run("category", func(ctx context.Context) (err error) {
			category, err = s.Classifier.Categorize(ctx, text)
			return err
		})
		run("embedding", func(ctx context.Context) (err error) {
			out.embedding, err = s.Classifier.Embedding(ctx, in.Title+" "+in.Description)
			return err
		})
	}
	if s.Assistant != nil && in.File != nil && len(in.File.Data) > 0 {
		run("image-match", func(ctx context.Context) error {
			m, err := s.Assistant.MatchImage(ctx, in.Title, in.Description, in.File.Data, in.File.ContentType)
			if err == nil && !m.Matches {
				out.imageMismatch = true
			}
			return err
		})
	}
	_ = g.Wait()

	if p, ok := models.ParsePriority(priority); ok {
		out.priority = p
	}
	if category != "" {
		out.category = category
	}
	if fakeOK {
		out.isFake, out.fakeConfidence = fake.IsFake, fake.Confidence
	}
	return out
}

func (s *Service) pickOfficer(ctx context.Context, department string) *models.User {
	pool, err := s.Users.Find(ctx, assignment.PoolFilter(department))
	if err != nil {
		zap.S().Warnw("failed to load officer pool", "department", department, "error", err)
		return nil
	}
	if len(pool) == 0 {
		pool, err = s.Users.Find(ctx, assignment.PoolFilter(""))
		if err != nil {
			zap.S().Warnw("failed to load officer pool", "error", err)
			return nil
		}
	}
	officer, ok := assignment.SelectOfficer(pool)
	if !ok {
		zap.S().Warnw("no officer available, leaving issue unassigned", "department", department)
		return nil
	}
	return &officer
}

// duplicateCandidatesFor loads the recent open issues a new or existing issue is compared against
func (s *Service) duplicateCandidatesFor(ctx context.Context, exclude primitive.ObjectID) ([]mlservice.Candidate, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(duplicateCandidates).
		SetProjection(bson.M{"title": 1, "description": 1, "complaintId": 1, "priority": 1, "status": 1})
	recent, err := s.Issues.Find(ctx, bson.M{
		"_id":    bson.M{"$ne": exclude},
		"status": bson.M{"$in": []models.IssueStatus{models.StatusPending, models.StatusInProgress}},
	}, opts)
	if err != nil {
		return nil, err
	}
	out := make([]mlservice.Candidate, 0, len(recent))
	for _, r := range recent {
		out = append(out, mlservice.Candidate{
			ID:          r.ID.Hex(),
			ComplaintID: r.ComplaintID,
			Title:       r.Title,
			Description: r.Description,
			Priority:    string(r.Priority),
			Status:      string(r.Status),
		})
	}
	return out, nil
}

func (s *Service) topDuplicate(ctx context.Context, issue *models.Issue) string {
	if s.Classifier == nil {
		return ""
	}
	candidates, err := s.duplicateCandidatesFor(ctx, issue.ID)
	if err != nil {
		zap.S().Warnw("duplicate check skipped", "complaintId", issue.ComplaintID, "error", err)
		return ""
	}
	if len(candidates) == 0 {
		return ""
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	dups, err := s.Classifier.FindDuplicates(cctx, mlservice.Text{Title: issue.Title, Description: issue.Description}, candidates)
	if err != nil {
		zap.S().Warnw("duplicate check skipped", "complaintId", issue.ComplaintID, "error", err)
		return ""
	}
	if len(dups) > 0 && dups[0].Score > duplicateScoreThreshold {
		return dups[0].Ref()
	}
	return ""
}

func (s *Service) autoPost(ctx context.Context, issue *models.Issue, author primitive.ObjectID) {
	if s.Posts == nil {
		return
	}
	location := issue.Location
	if location == "" {
		location = "No location provided"
	}
	content := fmt.Sprintf("🚨 **New Issue Reported**: %s\n\n%s\n\n📍 %s\n\nHelp verify this by upvoting! #CivicDuty #%s",
		issue.Title, issue.Description, location, strings.Join(strings.Fields(issue.Category), ""))
	now := s.Now()
	post := models.Post{
		ID:          primitive.NewObjectID(),
		Content:     content,
		Image:       issue.FileURL,
		Author:      author,
		Type:        models.PostTypePost,
		LinkedIssue: &issue.ID,
		Likes:       []primitive.ObjectID{},
		Upvotes:     []primitive.ObjectID{},
		Downvotes:   []primitive.ObjectID{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.Posts.InsertOne(ctx, post); err != nil {
		zap.S().Warnw("failed to auto-post issue", "complaintId", issue.ComplaintID, "error", err)
	}
}

// validateImage runs after the response is sent. Spam uploads retire the issue;
// uncertain ones get a review note on the timeline.
func (s *Service) validateImage(ctx context.Context, id primitive.ObjectID, imageURL, category string) {
	cctx, cancel := s.callCtx(ctx)
	v, err := s.Classifier.ValidateImage(cctx, imageURL, category)
	cancel()
	if err != nil {
		zap.S().Warnw("background image validation failed", "issueId", id.Hex(), "error", err)
		return
	}

	switch {
	case !v.IsValid && v.Confidence > spamConfidence:
		issue, err := s.load(ctx, id)
		if err != nil {
			return
		}
		e := s.entry(issue, models.StatusSpam, "Spam detected: "+v.Reason, models.ActorSystem)
		if _, err := s.transition(ctx, issue, models.StatusSpam, e, nil); err != nil {
			zap.S().Warnw("failed to mark issue as spam", "issueId", id.Hex(), "error", err)
			return
		}
		zap.S().Infow("issue flagged as spam", "issueId", id.Hex(), "reason", v.Reason)
		if issue.Reporter != nil {
			s.notify(ctx, models.Notification{
				Recipient: issue.Reporter.Hex(),
				Title:     "Issue Flagged as Spam",
				Message:   fmt.Sprintf(spamMessage, issue.Title, v.Reason),
				Type:      models.NotificationWarning,
				RelatedID: &issue.ID,
			})
		}
	case v.Confidence < flagConfidence:
		issue, err := s.load(ctx, id)
		if err != nil {
			return
		}
		reason := v.Reason
		if reason == "" {
			reason = "Low validation confidence"
		}
		e := s.entry(issue, issue.Status, "Auto-flagged for review: "+reason, models.ActorSystem)
		if _, err := s.Issues.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$push": bson.M{"timeline": e}}); err != nil {
			zap.S().Warnw("failed to flag issue for review", "issueId", id.Hex(), "error", err)
		}
	}
}

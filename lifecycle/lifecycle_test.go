package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/civix/civix-api/clients/ai"
	"github.com/civix/civix-api/clients/mlservice"
	"github.com/civix/civix-api/databases/mocks"
	"github.com/civix/civix-api/models"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (r *recorder) Notify(ctx context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

type fakeClassifier struct {
	priority   string
	category   string
	fake       mlservice.FakeResult
	duplicates []mlservice.Duplicate
	validation mlservice.ImageValidation
	err        error
}

func (f *fakeClassifier) PredictPriority(ctx context.Context, t mlservice.Text) (string, error) {
	return f.priority, f.err
}
func (f *fakeClassifier) DetectFake(ctx context.Context, t mlservice.Text) (mlservice.FakeResult, error) {
	return f.fake, f.err
}
func (f *fakeClassifier) Categorize(ctx context.Context, t mlservice.Text) (string, error) {
	return f.category, f.err
}
func (f *fakeClassifier) Embedding(ctx context.Context, text string) ([]float64, error) {
	return []float64{0.1}, f.err
}
func (f *fakeClassifier) FindDuplicates(ctx context.Context, t mlservice.Text, existing []mlservice.Candidate) ([]mlservice.Duplicate, error) {
	return f.duplicates, f.err
}
func (f *fakeClassifier) ValidateImage(ctx context.Context, imageURL, category string) (mlservice.ImageValidation, error) {
	return f.validation, f.err
}

type fakeAssistant struct {
	sentiment ai.SentimentResult
	match     ai.ImageMatch
	analysis  ai.Analysis
	dup       ai.DuplicateResult
	err       error
}

func (f *fakeAssistant) Sentiment(ctx context.Context, text string) (ai.SentimentResult, error) {
	return f.sentiment, f.err
}
func (f *fakeAssistant) MatchImage(ctx context.Context, title, description string, image []byte, mimeType string) (ai.ImageMatch, error) {
	return f.match, f.err
}
func (f *fakeAssistant) AnalyzeIssue(ctx context.Context, title, description string) (ai.Analysis, error) {
	return f.analysis, f.err
}
func (f *fakeAssistant) DetectDuplicates(ctx context.Context, title, description string, refs []ai.Reference) (ai.DuplicateResult, error) {
	return f.dup, f.err
}

type fixture struct {
	svc    *Service
	issues *mocks.IssueDatabase
	users  *mocks.UserDatabase
	posts  *mocks.PostDatabase
	notes  *recorder
}

func newFixture() *fixture {
	f := &fixture{
		issues: &mocks.IssueDatabase{},
		users:  &mocks.UserDatabase{},
		posts:  &mocks.PostDatabase{},
		notes:  &recorder{},
	}
	f.svc = New(f.issues, f.users, f.posts, f.notes)
	f.svc.Now = func() time.Time { return fixedNow }
	f.svc.Go = func(fn func()) { fn() }
	return f
}

func validIssue() NewIssue {
	return NewIssue{
		Title:       "Pothole on Main St",
		Description: "Deep pothole near the bus stop",
		Email:       "citizen@example.com",
		Phone:       "5550100",
	}
}

func TestCreateIssueValidation(t *testing.T) {
	f := newFixture()
	in := validIssue()
	in.Phone = "  "

	_, err := f.svc.CreateIssue(context.Background(), in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "Title, description, email, and phone are required", err.Error())
	f.issues.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestCreateIssueClassifierUnavailable(t *testing.T) {
	f := newFixture()
	f.svc.Classifier = &fakeClassifier{err: errors.New("connection refused")}

	f.users.On("FindOne", mock.Anything, bson.M{"email": "citizen@example.com"}).Return(nil, mongo.ErrNoDocuments)
	f.users.On("Find", mock.Anything, mock.Anything).Return([]models.User{}, nil)
	f.issues.On("Find", mock.Anything, mock.Anything).Return([]models.Issue{}, nil)
	f.issues.On("InsertOne", mock.Anything, mock.AnythingOfType("*models.Issue")).Return(nil, nil)

	got, err := f.svc.CreateIssue(context.Background(), validIssue())
	require.NoError(t, err)

	issue := got.Issue
	assert.Equal(t, "General", issue.Category)
	assert.Equal(t, models.PriorityPending, issue.Priority)
	assert.False(t, issue.IsFake)
	assert.Equal(t, models.StatusPending, issue.Status)
	assert.Nil(t, issue.AssignedOfficer)
	assert.True(t, strings.HasPrefix(issue.ComplaintID, "CIV-"))
	require.Len(t, issue.Timeline, 1)
	assert.Equal(t, models.TimelineEntry{Status: models.StatusPending, Timestamp: fixedNow, Message: "Issue Reported", ByUser: "User"}, issue.Timeline[0])
	assert.Empty(t, got.Warning)
	assert.Equal(t, AIVerified, got.AIFeedback)
	assert.Empty(t, f.notes.sent)
}

func TestCreateIssueEnrichedAndAssigned(t *testing.T) {
	f := newFixture()
	f.svc.Classifier = &fakeClassifier{
		priority:   "High",
		category:   "Roads",
		duplicates: []mlservice.Duplicate{{ComplaintID: "CIV-1", Score: 0.8}},
	}
	reporterID := primitive.NewObjectID()
	officer := models.User{ID: primitive.NewObjectID(), Name: "Rao", Role: models.RoleOfficer, ActiveTasks: 2, TrustScore: 100}

	f.users.On("FindOne", mock.Anything, bson.M{"email": "citizen@example.com"}).Return(&models.User{ID: reporterID}, nil)
	f.users.On("Find", mock.Anything, mock.Anything).Return([]models.User{officer}, nil)
	f.users.On("AdjustActiveTasks", mock.Anything, officer.ID, 1).Return(nil)
	f.users.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": reporterID}, mock.Anything).
		Return(&models.User{ID: reporterID, Gamification: models.Gamification{XP: 10, Points: 10, Level: 1}}, nil)
	f.users.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{}, nil)
	f.issues.On("InsertOne", mock.Anything, mock.AnythingOfType("*models.Issue")).Return(nil, nil)
	f.issues.On("Find", mock.Anything, mock.Anything).Return([]models.Issue{{ID: primitive.NewObjectID(), ComplaintID: "CIV-1", Title: "Pothole"}}, nil)
	f.posts.On("InsertOne", mock.Anything, mock.MatchedBy(func(p models.Post) bool {
		return p.Author == reporterID && p.LinkedIssue != nil && strings.Contains(p.Content, "#CivicDuty #Roads")
	})).Return(nil, nil)

	got, err := f.svc.CreateIssue(context.Background(), validIssue())
	require.NoError(t, err)

	issue := got.Issue
	assert.Equal(t, "Roads", issue.Category)
	assert.Equal(t, models.PriorityHigh, issue.Priority)
	assert.Equal(t, models.StatusAssigned, issue.Status)
	require.NotNil(t, issue.AssignedOfficer)
	assert.Equal(t, officer.ID, *issue.AssignedOfficer)
	require.Len(t, issue.Timeline, 2)
	assert.Equal(t, "Auto-assigned to Officer Rao (Load: 2)", issue.Timeline[1].Message)
	assert.Equal(t, "System", issue.Timeline[1].ByUser)
	assert.Equal(t, "Potential duplicate of CIV-1", got.Warning)
	assert.Equal(t, AIFlagged, got.AIFeedback)

	require.Len(t, f.notes.sent, 2)
	assert.Equal(t, officer.ID.Hex(), f.notes.sent[0].Recipient)
	assert.Equal(t, "admin", f.notes.sent[1].Recipient)
	assert.Equal(t, "High Issue Alert", f.notes.sent[1].Title)
	assert.Equal(t, models.NotificationWarning, f.notes.sent[1].Type)

	f.users.AssertExpectations(t)
	f.posts.AssertExpectations(t)
}

func TestCreateIssueKeepsUserCategory(t *testing.T) {
	f := newFixture()
	f.svc.Classifier = &fakeClassifier{priority: "Low", category: "Roads"}
	in := validIssue()
	in.Category = "Sanitation"
	in.IsPrivate = true

	f.users.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)
	f.users.On("Find", mock.Anything, mock.Anything).Return(nil, nil)
	f.issues.On("Find", mock.Anything, mock.Anything).Return(nil, nil)
	f.issues.On("InsertOne", mock.Anything, mock.Anything).Return(nil, nil)

	got, err := f.svc.CreateIssue(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "Sanitation", got.Issue.Category)
	assert.Equal(t, "Sanitation", got.Issue.Department)
	assert.Equal(t, models.PriorityLow, got.Issue.Priority)
	assert.Empty(t, f.notes.sent)
}

func TestCreateIssueImageMismatch(t *testing.T) {
	f := newFixture()
	f.svc.Assistant = &fakeAssistant{match: ai.ImageMatch{Matches: false, Reason: "photo of a cat"}}
	in := validIssue()
	in.File = &File{Name: "cat.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}}

	f.users.On("AdjustTrustScore", mock.Anything, bson.M{"email": "citizen@example.com"}, -5).Return(nil)
	f.users.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)
	f.users.On("Find", mock.Anything, mock.Anything).Return(nil, nil)
	f.issues.On("InsertOne", mock.Anything, mock.Anything).Return(nil, nil)

	got, err := f.svc.CreateIssue(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ImageMismatchWarning, got.Warning)
	f.users.AssertExpectations(t)
}

func TestCreateIssueInsertFails(t *testing.T) {
	f := newFixture()
	f.users.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)
	f.users.On("Find", mock.Anything, mock.Anything).Return([]models.User{{ID: primitive.NewObjectID()}}, nil)
	f.issues.On("InsertOne", mock.Anything, mock.Anything).Return(nil, errors.New("mocked-error"))

	_, err := f.svc.CreateIssue(context.Background(), validIssue())
	assert.EqualError(t, err, "mocked-error")
	f.users.AssertNotCalled(t, "AdjustActiveTasks", mock.Anything, mock.Anything, mock.Anything)
}

func TestNewComplaintIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewComplaintID(fixedNow)
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate complaint id %s", id)
		seen[id] = true
	}
}

func TestValidateImageMarksSpam(t *testing.T) {
	f := newFixture()
	f.svc.Classifier = &fakeClassifier{validation: mlservice.ImageValidation{IsValid: false, Confidence: 0.9, Reason: "meme"}}
	id := primitive.NewObjectID()
	reporter := primitive.NewObjectID()
	officer := primitive.NewObjectID()
	issue := &models.Issue{ID: id, Title: "Lamp", Status: models.StatusAssigned, Reporter: &reporter, AssignedOfficer: &officer}

	f.issues.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(issue, nil)
	f.issues.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": id, "status": models.StatusAssigned}, mock.Anything).
		Return(&models.Issue{ID: id, Status: models.StatusSpam}, nil)
	f.users.On("AdjustActiveTasks", mock.Anything, officer, -1).Return(nil)

	f.svc.validateImage(context.Background(), id, "https://img", "Roads")

	require.Len(t, f.notes.sent, 1)
	assert.Equal(t, reporter.Hex(), f.notes.sent[0].Recipient)
	assert.Equal(t, "Issue Flagged as Spam", f.notes.sent[0].Title)
	f.users.AssertExpectations(t)
}

func TestValidateImageFlagsLowConfidence(t *testing.T) {
	f := newFixture()
	f.svc.Classifier = &fakeClassifier{validation: mlservice.ImageValidation{IsValid: true, Confidence: 0.4}}
	id := primitive.NewObjectID()

	f.issues.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(&models.Issue{ID: id, Status: models.StatusPending}, nil)
	f.issues.On("UpdateOne", mock.Anything, bson.M{"_id": id}, mock.MatchedBy(func(u bson.M) bool {
		e := u["$push"].(bson.M)["timeline"].(models.TimelineEntry)
		return e.Message == "Auto-flagged for review: Low validation confidence" && e.Status == models.StatusPending
	})).Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)

	f.svc.validateImage(context.Background(), id, "https://img", "Roads")
	f.issues.AssertExpectations(t)
}

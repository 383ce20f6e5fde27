package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/civix/civix-api/assignment"
	"github.com/civix/civix-api/clients/ai"
	"github.com/civix/civix-api/models"
)

func TestSubmitResolution(t *testing.T) {
	f := newFixture()
	id := primitive.NewObjectID()

	f.issues.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(&models.Issue{ID: id, Status: models.StatusInProgress}, nil)
	f.issues.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": id, "status": models.StatusInProgress}, mock.MatchedBy(func(u bson.M) bool {
		set := u["$set"].(bson.M)
		e := u["$push"].(bson.M)["timeline"].(models.TimelineEntry)
		_, hasProof := set["resolution.proofUrl"]
		return set["resolution.officerNotes"] == "patched" && !hasProof &&
			e.ByUser == models.ActorOfficer && e.Status == models.StatusPendingReview
	})).Return(&models.Issue{ID: id, Status: models.StatusPendingReview}, nil)

	got, err := f.svc.SubmitResolution(context.Background(), id, "patched", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingReview, got.Status)
	f.issues.AssertExpectations(t)
}

func TestSubmitResolutionFromPending(t *testing.T) {
	f := newFixture()
	f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{Status: models.StatusPending}, nil)

	_, err := f.svc.SubmitResolution(context.Background(), primitive.NewObjectID(), "done", nil)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestReviewResolution(t *testing.T) {
	tests := []struct {
		name    string
		approve bool
		to      models.IssueStatus
		message string
	}{
		{"approve", true, models.StatusResolved, "Moderator approved resolution. Waiting for User acknowledgement."},
		{"reject", false, models.StatusInProgress, "Moderator rejected resolution: photo is blurry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			id := primitive.NewObjectID()
			officer := primitive.NewObjectID()
			issue := &models.Issue{ID: id, Status: models.StatusPendingReview, AssignedOfficer: &officer}

			f.issues.On("FindOne", mock.Anything, mock.Anything).Return(issue, nil)
			f.issues.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.MatchedBy(func(u bson.M) bool {
				set := u["$set"].(bson.M)
				approval := set["resolution.moderatorApproval"].(models.ModeratorApproval)
				e := u["$push"].(bson.M)["timeline"].(models.TimelineEntry)
				return approval.IsApproved == tt.approve && set["status"] == tt.to &&
					e.Message == tt.message && e.ByUser == "Moderator (Asha)"
			})).Return(&models.Issue{ID: id, Status: tt.to}, nil)
			if tt.approve {
				f.users.On("AdjustActiveTasks", mock.Anything, officer, -1).Return(nil)
			}

			got, err := f.svc.ReviewResolution(context.Background(), id, tt.approve, "photo is blurry", "Asha", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.to, got.Status)
			f.issues.AssertExpectations(t)
			f.users.AssertExpectations(t)
		})
	}
}

func TestReviewResolutionRequiresPendingReview(t *testing.T) {
	f := newFixture()
	f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{Status: models.StatusAssigned}, nil)

	_, err := f.svc.ReviewResolution(context.Background(), primitive.NewObjectID(), true, "", "", nil)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestAcknowledgeResolution(t *testing.T) {
	t.Run("invalid status", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.AcknowledgeResolution(context.Background(), primitive.NewObjectID(), "Maybe", "")
		assert.True(t, errors.Is(err, ErrValidation))
		assert.Equal(t, "Status must be Confirmed or Disputed", err.Error())
	})

	t.Run("not resolved", func(t *testing.T) {
		f := newFixture()
		f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{Status: models.StatusInProgress}, nil)

		_, err := f.svc.AcknowledgeResolution(context.Background(), primitive.NewObjectID(), "Confirmed", "")
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	})

	t.Run("confirmed closes", func(t *testing.T) {
		f := newFixture()
		id := primitive.NewObjectID()
		f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{ID: id, Status: models.StatusResolved}, nil)
		f.issues.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.MatchedBy(func(u bson.M) bool {
			e := u["$push"].(bson.M)["timeline"].(models.TimelineEntry)
			return e.Status == models.StatusClosed && e.Message == "User confirmed resolution. Case Closed."
		})).Return(&models.Issue{ID: id, Status: models.StatusClosed}, nil)

		got, err := f.svc.AcknowledgeResolution(context.Background(), id, "Confirmed", "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusClosed, got.Status)
	})

	t.Run("disputed reopens and restores load", func(t *testing.T) {
		f := newFixture()
		id := primitive.NewObjectID()
		officer := primitive.NewObjectID()
		f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{ID: id, Status: models.StatusResolved, AssignedOfficer: &officer}, nil)
		f.issues.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything).Return(&models.Issue{ID: id, Status: models.StatusDispute}, nil)
		f.users.On("AdjustActiveTasks", mock.Anything, officer, 1).Return(nil)

		got, err := f.svc.AcknowledgeResolution(context.Background(), id, "Disputed", "still broken")
		require.NoError(t, err)
		assert.Equal(t, models.StatusDispute, got.Status)
		f.users.AssertExpectations(t)
	})
}

func TestAddFeedbackValidation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.AddFeedback(context.Background(), primitive.NewObjectID(), FeedbackInput{Rating: 6})
	assert.True(t, errors.Is(err, ErrValidation))

	f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{Status: models.StatusInProgress}, nil)
	_, err = f.svc.AddFeedback(context.Background(), primitive.NewObjectID(), FeedbackInput{Rating: 4})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "Can only add feedback to Resolved/Closed issues.", err.Error())
}

func TestAddFeedbackScoresComment(t *testing.T) {
	f := newFixture()
	f.svc.Assistant = &fakeAssistant{sentiment: ai.SentimentResult{Score: -0.8, Label: ai.LabelNegative}}
	id := primitive.NewObjectID()

	f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{ID: id, Status: models.StatusResolved}, nil)
	f.issues.On("UpdateOne", mock.Anything, bson.M{"_id": id}, mock.MatchedBy(func(u bson.M) bool {
		fb := u["$push"].(bson.M)["feedbacks"].(models.Feedback)
		return fb.Rating == 1 && fb.SentimentScore != nil && *fb.SentimentScore == -0.8 &&
			fb.SentimentLabel == ai.LabelNegative && fb.Role == "user"
	})).Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)

	res, err := f.svc.AddFeedback(context.Background(), id, FeedbackInput{Rating: 1, Comment: "nothing was fixed at all"})
	require.NoError(t, err)
	assert.Equal(t, ai.LabelNegative, res.Label)
	f.issues.AssertExpectations(t)
}

func TestAddFeedbackSentimentFailureLeavesUnscored(t *testing.T) {
	f := newFixture()
	f.svc.Assistant = &fakeAssistant{err: errors.New("overloaded")}
	id := primitive.NewObjectID()

	f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{ID: id, Status: models.StatusClosed}, nil)
	f.issues.On("UpdateOne", mock.Anything, mock.Anything, mock.MatchedBy(func(u bson.M) bool {
		fb := u["$push"].(bson.M)["feedbacks"].(models.Feedback)
		return fb.SentimentScore == nil
	})).Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)

	res, err := f.svc.AddFeedback(context.Background(), id, FeedbackInput{Rating: 5, Comment: "great work, thanks"})
	require.NoError(t, err)
	assert.Equal(t, ai.LabelNeutral, res.Label)
	assert.Equal(t, 0.0, res.Score)
}

func TestMyIssuesRequiresEmail(t *testing.T) {
	f := newFixture()
	_, err := f.svc.MyIssues(context.Background(), "   ")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestMyIssuesIgnoresCase(t *testing.T) {
	f := newFixture()
	f.issues.On("Find", mock.Anything, bson.M{"email": primitive.Regex{Pattern: `^a\.b@example\.com$`, Options: "i"}}).Return(nil, nil)

	got, err := f.svc.MyIssues(context.Background(), "a.b@example.com")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestUpdateIssue(t *testing.T) {
	f := newFixture()
	_, err := f.svc.UpdateIssue(context.Background(), primitive.NewObjectID(), Changes{})
	assert.EqualError(t, err, "Nothing to update")

	blank := " "
	_, err = f.svc.UpdateIssue(context.Background(), primitive.NewObjectID(), Changes{Title: &blank})
	assert.EqualError(t, err, "Title cannot be empty")

	f.issues.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)
	title := "New title"
	_, err = f.svc.UpdateIssue(context.Background(), primitive.NewObjectID(), Changes{Title: &title})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteIssueReleasesLoad(t *testing.T) {
	f := newFixture()
	id := primitive.NewObjectID()
	officer := primitive.NewObjectID()

	f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{ID: id, Status: models.StatusAssigned, AssignedOfficer: &officer}, nil)
	f.issues.On("DeleteOne", mock.Anything, bson.M{"_id": id}).Return(int64(1), nil)
	f.users.On("AdjustActiveTasks", mock.Anything, officer, -1).Return(nil)

	_, err := f.svc.DeleteIssue(context.Background(), id)
	require.NoError(t, err)
	f.users.AssertExpectations(t)
}

func TestFindDuplicatesClassifierDown(t *testing.T) {
	f := newFixture()
	f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{}, nil)

	_, err := f.svc.FindDuplicates(context.Background(), primitive.NewObjectID())
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.Equal(t, "Failed to perform duplicate check", err.Error())
}

func TestSuggestOfficersFallsBackAcrossDepartments(t *testing.T) {
	f := newFixture()
	other := models.User{ID: primitive.NewObjectID(), Name: "Ravi", Department: "Electricity", Role: models.RoleOfficer, IsAvailable: true}

	f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{Category: "Roads"}, nil)
	f.users.On("Find", mock.Anything, assignment.PoolFilter("Roads")).Return([]models.User{}, nil)
	f.users.On("Find", mock.Anything, assignment.PoolFilter("")).Return([]models.User{other}, nil)

	got, err := f.svc.SuggestOfficers(context.Background(), primitive.NewObjectID())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, assignment.ReasonCrossDepartment, got[0].Reason)
}

func TestAssignedIssuesLinksSubjectByEmail(t *testing.T) {
	f := newFixture()
	officer := models.User{ID: primitive.NewObjectID(), Email: "o@example.com", Role: models.RoleOfficer}

	f.users.On("FindOne", mock.Anything, bson.M{"clerkUserId": "user_abc"}).Return(nil, mongo.ErrNoDocuments)
	f.users.On("FindOne", mock.Anything, bson.M{"email": "o@example.com"}).Return(&officer, nil)
	f.users.On("UpdateOne", mock.Anything, bson.M{"_id": officer.ID}, bson.M{"$set": bson.M{"clerkUserId": "user_abc"}}).Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)
	f.issues.On("Find", mock.Anything, mock.MatchedBy(func(filter bson.M) bool {
		return filter["assignedOfficer"] == officer.ID
	})).Return([]models.Issue{{Title: "Lamp"}}, nil)

	got, err := f.svc.AssignedIssues(context.Background(), "user_abc", "o@example.com")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	f.users.AssertExpectations(t)
}

func TestAssignedIssuesUnknownCaller(t *testing.T) {
	f := newFixture()
	f.users.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)

	_, err := f.svc.AssignedIssues(context.Background(), "user_abc", "ghost@example.com")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "User profile not found. Please contact Admin.", err.Error())
}

func TestAnalysisReturnsCachedResult(t *testing.T) {
	f := newFixture()
	id := primitive.NewObjectID()
	cached := &models.AIAnalysis{Priority: "High", Category: "Roads"}
	f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{ID: id, AIAnalysis: cached}, nil)

	got, err := f.svc.Analysis(context.Background(), &id, "t", "d")
	require.NoError(t, err)
	assert.Same(t, cached, got)
}

func TestAnalysisCachesFreshResult(t *testing.T) {
	f := newFixture()
	f.svc.Assistant = &fakeAssistant{analysis: ai.Analysis{Priority: "Medium", Category: "Sanitation", Reasoning: "overflowing bins"}}
	id := primitive.NewObjectID()

	f.issues.On("FindOne", mock.Anything, mock.Anything).Return(&models.Issue{ID: id}, nil)
	f.issues.On("UpdateOne", mock.Anything, bson.M{"_id": id}, mock.MatchedBy(func(u bson.M) bool {
		set := u["$set"].(bson.M)
		return set["category"] == "Sanitation" && set["isAnalyzed"] == true
	})).Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)

	got, err := f.svc.Analysis(context.Background(), &id, "Bins", "Overflowing for days")
	require.NoError(t, err)
	assert.Equal(t, "Medium", got.Priority)
	assert.Equal(t, fixedNow, got.AnalyzedAt)
	f.issues.AssertExpectations(t)
}

func TestAnalysisWithoutAssistant(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Analysis(context.Background(), nil, "t", "d")
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.Equal(t, "AI Service Unavailable", err.Error())
}

func TestSemanticDuplicates(t *testing.T) {
	f := newFixture()
	f.svc.Assistant = &fakeAssistant{dup: ai.DuplicateResult{IsDuplicate: true, SimilarID: "CIV-7", Confidence: 0.9}}
	f.issues.On("Find", mock.Anything, bson.M{}).Return([]models.Issue{{ComplaintID: "CIV-7", Title: "Pothole"}}, nil)

	got, err := f.svc.SemanticDuplicates(context.Background(), nil, "Pothole", "Main st")
	require.NoError(t, err)
	assert.True(t, got.IsDuplicate)
	assert.Equal(t, "CIV-7", got.SimilarID)
}

package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/api/handlers"
	"github.com/civix/civix-api/assignment"
	"github.com/civix/civix-api/clients/mlservice"
	"github.com/civix/civix-api/databases/mocks"
	"github.com/civix/civix-api/lifecycle"
	"github.com/civix/civix-api/models"
)

type stubImages struct {
	tags    mlservice.ImageTags
	caption string
	err     error
}

func (s stubImages) AnalyzeImage(ctx context.Context, imageURL string) (mlservice.ImageTags, error) {
	return s.tags, s.err
}

func (s stubImages) GenerateCaption(ctx context.Context, imageURL string) (string, error) {
	return s.caption, s.err
}

func issueHandler() (handlers.Issue, *mocks.IssueDatabase, *mocks.UserDatabase) {
	issues := &mocks.IssueDatabase{}
	users := &mocks.UserDatabase{}
	svc := lifecycle.New(issues, users, &mocks.PostDatabase{}, &notified{})
	return handlers.Issue{Svc: svc}, issues, users
}

func TestIssue_ByIDBadHex(t *testing.T) {
	h, _, _ := issueHandler()

	rr := serve(h.IssueByIDHandler, newRequest("GET", "/api/issues/nope", "", nil, map[string]string{"id": "nope"}))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "failed to get objectID from Hex", errorMessage(t, rr))
}

func TestIssue_ByIDNotFound(t *testing.T) {
	h, issues, _ := issueHandler()
	id := primitive.NewObjectID()
	issues.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(nil, mongo.ErrNoDocuments)

	rr := serve(h.IssueByIDHandler, newRequest("GET", "/api/issues/"+id.Hex(), "", nil, map[string]string{"id": id.Hex()}))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Issue not found", errorMessage(t, rr))
}

func TestIssue_ListEmpty(t *testing.T) {
	h, issues, _ := issueHandler()
	issues.On("Find", mock.Anything, bson.M{"status": "Pending"}).Return(nil, nil)

	rr := serve(h.IssuesHandler, newRequest("GET", "/api/issues?status=Pending", "", nil, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", rr.Body.String())
}

func TestIssue_MyIssuesNeedsEmail(t *testing.T) {
	h, _, _ := issueHandler()

	rr := serve(h.MyIssuesHandler, newRequest("GET", "/api/issues/my", "", nil, nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Email is required", errorMessage(t, rr))
}

func TestIssue_UpdateStatus(t *testing.T) {
	id := primitive.NewObjectID()
	stored := &models.Issue{ID: id, ComplaintID: "CIV-1-abc", Status: models.StatusPending}

	tests := []struct {
		name    string
		body    string
		code    int
		message string
	}{
		{"unknown status", `{"newStatus":"Finished"}`, http.StatusBadRequest, `Unknown status "Finished"`},
		{"skips the graph", `{"newStatus":"Closed"}`, http.StatusConflict, "Cannot move issue from Pending to Closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, issues, _ := issueHandler()
			issues.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(stored, nil)

			rr := serve(h.UpdateStatusHandler, newRequest("PUT", "/api/issues/"+id.Hex()+"/status", tt.body, nil, map[string]string{"id": id.Hex()}))

			assert.Equal(t, tt.code, rr.Code)
			assert.Equal(t, tt.message, errorMessage(t, rr))
			issues.AssertNotCalled(t, "FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything)
		})
	}

	for name, body := range map[string]string{
		"moves to rejected":     `{"newStatus":"Rejected","remarks":"dup"}`,
		"accepts the old field": `{"status":"Rejected","remarks":"dup"}`,
	} {
		t.Run(name, func(t *testing.T) {
			h, issues, _ := issueHandler()
			issues.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(stored, nil)
			issues.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": id, "status": models.StatusPending}, mock.MatchedBy(func(u bson.M) bool {
				e := u["$push"].(bson.M)["timeline"].(models.TimelineEntry)
				return u["$set"].(bson.M)["status"] == models.StatusRejected && e.Message == "dup"
			})).Return(&models.Issue{ID: id, ComplaintID: "CIV-1-abc", Status: models.StatusRejected}, nil)

			rr := serve(h.UpdateStatusHandler, newRequest("PATCH", "/api/issues/"+id.Hex()+"/status", body, nil, map[string]string{"id": id.Hex()}))

			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			var got models.Issue
			decodeJSON(t, rr, &got)
			assert.Equal(t, models.StatusRejected, got.Status)
		})
	}
}

func TestIssue_UpdateNothing(t *testing.T) {
	h, issues, _ := issueHandler()
	id := primitive.NewObjectID()

	rr := serve(h.UpdateIssueHandler, newRequest("PUT", "/api/issues/"+id.Hex(), `{}`, nil, map[string]string{"id": id.Hex()}))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Nothing to update", errorMessage(t, rr))
	issues.AssertNotCalled(t, "FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything)
}

func TestIssue_Delete(t *testing.T) {
	h, issues, _ := issueHandler()
	id := primitive.NewObjectID()
	issues.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(&models.Issue{ID: id, Status: models.StatusResolved}, nil)
	issues.On("DeleteOne", mock.Anything, bson.M{"_id": id}).Return(int64(1), nil)

	rr := serve(h.DeleteIssueHandler, newRequest("DELETE", "/api/issues/"+id.Hex(), "", nil, map[string]string{"id": id.Hex()}))

	require.Equal(t, http.StatusOK, rr.Code)
	var got models.MessageResponse
	decodeJSON(t, rr, &got)
	assert.Equal(t, "Issue deleted successfully", got.Message)
}

func TestIssue_ReviewNeedsDecision(t *testing.T) {
	h, _, _ := issueHandler()
	id := primitive.NewObjectID()

	rr := serve(h.ReviewResolutionHandler, newRequest("POST", "/api/issues/"+id.Hex()+"/review", `{"remarks":"ok"}`, nil, map[string]string{"id": id.Hex()}))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "isApproved is required", errorMessage(t, rr))
}

func TestIssue_ReviewApproves(t *testing.T) {
	for name, flag := range map[string]string{"boolean": `true`, "string": `"true"`} {
		t.Run(name, func(t *testing.T) {
			h, issues, _ := issueHandler()
			id := primitive.NewObjectID()
			modID := primitive.NewObjectID()
			mod := &api.Identity{UserID: modID.Hex(), Name: "Mo", Role: models.RoleModerator}
			issues.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(&models.Issue{ID: id, Status: models.StatusPendingReview}, nil)
			issues.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": id, "status": models.StatusPendingReview}, mock.MatchedBy(func(u bson.M) bool {
				set := u["$set"].(bson.M)
				approval := set["resolution.moderatorApproval"].(models.ModeratorApproval)
				e := u["$push"].(bson.M)["timeline"].(models.TimelineEntry)
				return set["status"] == models.StatusResolved && approval.IsApproved && approval.Remarks == "good work" &&
					*approval.ReviewedBy == modID && e.ByUser == "Moderator (Mo)"
			})).Return(&models.Issue{ID: id, Status: models.StatusResolved}, nil)

			body := `{"isApproved":` + flag + `,"remarks":"good work","reviewedBy":"someone"}`
			rr := serve(h.ReviewResolutionHandler, newRequest("POST", "/api/issues/"+id.Hex()+"/review", body, mod, map[string]string{"id": id.Hex()}))

			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		})
	}
}

func TestIssue_ReviewBadFlag(t *testing.T) {
	h, issues, _ := issueHandler()
	id := primitive.NewObjectID()

	rr := serve(h.ReviewResolutionHandler, newRequest("POST", "/api/issues/"+id.Hex()+"/review", `{"isApproved":"maybe"}`, nil, map[string]string{"id": id.Hex()}))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "failed to decode request", errorMessage(t, rr))
	issues.AssertNotCalled(t, "FindOne", mock.Anything, mock.Anything)
}

func TestIssue_AcknowledgeUnknownAnswer(t *testing.T) {
	h, _, _ := issueHandler()
	id := primitive.NewObjectID()

	rr := serve(h.AcknowledgeHandler, newRequest("POST", "/api/issues/"+id.Hex()+"/acknowledge", `{"status":"Maybe"}`, nil, map[string]string{"id": id.Hex()}))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Status must be Confirmed or Disputed", errorMessage(t, rr))
}

func TestIssue_SubmitResolutionReadsOfficerNotes(t *testing.T) {
	h, issues, _ := issueHandler()
	id := primitive.NewObjectID()
	issues.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(&models.Issue{ID: id, Status: models.StatusInProgress}, nil)
	issues.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": id, "status": models.StatusInProgress}, mock.MatchedBy(func(u bson.M) bool {
		set := u["$set"].(bson.M)
		_, uploaded := set["resolution.proofUrl"]
		return set["resolution.officerNotes"] == "Filled and rolled" && set["status"] == models.StatusPendingReview && !uploaded
	})).Return(&models.Issue{ID: id, Status: models.StatusPendingReview}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("officerNotes", "Filled and rolled"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest("POST", "/api/issues/"+id.Hex()+"/resolution", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = mux.SetURLVars(req, map[string]string{"id": id.Hex()})

	rr := serve(h.SubmitResolutionHandler, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	issues.AssertExpectations(t)
}

func TestIssue_AssignManual(t *testing.T) {
	id := primitive.NewObjectID()
	officer := models.User{ID: primitive.NewObjectID(), Name: "Bose", Role: models.RoleOfficer}

	t.Run("bad officer id", func(t *testing.T) {
		h, issues, _ := issueHandler()
		body := `{"issueId":"` + id.Hex() + `","officerId":"nope"}`

		rr := serve(h.AssignManualHandler, newRequest("POST", "/api/issues/assign-manual", body, nil, nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		issues.AssertNotCalled(t, "FindOne", mock.Anything, mock.Anything)
	})

	t.Run("unknown officer", func(t *testing.T) {
		h, issues, users := issueHandler()
		issues.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(&models.Issue{ID: id, Status: models.StatusPending}, nil)
		users.On("FindOne", mock.Anything, bson.M{"_id": officer.ID, "role": models.RoleOfficer}).Return(nil, mongo.ErrNoDocuments)
		body := `{"issueId":"` + id.Hex() + `","officerId":"` + officer.ID.Hex() + `"}`

		rr := serve(h.AssignManualHandler, newRequest("POST", "/api/issues/assign-manual", body, nil, nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "Officer not found", errorMessage(t, rr))
	})

	t.Run("assigns", func(t *testing.T) {
		h, issues, users := issueHandler()
		issues.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(&models.Issue{ID: id, Title: "Lamp", Status: models.StatusPending}, nil)
		users.On("FindOne", mock.Anything, bson.M{"_id": officer.ID, "role": models.RoleOfficer}).Return(&officer, nil)
		issues.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": id, "status": models.StatusPending}, mock.Anything).
			Return(&models.Issue{ID: id, Status: models.StatusAssigned, AssignedOfficer: &officer.ID}, nil)
		users.On("AdjustActiveTasks", mock.Anything, officer.ID, 1).Return(nil)
		body := `{"issueId":"` + id.Hex() + `","officerId":"` + officer.ID.Hex() + `"}`

		rr := serve(h.AssignManualHandler, newRequest("POST", "/api/issues/assign-manual", body, nil, nil))

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var got models.Issue
		decodeJSON(t, rr, &got)
		assert.Equal(t, models.StatusAssigned, got.Status)
		users.AssertExpectations(t)
	})
}

func TestIssue_SuggestOfficers(t *testing.T) {
	h, issues, users := issueHandler()
	id := primitive.NewObjectID()
	issues.On("FindOne", mock.Anything, bson.M{"_id": id}).Return(&models.Issue{ID: id, Department: "Roads"}, nil)
	users.On("Find", mock.Anything, assignment.PoolFilter("Roads")).Return([]models.User{
		{ID: primitive.NewObjectID(), Name: "Busy", ActiveTasks: 3, TrustScore: 100},
		{ID: primitive.NewObjectID(), Name: "Idle", TrustScore: 100},
	}, nil)

	rr := serve(h.SuggestOfficersHandler, newRequest("GET", "/api/issues/ai-suggest/"+id.Hex(), "", nil, map[string]string{"id": id.Hex()}))

	require.Equal(t, http.StatusOK, rr.Code)
	var got []assignment.Suggestion
	decodeJSON(t, rr, &got)
	require.Len(t, got, 2)
	assert.Equal(t, "Idle", got[0].Name)
	assert.Equal(t, 100, got[0].Score)
	assert.Equal(t, 55, got[1].Score)
}

func TestIssue_OfficersByDepartment(t *testing.T) {
	h, _, users := issueHandler()
	users.On("Find", mock.Anything, bson.M{"role": models.RoleOfficer, "department": "Roads"}).Return(nil, nil)

	rr := serve(h.OfficersHandler, newRequest("GET", "/api/issues/officers?department=Roads", "", nil, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", rr.Body.String())
	users.AssertExpectations(t)
}

func TestIssue_VoteNeedsAccount(t *testing.T) {
	h, issues, _ := issueHandler()
	id := primitive.NewObjectID()
	anon := &api.Identity{Subject: "user_2abc", Role: models.RoleUser}

	rr := serve(h.UpvoteHandler, newRequest("POST", "/api/issues/"+id.Hex()+"/upvote", "", anon, map[string]string{"id": id.Hex()}))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	issues.AssertNotCalled(t, "FindOne", mock.Anything, mock.Anything)
}

func TestIssue_AnalyzeImage(t *testing.T) {
	t.Run("no service", func(t *testing.T) {
		h, _, _ := issueHandler()
		rr := serve(h.AnalyzeImageHandler, newRequest("POST", "/api/analyze-image", `{"imageUrl":"https://img/x.jpg"}`, nil, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("missing url", func(t *testing.T) {
		h, _, _ := issueHandler()
		h.Images = stubImages{}
		rr := serve(h.AnalyzeImageHandler, newRequest("POST", "/api/analyze-image", `{}`, nil, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "imageUrl is required", errorMessage(t, rr))
	})

	t.Run("upstream failure", func(t *testing.T) {
		h, _, _ := issueHandler()
		h.Images = stubImages{err: errors.New("boom")}
		rr := serve(h.AnalyzeImageHandler, newRequest("POST", "/api/analyze-image", `{"imageUrl":"https://img/x.jpg"}`, nil, nil))
		assert.Equal(t, http.StatusBadGateway, rr.Code)
	})

	t.Run("tags", func(t *testing.T) {
		h, _, _ := issueHandler()
		h.Images = stubImages{tags: mlservice.ImageTags{Tags: []string{"pothole"}, Confidence: 0.9}}
		rr := serve(h.AnalyzeImageHandler, newRequest("POST", "/api/analyze-image", `{"imageUrl":"https://img/x.jpg"}`, nil, nil))
		require.Equal(t, http.StatusOK, rr.Code)
		var got mlservice.ImageTags
		decodeJSON(t, rr, &got)
		assert.Equal(t, []string{"pothole"}, got.Tags)
	})
}

func TestIssue_GenerateCaption(t *testing.T) {
	h, _, _ := issueHandler()
	h.Images = stubImages{caption: "A deep pothole on a city road"}

	rr := serve(h.GenerateCaptionHandler, newRequest("POST", "/api/generate-caption", `{"imageUrl":"https://img/x.jpg"}`, nil, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]string
	decodeJSON(t, rr, &got)
	assert.Equal(t, "A deep pothole on a city road", got["description"])
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/clients/mlservice"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/lifecycle"
	"github.com/civix/civix-api/models"
)

const maxUploadSize = 10 << 20

// ImageDescriber labels and captions photos attached to issues
type ImageDescriber interface {
	AnalyzeImage(ctx context.Context, imageURL string) (mlservice.ImageTags, error)
	GenerateCaption(ctx context.Context, imageURL string) (string, error)
}

// Issue exported for testing purposes
type Issue struct {
	Svc    *lifecycle.Service
	Images ImageDescriber
}

type newIssueRequest struct {
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	Phone         string              `json:"phone"`
	Email         string              `json:"email"`
	NotifyByEmail bool                `json:"notifyByEmail"`
	IssueType     string              `json:"issueType"`
	IsPrivate     bool                `json:"isPrivate"`
	Location      string              `json:"location"`
	Coordinates   *models.Coordinates `json:"coordinates"`
	Category      string              `json:"category"`
}

// CreateIssueHandler accepts a new report as multipart form data with an optional
// photo in the file field, or as a JSON body without one
func (i Issue) CreateIssueHandler(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.NewIssue
	if isJSON(r) {
		var req newIssueRequest
		if !decodeBody(w, r, &req) {
			return
		}
		in = lifecycle.NewIssue{
			Title:         req.Title,
			Description:   req.Description,
			Phone:         req.Phone,
			Email:         req.Email,
			NotifyByEmail: req.NotifyByEmail,
			IssueType:     req.IssueType,
			IsPrivate:     req.IsPrivate,
			Location:      req.Location,
			Coordinates:   req.Coordinates,
			Category:      req.Category,
		}
	} else {
		if err := parseForm(r); err != nil {
			config.ErrorStatus("failed to parse form", http.StatusBadRequest, w, err)
			return
		}
		file, err := readUpload(r, "file")
		if err != nil {
			config.ErrorStatus("failed to read uploaded file", http.StatusBadRequest, w, err)
			return
		}
		coords, err := formCoordinates(r)
		if err != nil {
			config.ErrorStatus("invalid coordinates", http.StatusBadRequest, w, err)
			return
		}
		in = lifecycle.NewIssue{
			Title:         r.FormValue("title"),
			Description:   r.FormValue("description"),
			Phone:         r.FormValue("phone"),
			Email:         r.FormValue("email"),
			NotifyByEmail: formBool(r, "notifyByEmail"),
			IssueType:     r.FormValue("issueType"),
			IsPrivate:     formBool(r, "isPrivate"),
			Location:      r.FormValue("location"),
			Coordinates:   coords,
			Category:      r.FormValue("category"),
			File:          file,
		}
	}
	if id, ok := api.IdentityFrom(r.Context()); ok {
		if oid, ok := id.ObjectID(); ok {
			in.Reporter = &oid
		}
	}

	created, err := i.Svc.CreateIssue(r.Context(), in)
	if err != nil {
		lifecycleError(w, err, "failed to create issue")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// IssuesHandler lists issues, newest first
func (i Issue) IssuesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issues, err := i.Svc.List(ctx, lifecycle.ListFilter{
		Status:   q.Get("status"),
		Category: q.Get("category"),
		Priority: q.Get("priority"),
		Limit:    queryInt(r, "limit", 0),
		Page:     queryInt(r, "page", 0),
	})
	if err != nil {
		config.ErrorStatus("failed to get issues", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

// MyIssuesHandler lists the issues filed under the email in the query, or the caller's email
func (i Issue) MyIssuesHandler(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		if id, ok := api.IdentityFrom(r.Context()); ok {
			email = id.Email
		}
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issues, err := i.Svc.MyIssues(ctx, email)
	if err != nil {
		lifecycleError(w, err, "failed to get issues")
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

// IssueByIDHandler returns one issue
func (i Issue) IssueByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issue, err := i.Svc.Get(ctx, id)
	if err != nil {
		lifecycleError(w, err, "failed to get issue")
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// UpdateIssueHandler edits an issue's descriptive fields
func (i Issue) UpdateIssueHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var changes lifecycle.Changes
	if !decodeBody(w, r, &changes) {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issue, err := i.Svc.UpdateIssue(ctx, id, changes)
	if err != nil {
		lifecycleError(w, err, "failed to update issue")
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// DeleteIssueHandler removes an issue
func (i Issue) DeleteIssueHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if _, err := i.Svc.DeleteIssue(ctx, id); err != nil {
		lifecycleError(w, err, "failed to delete issue")
		return
	}
	writeMessage(w, http.StatusOK, "Issue deleted successfully")
}

type statusRequest struct {
	NewStatus string `json:"newStatus"`
	Status    string `json:"status"` // older clients
	Remarks   string `json:"remarks"`
}

func (s statusRequest) target() string {
	if s.NewStatus != "" {
		return s.NewStatus
	}
	return s.Status
}

type acknowledgeRequest struct {
	Status  string `json:"status"`
	Remarks string `json:"remarks"`
}

// UpdateStatusHandler moves an issue to a new status
func (i Issue) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issue, err := i.Svc.UpdateStatus(ctx, id, req.target(), req.Remarks)
	if err != nil {
		lifecycleError(w, err, "failed to update status")
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

type assignRequest struct {
	IssueID   string `json:"issueId"`
	OfficerID string `json:"officerId"`
}

// AssignManualHandler puts a chosen officer on an issue
func (i Issue) AssignManualHandler(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	issueID, err := primitive.ObjectIDFromHex(req.IssueID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	officerID, err := primitive.ObjectIDFromHex(req.OfficerID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issue, err := i.Svc.ManualAssign(ctx, issueID, officerID)
	if err != nil {
		lifecycleError(w, err, "failed to assign officer")
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// SuggestOfficersHandler ranks officers for an issue
func (i Issue) SuggestOfficersHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	suggestions, err := i.Svc.SuggestOfficers(ctx, id)
	if err != nil {
		lifecycleError(w, err, "failed to suggest officers")
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// OfficersHandler lists officers, optionally for one department
func (i Issue) OfficersHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	officers, err := i.Svc.OfficersByDepartment(ctx, r.URL.Query().Get("department"))
	if err != nil {
		config.ErrorStatus("failed to get officers", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, officers)
}

// AssignedIssuesHandler lists the caller's open assignments
func (i Issue) AssignedIssuesHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := api.IdentityFrom(r.Context())
	subject := id.Subject
	if subject == "" {
		subject = id.UserID
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issues, err := i.Svc.AssignedIssues(ctx, subject, id.Email)
	if err != nil {
		lifecycleError(w, err, "failed to get assigned issues")
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

// DuplicatesHandler lists issues the classifier thinks repeat this one
func (i Issue) DuplicatesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	dups, err := i.Svc.FindDuplicates(r.Context(), id)
	if err != nil {
		lifecycleError(w, err, "failed to find duplicates")
		return
	}
	writeJSON(w, http.StatusOK, dups)
}

// SubmitResolutionHandler records an officer's proof of work
func (i Issue) SubmitResolutionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := parseForm(r); err != nil {
		config.ErrorStatus("failed to parse form", http.StatusBadRequest, w, err)
		return
	}
	proof, err := readUpload(r, "file")
	if err != nil {
		config.ErrorStatus("failed to read uploaded file", http.StatusBadRequest, w, err)
		return
	}

	notes := r.FormValue("officerNotes")
	if notes == "" {
		notes = r.FormValue("notes")
	}
	issue, err := i.Svc.SubmitResolution(r.Context(), id, notes, proof)
	if err != nil {
		lifecycleError(w, err, "failed to submit resolution")
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

type reviewRequest struct {
	Approved   *looseBool `json:"isApproved"`
	Remarks    string     `json:"remarks"`
	ReviewedBy string     `json:"reviewedBy"`
}

// looseBool accepts true/false as JSON booleans or strings
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = looseBool(t)
	case string:
		p, err := strconv.ParseBool(t)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", t)
		}
		*b = looseBool(p)
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// ReviewResolutionHandler approves or rejects a submitted resolution
func (i Issue) ReviewResolutionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Approved == nil {
		config.ErrorStatus("isApproved is required", http.StatusBadRequest, w, errors.New("missing isApproved"))
		return
	}

	caller, _ := api.IdentityFrom(r.Context())
	reviewer := caller.Name
	if reviewer == "" {
		reviewer = caller.Email
	}
	if reviewer == "" {
		reviewer = req.ReviewedBy
	}
	var reviewerID *primitive.ObjectID
	if oid, ok := caller.ObjectID(); ok {
		reviewerID = &oid
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issue, err := i.Svc.ReviewResolution(ctx, id, bool(*req.Approved), req.Remarks, reviewer, reviewerID)
	if err != nil {
		lifecycleError(w, err, "failed to review resolution")
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// AcknowledgeHandler records the reporter's answer to a resolution
func (i Issue) AcknowledgeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req acknowledgeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issue, err := i.Svc.AcknowledgeResolution(ctx, id, req.Status, req.Remarks)
	if err != nil {
		lifecycleError(w, err, "failed to acknowledge resolution")
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

type feedbackRequest struct {
	IssueID string `json:"issueId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type feedbackResponse struct {
	Message string `json:"message"`
	Sentiment interface{} `json:"sentiment,omitempty"`
}

// FeedbackHandler rates a resolved issue
func (i Issue) FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	issueID, err := primitive.ObjectIDFromHex(req.IssueID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	caller, _ := api.IdentityFrom(r.Context())
	in := lifecycle.FeedbackInput{Rating: req.Rating, Comment: req.Comment, Role: string(caller.Role)}
	if oid, ok := caller.ObjectID(); ok {
		in.GivenBy = &oid
	}

	sentiment, err := i.Svc.AddFeedback(r.Context(), issueID, in)
	if err != nil {
		lifecycleError(w, err, "failed to add feedback")
		return
	}
	resp := feedbackResponse{Message: "Feedback submitted successfully"}
	if sentiment != nil {
		resp.Sentiment = sentiment
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpvoteHandler toggles the caller's upvote
func (i Issue) UpvoteHandler(w http.ResponseWriter, r *http.Request) {
	i.vote(w, r, true)
}

// DownvoteHandler toggles the caller's downvote
func (i Issue) DownvoteHandler(w http.ResponseWriter, r *http.Request) {
	i.vote(w, r, false)
}

func (i Issue) vote(w http.ResponseWriter, r *http.Request, up bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	_, userID, ok := callerAccount(w, r)
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	issue, err := i.Svc.Vote(ctx, id, userID, up)
	if err != nil {
		lifecycleError(w, err, "failed to record vote")
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

type imageRequest struct {
	ImageURL string `json:"imageUrl"`
}

// AnalyzeImageHandler returns tags for a photo
func (i Issue) AnalyzeImageHandler(w http.ResponseWriter, r *http.Request) {
	url, ok := i.imageURL(w, r)
	if !ok {
		return
	}
	tags, err := i.Images.AnalyzeImage(r.Context(), url)
	if err != nil {
		config.ErrorStatus("Image analysis failed", http.StatusBadGateway, w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

// GenerateCaptionHandler describes a photo in a sentence
func (i Issue) GenerateCaptionHandler(w http.ResponseWriter, r *http.Request) {
	url, ok := i.imageURL(w, r)
	if !ok {
		return
	}
	caption, err := i.Images.GenerateCaption(r.Context(), url)
	if err != nil {
		config.ErrorStatus("Caption generation failed", http.StatusBadGateway, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"description": caption})
}

func (i Issue) imageURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	if i.Images == nil {
		config.ErrorStatus("Image service unavailable", http.StatusServiceUnavailable, w, errors.New("ml service not configured"))
		return "", false
	}
	var req imageRequest
	if !decodeBody(w, r, &req) {
		return "", false
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		config.ErrorStatus("imageUrl is required", http.StatusBadRequest, w, errors.New("missing imageUrl"))
		return "", false
	}
	return req.ImageURL, true
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

func parseForm(r *http.Request) error {
	err := r.ParseMultipartForm(maxUploadSize)
	if errors.Is(err, http.ErrNotMultipart) {
		return r.ParseForm()
	}
	return err
}

// readUpload returns the named file from a multipart form, or nil when none was sent
func readUpload(r *http.Request, field string) (*lifecycle.File, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxUploadSize {
		return nil, fmt.Errorf("file %s is larger than %d bytes", hdr.Filename, maxUploadSize)
	}
	ct := hdr.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	zap.S().Debugw("received upload", "field", field, "name", hdr.Filename, "size", len(data))
	return &lifecycle.File{Name: hdr.Filename, ContentType: ct, Data: data}, nil
}

// formCoordinates reads either a JSON coordinates field or separate lat and lng fields
func formCoordinates(r *http.Request) (*models.Coordinates, error) {
	if v := r.FormValue("coordinates"); v != "" {
		var c models.Coordinates
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return nil, err
		}
		return &c, nil
	}
	lat, lng := r.FormValue("lat"), r.FormValue("lng")
	if lat == "" || lng == "" {
		return nil, nil
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, err
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return nil, err
	}
	return &models.Coordinates{Lat: la, Lng: ln}, nil
}

func formBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.FormValue(key))
	return b
}

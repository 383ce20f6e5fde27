package handlers

import (
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/lifecycle"
)

// Moderator exported for testing purposes
type Moderator struct {
	Svc *lifecycle.Service
}

type moderatorRequest struct {
	IssueID     string `json:"issueId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (m moderatorRequest) issueID() (*primitive.ObjectID, error) {
	if m.IssueID == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(m.IssueID)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// AnalyzeHandler triages an issue with the assistant
func (m Moderator) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req moderatorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := req.issueID()
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	res, err := m.Svc.Analysis(r.Context(), id, req.Title, req.Description)
	if err != nil {
		lifecycleError(w, err, "AI Service Unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DuplicatesHandler asks the assistant whether an issue repeats a recent report
func (m Moderator) DuplicatesHandler(w http.ResponseWriter, r *http.Request) {
	var req moderatorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := req.issueID()
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	res, err := m.Svc.SemanticDuplicates(r.Context(), id, req.Title, req.Description)
	if err != nil {
		lifecycleError(w, err, "AI Service Unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

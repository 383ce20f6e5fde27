package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/gamification"
	"github.com/civix/civix-api/models"
)

// Poll exported for testing purposes
type Poll struct {
	DB  databases.PollDatabase
	UDB databases.UserDatabase
}

type createPollRequest struct {
	Question    string     `json:"question"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Options     []string   `json:"options"`
	Category    string     `json:"category"`
	ExpiresAt   *time.Time `json:"expiresAt"`
}

type voteRequest struct {
	OptionIndex *int `json:"optionIndex"`
}

// PollsHandler lists active polls, newest first
func (p Poll) PollsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	polls, err := p.DB.Find(ctx, bson.M{"isActive": true}, opts)
	if err != nil {
		config.ErrorStatus("failed to get polls", http.StatusInternalServerError, w, err)
		return
	}
	if polls == nil {
		polls = []models.Poll{}
	}
	writeJSON(w, http.StatusOK, polls)
}

// CreatePollHandler opens a new poll with at least two options
func (p Poll) CreatePollHandler(w http.ResponseWriter, r *http.Request) {
	var req createPollRequest
	if !decodeBody(w, r, &req) {
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		question = strings.TrimSpace(req.Title)
	}
	var opts []models.PollOption
	for _, o := range req.Options {
		if o = strings.TrimSpace(o); o != "" {
			opts = append(opts, models.PollOption{Text: o})
		}
	}
	if question == "" || len(opts) < 2 {
		config.ErrorStatus("Invalid poll data", http.StatusBadRequest, w, errors.New("a poll needs a question and at least two options"))
		return
	}

	now := time.Now().UTC()
	poll := models.Poll{
		ID:          primitive.NewObjectID(),
		Question:    question,
		Description: strings.TrimSpace(req.Description),
		Options:     opts,
		VotedBy:     []primitive.ObjectID{},
		Category:    req.Category,
		ExpiresAt:   req.ExpiresAt,
		IsActive:    true,
		CreatedAt:   now,
	}
	if poll.Category == "" {
		poll.Category = "General"
	}
	if id, ok := api.IdentityFrom(r.Context()); ok {
		if oid, ok := id.ObjectID(); ok {
			poll.CreatedBy = &oid
		}
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	if _, err := p.DB.InsertOne(ctx, poll); err != nil {
		config.ErrorStatus("failed to create poll", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, poll)
}

// VotePollHandler records the caller's single vote on a poll
func (p Poll) VotePollHandler(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pathID(w, r, "pollId")
	if !ok {
		return
	}
	_, userID, ok := callerAccount(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OptionIndex == nil {
		config.ErrorStatus("Missing optionIndex", http.StatusBadRequest, w, errors.New("missing optionIndex"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	poll, err := p.DB.FindOne(ctx, bson.M{"_id": pollID})
	if errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("Poll not found", http.StatusNotFound, w, err)
		return
	}
	if err != nil {
		config.ErrorStatus("failed to get poll", http.StatusInternalServerError, w, err)
		return
	}
	idx := *req.OptionIndex
	if idx < 0 || idx >= len(poll.Options) {
		config.ErrorStatus("Invalid option index", http.StatusBadRequest, w, errors.New("option index out of range"))
		return
	}
	if !poll.IsActive || (poll.ExpiresAt != nil && poll.ExpiresAt.Before(time.Now())) {
		config.ErrorStatus("This poll is closed", http.StatusBadRequest, w, errors.New("poll closed"))
		return
	}

	// votedBy in the filter makes the second of two concurrent votes miss
	after := options.After
	updated, err := p.DB.FindOneAndUpdate(ctx,
		bson.M{"_id": pollID, "votedBy": bson.M{"$ne": userID}},
		bson.M{
			"$inc":      bson.M{"options." + strconv.Itoa(idx) + ".votes": 1},
			"$addToSet": bson.M{"votedBy": userID},
		},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	)
	if errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("You have already voted", http.StatusBadRequest, w, err)
		return
	}
	if err != nil {
		config.ErrorStatus("failed to record vote", http.StatusInternalServerError, w, err)
		return
	}

	if _, err := gamification.Award(ctx, p.UDB, bson.M{"_id": userID}, gamification.VotePoll, time.Now().UTC()); err != nil {
		zap.S().Warnw("failed to award poll vote", "userId", userID.Hex(), "error", err)
	}
	writeJSON(w, http.StatusOK, updated)
}

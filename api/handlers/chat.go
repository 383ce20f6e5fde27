package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/chat"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
)

const botUnavailable = "I'm having a little trouble connecting right now. Try again in a bit!"

var trackPattern = regexp.MustCompile(`(?i)(?:status|track|check|issue|complaint).{0,10}?(CIV-\d+-[0-9a-f]+|[0-9a-f]{24})`)

// SupportBot answers free-form support questions
type SupportBot interface {
	SupportReply(ctx context.Context, message string) (string, error)
}

// Chat exported for testing purposes
type Chat struct {
	Room   *chat.Room
	Issues databases.IssueDatabase
	Bot    SupportBot
}

// ChatSocketHandler joins the caller to the public chat room
func (c Chat) ChatSocketHandler(w http.ResponseWriter, r *http.Request) {
	sender, senderID := "Anonymous", ""
	if id, ok := api.IdentityFrom(r.Context()); ok {
		senderID = id.UserID
		switch {
		case id.Name != "":
			sender = id.Name
		case id.Email != "":
			sender = strings.Split(id.Email, "@")[0]
		}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnw("websocket upgrade error", "error", err)
		return
	}
	c.Room.Join(r.Context(), conn, sender, senderID)
}

type botRequest struct {
	Message string `json:"message"`
}

type botResponse struct {
	Reply string `json:"reply"`
}

// BotHandler answers a support question. Messages naming an issue id are
// answered from the issue itself.
func (c Chat) BotHandler(w http.ResponseWriter, r *http.Request) {
	var req botRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		config.ErrorStatus("message is required", http.StatusBadRequest, w, errors.New("empty message"))
		return
	}

	if m := trackPattern.FindStringSubmatch(req.Message); m != nil {
		ctx, cancel := api.WithQueryTimeout(r.Context())
		defer cancel()
		filter := bson.M{"complaintId": m[1]}
		if oid, err := primitive.ObjectIDFromHex(m[1]); err == nil {
			filter = bson.M{"_id": oid}
		}
		issue, err := c.Issues.FindOne(ctx, filter)
		if err == nil {
			writeJSON(w, http.StatusOK, botResponse{Reply: fmt.Sprintf("Found it!\n\n**%s**\nStatus: **%s**\nPriority: %s\n\nOur team is working on it!", issue.Title, issue.Status, issue.Priority)})
			return
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			zap.S().Warnw("failed to look up tracked issue", "ref", m[1], "error", err)
		}
	}

	if c.Bot == nil {
		writeJSON(w, http.StatusServiceUnavailable, botResponse{Reply: botUnavailable})
		return
	}
	reply, err := c.Bot.SupportReply(r.Context(), req.Message)
	if err != nil || reply == "" {
		zap.S().Warnw("support bot failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, botResponse{Reply: botUnavailable})
		return
	}
	writeJSON(w, http.StatusOK, botResponse{Reply: reply})
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/lifecycle"
	"github.com/civix/civix-api/models"
	"github.com/civix/civix-api/notifications"
)

// contact messages are previewed in admin notifications up to this many runes
const contactPreview = 50

// Contact exported for testing purposes
type Contact struct {
	DB       databases.ContactDatabase
	Notifier lifecycle.Notifier
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type contactResponse struct {
	Success bool            `json:"success"`
	Data    *models.Contact `json:"data,omitempty"`
	Message string          `json:"message"`
}

// SubmitContactHandler stores a contact query and tells the admins about it
func (c Contact) SubmitContactHandler(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Message = strings.TrimSpace(req.Message)
	if req.Name == "" || req.Email == "" || req.Message == "" {
		config.ErrorStatus("Please provide all fields", http.StatusBadRequest, w, errors.New("missing contact fields"))
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		config.ErrorStatus("Please provide a valid email", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	contact := models.Contact{
		ID:        primitive.NewObjectID(),
		Name:      req.Name,
		Email:     req.Email,
		Message:   req.Message,
		Status:    models.ContactPending,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := c.DB.InsertOne(ctx, contact); err != nil {
		config.ErrorStatus("Server Error", http.StatusInternalServerError, w, err)
		return
	}

	if c.Notifier != nil {
		err := c.Notifier.Notify(ctx, models.Notification{
			Recipient: notifications.RecipientAdmin,
			Title:     "New Contact Query",
			Message:   fmt.Sprintf("New message from %s: %q...", contact.Name, preview(contact.Message, contactPreview)),
			Type:      models.NotificationInfo,
			RelatedID: &contact.ID,
		})
		if err != nil {
			zap.S().Warnw("failed to notify admins of contact query", "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, contactResponse{Success: true, Data: &contact, Message: "Query submitted successfully"})
}

// ContactsHandler lists contact queries for admins, newest first. ?status narrows the list.
func (c Contact) ContactsHandler(w http.ResponseWriter, r *http.Request) {
	filter := bson.M{}
	if s := r.URL.Query().Get("status"); s != "" {
		filter["status"] = s
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	contacts, err := c.DB.Find(ctx, filter, databases.Paginate(queryInt(r, "limit", 50), queryInt(r, "page", 1)))
	if err != nil {
		config.ErrorStatus("Server Error", http.StatusInternalServerError, w, err)
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

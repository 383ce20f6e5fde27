package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
	"github.com/civix/civix-api/notifications"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Notification exported for testing purposes
type Notification struct {
	Svc    *notifications.Service
	Issues databases.IssueDatabase
}

func recipientsFor(id api.Identity) []string {
	key := id.UserID
	if key == "" {
		key = id.Subject
	}
	return notifications.Recipients(key, id.Role)
}

// NotificationsHandler lists the caller's notifications. Listing as an admin
// first raises alerts for issues that have gone stale.
func (n Notification) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := api.IdentityFrom(r.Context())
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if id.Role == models.RoleAdmin && n.Issues != nil {
		if created, err := n.Svc.AlertStaleIssues(ctx, n.Issues); err != nil {
			zap.S().Warnw("failed to raise stale issue alerts", "error", err)
		} else if created > 0 {
			zap.S().Infow("raised stale issue alerts", "count", created)
		}
	}

	list, err := n.Svc.List(ctx, recipientsFor(id))
	if err != nil {
		config.ErrorStatus("failed to get notifications", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// MarkReadHandler flags one notification as read
func (n Notification) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	nID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if err := n.Svc.MarkRead(ctx, nID); err != nil {
		config.ErrorStatus("failed to mark notification as read", http.StatusInternalServerError, w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Notification marked as read")
}

// ClearAllHandler marks all of the caller's notifications as read
func (n Notification) ClearAllHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := api.IdentityFrom(r.Context())
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if err := n.Svc.MarkAllRead(ctx, recipientsFor(id)); err != nil {
		config.ErrorStatus("failed to clear notifications", http.StatusInternalServerError, w, err)
		return
	}
	writeMessage(w, http.StatusOK, "All notifications cleared")
}

// WebSocketHandler streams new notifications to the caller. The caller listens on
// their own id and on their role's channel.
func (n Notification) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if n.Svc.Hub == nil {
		config.ErrorStatus("notifications are not available", http.StatusServiceUnavailable, w, nil)
		return
	}
	id, _ := api.IdentityFrom(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnw("websocket upgrade error", "error", err)
		return
	}
	n.Svc.Hub.Serve(conn, recipientsFor(id)...)
}

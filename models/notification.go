package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationRetention is how long the store keeps a notification before purging it
const NotificationRetention = 7 * 24 * time.Hour

// NotificationType is the severity shown for a notification
type NotificationType string

// Notification types
const (
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
)

// Notification holds the structure for the notifications collection in mongo.
// Recipient is either a user id hex or a role name such as "admin".
type Notification struct {
	ID        primitive.ObjectID  `json:"_id" bson:"_id,omitempty"`
	Recipient string              `json:"recipient" bson:"recipient"`
	Title     string              `json:"title" bson:"title"`
	Message   string              `json:"message" bson:"message"`
	Type      NotificationType    `json:"type" bson:"type"`
	RelatedID *primitive.ObjectID `json:"relatedId,omitempty" bson:"relatedId,omitempty"`
	Read      bool                `json:"read" bson:"read"`
	CreatedAt time.Time           `json:"createdAt" bson:"createdAt"`
}

package databases

// go generate: mockery --name NotificationDatabase

import (
	"github.com/civix/civix-api/models"
)

const notificationName = "notifications"

// NotificationDatabase contains the methods to use with the notification database
type NotificationDatabase interface {
	Collection[models.Notification]
}

// NewNotificationDatabase initializes a new instance of notification database with the provided db connection
func NewNotificationDatabase(db DatabaseHelper) NotificationDatabase {
	return &collection[models.Notification]{
		db:   db,
		name: notificationName,
	}
}

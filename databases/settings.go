package databases

// go generate: mockery --name SettingsDatabase

import (
	"github.com/civix/civix-api/models"
)

const settingsName = "settings"

// SettingsDatabase contains the methods to use with the settings database
type SettingsDatabase interface {
	Collection[models.Settings]
}

// NewSettingsDatabase initializes a new instance of settings database with the provided db connection
func NewSettingsDatabase(db DatabaseHelper) SettingsDatabase {
	return &collection[models.Settings]{
		db:   db,
		name: settingsName,
	}
}

package databases

// go generate: mockery --name LostItemDatabase

import (
	"github.com/civix/civix-api/models"
)

const lostItemName = "lostitems"

// LostItemDatabase contains the methods to use with the lost item database
type LostItemDatabase interface {
	Collection[models.LostItem]
}

// NewLostItemDatabase initializes a new instance of lost item database with the provided db connection
func NewLostItemDatabase(db DatabaseHelper) LostItemDatabase {
	return &collection[models.LostItem]{
		db:   db,
		name: lostItemName,
	}
}

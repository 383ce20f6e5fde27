package databases

// go generate: mockery --name ContactDatabase

import (
	"github.com/civix/civix-api/models"
)

const contactName = "contacts"

// ContactDatabase contains the methods to use with the contact database
type ContactDatabase interface {
	Collection[models.Contact]
}

// NewContactDatabase initializes a new instance of contact database with the provided db connection
func NewContactDatabase(db DatabaseHelper) ContactDatabase {
	return &collection[models.Contact]{
		db:   db,
		name: contactName,
	}
}

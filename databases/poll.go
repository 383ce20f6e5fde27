package databases

// go generate: mockery --name PollDatabase

import (
	"github.com/civix/civix-api/models"
)

const pollName = "polls"

// PollDatabase contains the methods to use with the poll database
type PollDatabase interface {
	Collection[models.Poll]
}

// NewPollDatabase initializes a new instance of poll database with the provided db connection
func NewPollDatabase(db DatabaseHelper) PollDatabase {
	return &collection[models.Poll]{
		db:   db,
		name: pollName,
	}
}

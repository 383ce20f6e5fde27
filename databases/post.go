package databases

// go generate: mockery --name PostDatabase

import (
	"github.com/civix/civix-api/models"
)

const postName = "posts"

// PostDatabase contains the methods to use with the post database
type PostDatabase interface {
	Collection[models.Post]
}

// NewPostDatabase initializes a new instance of post database with the provided db connection
func NewPostDatabase(db DatabaseHelper) PostDatabase {
	return &collection[models.Post]{
		db:   db,
		name: postName,
	}
}

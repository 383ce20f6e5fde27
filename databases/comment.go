package databases

// go generate: mockery --name CommentDatabase

import (
	"github.com/civix/civix-api/models"
)

const commentName = "comments"

// CommentDatabase contains the methods to use with the comment database
type CommentDatabase interface {
	Collection[models.Comment]
}

// NewCommentDatabase initializes a new instance of comment database with the provided db connection
func NewCommentDatabase(db DatabaseHelper) CommentDatabase {
	return &collection[models.Comment]{
		db:   db,
		name: commentName,
	}
}

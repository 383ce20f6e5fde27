package databases

// go generate: mockery --name IssueDatabase

import (
	"github.com/civix/civix-api/models"
)

const issueName = "issues"

// IssueDatabase contains the methods to use with the issue database
type IssueDatabase interface {
	Collection[models.Issue]
}

// NewIssueDatabase initializes a new instance of issue database with the provided db connection
func NewIssueDatabase(db DatabaseHelper) IssueDatabase {
	return &collection[models.Issue]{
		db:   db,
		name: issueName,
	}
}

package databases

// go generate: mockery --name CommunityDatabase

import (
	"github.com/civix/civix-api/models"
)

const communityName = "communities"

// CommunityDatabase contains the methods to use with the community database
type CommunityDatabase interface {
	Collection[models.Community]
}

// NewCommunityDatabase initializes a new instance of community database with the provided db connection
func NewCommunityDatabase(db DatabaseHelper) CommunityDatabase {
	return &collection[models.Community]{
		db:   db,
		name: communityName,
	}
}

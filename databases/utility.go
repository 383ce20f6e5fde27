package databases

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Paginate returns find options for a 1-based page sorted newest first.
// Out of range sizes fall back to the default or are capped.
func Paginate(limit, page int) *options.FindOptions {
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	if page <= 0 {
		page = 1
	}
	return options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64((page - 1) * limit)).
		SetSort(bson.D{{Key: "createdAt", Value: -1}})
}

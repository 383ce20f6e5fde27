package databases

// go generate: mockery --name UserDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/civix/civix-api/models"
)

const userName = "users"

// UserDatabase contains the methods to use with the user database
type UserDatabase interface {
	Collection[models.User]
	AdjustTrustScore(ctx context.Context, filter interface{}, delta int) error
	AdjustActiveTasks(ctx context.Context, id primitive.ObjectID, delta int) error
}

type userDatabase struct {
	collection[models.User]
}

// NewUserDatabase initializes a new instance of user database with the provided db connection
func NewUserDatabase(db DatabaseHelper) UserDatabase {
	return &userDatabase{
		collection: collection[models.User]{
			db:   db,
			name: userName,
		},
	}
}

// AdjustTrustScore adds delta to the trust score of the first matching user in a
// single server-side update, never letting the score drop below zero.
func (u *userDatabase) AdjustTrustScore(ctx context.Context, filter interface{}, delta int) error {
	if delta == 0 {
		return nil
	}
	update := bson.A{
		bson.M{"$set": bson.M{
			"trustScore": bson.M{"$max": bson.A{
				0,
				bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$trustScore", models.DefaultTrustScore}}, delta}},
			}},
		}},
	}
	_, err := u.db.Collection(userName).UpdateOne(ctx, filter, update)
	return err
}

// AdjustActiveTasks increments or decrements an officer's open assignment count.
// Decrements only apply while the count is positive.
func (u *userDatabase) AdjustActiveTasks(ctx context.Context, id primitive.ObjectID, delta int) error {
	if delta == 0 {
		return nil
	}
	filter := bson.M{"_id": id}
	if delta < 0 {
		filter["activeTasks"] = bson.M{"$gte": -delta}
	}
	_, err := u.db.Collection(userName).UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"activeTasks": delta}})
	return err
}

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
)

// Collection is a mock type for the databases.Collection type. Variadic
// options are not recorded.
type Collection[T any] struct {
	mock.Mock
}

// FindOne provides a mock function with given fields: ctx, filter
func (_m *Collection[T]) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*T, error) {
	ret := _m.MethodCalled("FindOne", ctx, filter)

	var r0 *T
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*T)
	}
	return r0, ret.Error(1)
}

// Find provides a mock function with given fields: ctx, filter
func (_m *Collection[T]) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]T, error) {
	ret := _m.MethodCalled("Find", ctx, filter)

	var r0 []T
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]T)
	}
	return r0, ret.Error(1)
}

// InsertOne provides a mock function with given fields: ctx, document
func (_m *Collection[T]) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (databases.InsertOneResultHelper, error) {
	ret := _m.MethodCalled("InsertOne", ctx, document)

	var r0 databases.InsertOneResultHelper
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(databases.InsertOneResultHelper)
	}
	return r0, ret.Error(1)
}

// UpdateOne provides a mock function with given fields: ctx, filter, update
func (_m *Collection[T]) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	ret := _m.MethodCalled("UpdateOne", ctx, filter, update)

	var r0 *mongo.UpdateResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*mongo.UpdateResult)
	}
	return r0, ret.Error(1)
}

// UpdateMany provides a mock function with given fields: ctx, filter, update
func (_m *Collection[T]) UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	ret := _m.MethodCalled("UpdateMany", ctx, filter, update)

	var r0 *mongo.UpdateResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*mongo.UpdateResult)
	}
	return r0, ret.Error(1)
}

// FindOneAndUpdate provides a mock function with given fields: ctx, filter, update
func (_m *Collection[T]) FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*T, error) {
	ret := _m.MethodCalled("FindOneAndUpdate", ctx, filter, update)

	var r0 *T
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*T)
	}
	return r0, ret.Error(1)
}

// DeleteOne provides a mock function with given fields: ctx, filter
func (_m *Collection[T]) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (int64, error) {
	ret := _m.MethodCalled("DeleteOne", ctx, filter)
	return ret.Get(0).(int64), ret.Error(1)
}

// DeleteMany provides a mock function with given fields: ctx, filter
func (_m *Collection[T]) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (int64, error) {
	ret := _m.MethodCalled("DeleteMany", ctx, filter)
	return ret.Get(0).(int64), ret.Error(1)
}

// CountDocuments provides a mock function with given fields: ctx, filter
func (_m *Collection[T]) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	ret := _m.MethodCalled("CountDocuments", ctx, filter)
	return ret.Get(0).(int64), ret.Error(1)
}

// Aggregate provides a mock function with given fields: ctx, pipeline, results
func (_m *Collection[T]) Aggregate(ctx context.Context, pipeline interface{}, results interface{}) error {
	return _m.MethodCalled("Aggregate", ctx, pipeline, results).Error(0)
}

// IssueDatabase is a mock type for the IssueDatabase type
type IssueDatabase struct {
	Collection[models.Issue]
}

// PollDatabase is a mock type for the PollDatabase type
type PollDatabase struct {
	Collection[models.Poll]
}

// PostDatabase is a mock type for the PostDatabase type
type PostDatabase struct {
	Collection[models.Post]
}

// CommentDatabase is a mock type for the CommentDatabase type
type CommentDatabase struct {
	Collection[models.Comment]
}

// CommunityDatabase is a mock type for the CommunityDatabase type
type CommunityDatabase struct {
	Collection[models.Community]
}

// ContactDatabase is a mock type for the ContactDatabase type
type ContactDatabase struct {
	Collection[models.Contact]
}

// LostItemDatabase is a mock type for the LostItemDatabase type
type LostItemDatabase struct {
	Collection[models.LostItem]
}

// SettingsDatabase is a mock type for the SettingsDatabase type
type SettingsDatabase struct {
	Collection[models.Settings]
}

// NotificationDatabase is a mock type for the NotificationDatabase type
type NotificationDatabase struct {
	Collection[models.Notification]
}

// UserDatabase is a mock type for the UserDatabase type
type UserDatabase struct {
	Collection[models.User]
}

// AdjustTrustScore provides a mock function with given fields: ctx, filter, delta
func (_m *UserDatabase) AdjustTrustScore(ctx context.Context, filter interface{}, delta int) error {
	return _m.MethodCalled("AdjustTrustScore", ctx, filter, delta).Error(0)
}

// AdjustActiveTasks provides a mock function with given fields: ctx, id, delta
func (_m *UserDatabase) AdjustActiveTasks(ctx context.Context, id primitive.ObjectID, delta int) error {
	return _m.MethodCalled("AdjustActiveTasks", ctx, id, delta).Error(0)
}

package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/civix/civix-api/api/handlers"
	"github.com/civix/civix-api/databases/mocks"
	"github.com/civix/civix-api/models"
)

func TestGamification_Leaderboard(t *testing.T) {
	db := &mocks.UserDatabase{}
	g := handlers.Gamification{UDB: db}
	db.On("Find", mock.Anything, bson.M{"gamification.points": bson.M{"$gt": 0}}).Return([]models.User{
		{ID: primitive.NewObjectID(), Name: "Ana", Gamification: models.Gamification{Points: 250, XP: 250}},
		{ID: primitive.NewObjectID(), Name: "Ben", Gamification: models.Gamification{Points: 40, XP: 40}},
	}, nil)

	rr := serve(g.LeaderboardHandler, newRequest("GET", "/api/gamification/leaderboard", "", nil, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var got []struct {
		Name   string         `json:"name"`
		Points int            `json:"points"`
		Level  int            `json:"level"`
		Badges []models.Badge `json:"badges"`
	}
	decodeJSON(t, rr, &got)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Level)
	assert.Equal(t, 1, got[1].Level)
	assert.NotNil(t, got[1].Badges)
}

func TestGamification_StatsRank(t *testing.T) {
	db := &mocks.UserDatabase{}
	g := handlers.Gamification{UDB: db}
	db.On("FindOne", mock.Anything, bson.M{"clerkUserId": "user_2abc"}).
		Return(&models.User{Gamification: models.Gamification{Points: 120, XP: 120}}, nil)
	db.On("CountDocuments", mock.Anything, bson.M{"gamification.points": bson.M{"$gt": 120}}).Return(int64(4), nil)

	rr := serve(g.StatsHandler, newRequest("GET", "/api/gamification/stats/user_2abc", "", nil, map[string]string{"userId": "user_2abc"}))

	require.Equal(t, http.StatusOK, rr.Code)
	var got struct {
		Points int   `json:"points"`
		Level  int   `json:"level"`
		Rank   int64 `json:"rank"`
	}
	decodeJSON(t, rr, &got)
	assert.Equal(t, 120, got.Points)
	assert.Equal(t, 2, got.Level)
	assert.Equal(t, int64(5), got.Rank)
}

func TestGamification_StatsUnknownUser(t *testing.T) {
	db := &mocks.UserDatabase{}
	g := handlers.Gamification{UDB: db}
	db.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)

	rr := serve(g.StatsHandler, newRequest("GET", "/api/gamification/stats/x", "", nil, map[string]string{"userId": "nobody"}))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

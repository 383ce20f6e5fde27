package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
)

const leaderboardSize = 10

// Gamification exported for testing purposes
type Gamification struct {
	UDB databases.UserDatabase
}

type leaderboardEntry struct {
	ID                primitive.ObjectID `json:"_id"`
	Name              string             `json:"name"`
	ProfilePictureURL string             `json:"profilePictureUrl,omitempty"`
	Points            int                `json:"points"`
	Level             int                `json:"level"`
	Badges            []models.Badge     `json:"badges"`
}

type statsResponse struct {
	models.Gamification
	Rank int64 `json:"rank"`
}

// LeaderboardHandler returns the top citizens by points
func (g Gamification) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "gamification.points", Value: -1}}).
		SetLimit(leaderboardSize).
		SetProjection(bson.M{"name": 1, "profilePictureUrl": 1, "gamification": 1})
	users, err := g.UDB.Find(ctx, bson.M{"gamification.points": bson.M{"$gt": 0}}, opts)
	if err != nil {
		config.ErrorStatus("failed to get leaderboard", http.StatusInternalServerError, w, err)
		return
	}
	out := make([]leaderboardEntry, 0, len(users))
	for _, u := range users {
		badges := u.Gamification.Badges
		if badges == nil {
			badges = []models.Badge{}
		}
		out = append(out, leaderboardEntry{
			ID:                u.ID,
			Name:              u.Name,
			ProfilePictureURL: u.ProfilePictureURL,
			Points:            u.Gamification.Points,
			Level:             models.LevelForXP(u.Gamification.XP),
			Badges:            badges,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// StatsHandler returns one user's points, level and badges plus their leaderboard rank.
// The user is looked up by identity-provider id first, then by account id.
func (g Gamification) StatsHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, err := g.UDB.FindOne(ctx, profileFilter(userID))
	if errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("User not found", http.StatusNotFound, w, err)
		return
	}
	if err != nil {
		config.ErrorStatus("failed to get user", http.StatusInternalServerError, w, err)
		return
	}

	ahead, err := g.UDB.CountDocuments(ctx, bson.M{"gamification.points": bson.M{"$gt": user.Gamification.Points}})
	if err != nil {
		config.ErrorStatus("failed to rank user", http.StatusInternalServerError, w, err)
		return
	}
	stats := user.Gamification
	if stats.Badges == nil {
		stats.Badges = []models.Badge{}
	}
	if stats.Level == 0 {
		stats.Level = models.LevelForXP(stats.XP)
	}
	writeJSON(w, http.StatusOK, statsResponse{Gamification: stats, Rank: ahead + 1})
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/lifecycle"
	"github.com/civix/civix-api/models"
	"github.com/civix/civix-api/notifications"
)

// Community exported for testing purposes
type Community struct {
	DB       databases.CommunityDatabase
	Notifier lifecycle.Notifier
}

type communityView struct {
	models.Community
	MemberCount int `json:"memberCount"`
}

type createCommunityRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Category    string `json:"category"`
}

type membershipResponse struct {
	Message     string `json:"message"`
	MemberCount int    `json:"memberCount"`
	IsMember    bool   `json:"isMember"`
}

// CommunitiesHandler lists communities, largest first
func (c Community) CommunitiesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	communities, err := c.DB.Find(ctx, bson.M{})
	if err != nil {
		config.ErrorStatus("failed to get communities", http.StatusInternalServerError, w, err)
		return
	}
	out := make([]communityView, 0, len(communities))
	for _, cm := range communities {
		out = append(out, communityView{Community: cm, MemberCount: len(cm.Members)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MemberCount > out[j].MemberCount })
	writeJSON(w, http.StatusOK, out)
}

// CreateCommunityHandler creates a community with the caller as its first member
func (c Community) CreateCommunityHandler(w http.ResponseWriter, r *http.Request) {
	caller, userID, ok := callerAccount(w, r)
	if !ok {
		return
	}
	var req createCommunityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		config.ErrorStatus("Community name is required", http.StatusBadRequest, w, errors.New("missing name"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	nameFilter := bson.M{"name": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(req.Name) + "$", Options: "i"}}
	if _, err := c.DB.FindOne(ctx, nameFilter); err == nil {
		config.ErrorStatus("Community name already taken", http.StatusBadRequest, w, errors.New("duplicate community"))
		return
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("failed to check community name", http.StatusInternalServerError, w, err)
		return
	}

	community := models.Community{
		ID:          primitive.NewObjectID(),
		Name:        req.Name,
		Description: req.Description,
		Image:       req.Image,
		Category:    req.Category,
		Members:     []primitive.ObjectID{userID},
		Creator:     &userID,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := c.DB.InsertOne(ctx, community); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			config.ErrorStatus("Community name already taken", http.StatusBadRequest, w, err)
			return
		}
		config.ErrorStatus("failed to create community", http.StatusInternalServerError, w, err)
		return
	}

	if c.Notifier != nil {
		creator := caller.Name
		if creator == "" {
			creator = caller.Email
		}
		err := c.Notifier.Notify(ctx, models.Notification{
			Recipient: notifications.RecipientAdmin,
			Title:     "New Community Created",
			Message:   fmt.Sprintf("Community %q has been created by %s.", community.Name, creator),
			Type:      models.NotificationInfo,
			RelatedID: &community.ID,
		})
		if err != nil {
			zap.S().Warnw("failed to notify admins of new community", "community", community.Name, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, communityView{Community: community, MemberCount: 1})
}

// JoinCommunityHandler toggles the caller's membership
func (c Community) JoinCommunityHandler(w http.ResponseWriter, r *http.Request) {
	communityID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	_, userID, ok := callerAccount(w, r)
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	community, err := c.DB.FindOne(ctx, bson.M{"_id": communityID})
	if errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("Community not found", http.StatusNotFound, w, err)
		return
	}
	if err != nil {
		config.ErrorStatus("failed to get community", http.StatusInternalServerError, w, err)
		return
	}

	leaving := containsID(community.Members, userID)
	update := bson.M{"$addToSet": bson.M{"members": userID}}
	msg := "Joined community"
	if leaving {
		update = bson.M{"$pull": bson.M{"members": userID}}
		msg = "Left community"
	}
	after := options.After
	updated, err := c.DB.FindOneAndUpdate(ctx, bson.M{"_id": communityID}, update, &options.FindOneAndUpdateOptions{ReturnDocument: &after})
	if err != nil {
		config.ErrorStatus("failed to update membership", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, membershipResponse{
		Message:     msg,
		MemberCount: len(updated.Members),
		IsMember:    !leaving,
	})
}

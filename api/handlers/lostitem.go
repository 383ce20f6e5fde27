package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
)

// LostItem exported for testing purposes
type LostItem struct {
	DB databases.LostItemDatabase
}

type lostItemsResponse struct {
	Success bool              `json:"success"`
	Count   int               `json:"count"`
	Data    []models.LostItem `json:"data"`
}

type lostItemResponse struct {
	Success bool             `json:"success"`
	Data    *models.LostItem `json:"data"`
}

// LostItemsHandler lists lost and found items, optionally narrowed by ?status and ?category
func (l LostItem) LostItemsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := bson.M{}
	if s := q.Get("status"); s != "" {
		filter["status"] = s
	}
	if c := q.Get("category"); c != "" && c != "All" {
		filter["category"] = c
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	items, err := l.DB.Find(ctx, filter, databases.Paginate(queryInt(r, "limit", 100), queryInt(r, "page", 1)))
	if err != nil {
		config.ErrorStatus("Server Error", http.StatusInternalServerError, w, err)
		return
	}
	if items == nil {
		items = []models.LostItem{}
	}
	writeJSON(w, http.StatusOK, lostItemsResponse{Success: true, Count: len(items), Data: items})
}

// CreateLostItemHandler files a lost or found item
func (l LostItem) CreateLostItemHandler(w http.ResponseWriter, r *http.Request) {
	var item models.LostItem
	if !decodeBody(w, r, &item) {
		return
	}
	item.Title = strings.TrimSpace(item.Title)
	if item.Title == "" || strings.TrimSpace(item.Location) == "" || strings.TrimSpace(item.ContactName) == "" {
		config.ErrorStatus("Title, location and contact name are required", http.StatusBadRequest, w, errors.New("missing lost item fields"))
		return
	}
	switch item.Status {
	case "":
		item.Status = models.LostItemLost
	case models.LostItemLost, models.LostItemFound, models.LostItemReturned:
	default:
		config.ErrorStatus("Invalid status", http.StatusBadRequest, w, errors.New("unknown lost item status "+item.Status))
		return
	}
	if item.Category == "" {
		item.Category = "Other"
	}

	now := time.Now().UTC()
	if item.DateLost == nil {
		item.DateLost = &now
	}
	item.ID = primitive.NewObjectID()
	item.CreatedAt = now
	if id, ok := api.IdentityFrom(r.Context()); ok {
		if oid, ok := id.ObjectID(); ok {
			item.ReportedBy = &oid
		}
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	if _, err := l.DB.InsertOne(ctx, item); err != nil {
		config.ErrorStatus("Server Error", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lostItemResponse{Success: true, Data: &item})
}

package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
)

// TrustedScore is the trust score from which a citizen counts as trusted
const TrustedScore = 150

// Admin exported for testing purposes
type Admin struct {
	IDB    databases.IssueDatabase
	UDB    databases.UserDatabase
	PDB    databases.PollDatabase
	PostDB databases.PostDatabase
	SDB    databases.SettingsDatabase
}

type categoryCount struct {
	Category string `json:"_id" bson:"_id"`
	Count    int64  `json:"count" bson:"count"`
}

type adminStats struct {
	TotalIssues      int64            `json:"totalIssues"`
	StatusCounts     map[string]int64 `json:"statusCounts"`
	HighPriority     int64            `json:"highPriority"`
	IssuesByCategory []categoryCount  `json:"issuesByCategory"`
	TrustedUsers     int64            `json:"trustedUsers"`
}

type activityLog struct {
	Issues       []models.Issue `json:"issues"`
	PollsCreated []models.Poll  `json:"pollsCreated"`
	PollsVoted   []models.Poll  `json:"pollsVoted"`
	Posts        []models.Post  `json:"posts"`
}

type userDetails struct {
	User        *models.User `json:"user"`
	ActivityLog activityLog  `json:"activityLog"`
}

type userResponse struct {
	Message string       `json:"message"`
	User    *models.User `json:"user"`
}

type updateRoleRequest struct {
	Role       string  `json:"role"`
	Department *string `json:"department"`
}

type createUserRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

type settingsPatch struct {
	MaintenanceMode   *bool `json:"maintenanceMode"`
	NewRegistrations  *bool `json:"newRegistrations"`
	EmailAlerts       *bool `json:"emailAlerts"`
	PushNotifications *bool `json:"pushNotifications"`
}

var statsStatuses = map[string]models.IssueStatus{
	"Pending":    models.StatusPending,
	"InProgress": models.StatusInProgress,
	"Resolved":   models.StatusResolved,
	"Rejected":   models.StatusRejected,
}

// StatsHandler returns the dashboard counters
func (a Admin) StatsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	stats := adminStats{StatusCounts: map[string]int64{}, IssuesByCategory: []categoryCount{}}
	total, err := a.IDB.CountDocuments(ctx, bson.M{})
	if err != nil {
		config.ErrorStatus("failed to count issues", http.StatusInternalServerError, w, err)
		return
	}
	stats.TotalIssues = total

	for label, status := range statsStatuses {
		n, err := a.IDB.CountDocuments(ctx, bson.M{"status": status})
		if err != nil {
			config.ErrorStatus("failed to count issues", http.StatusInternalServerError, w, err)
			return
		}
		stats.StatusCounts[label] = n
	}

	stats.HighPriority, err = a.IDB.CountDocuments(ctx, bson.M{
		"priority": models.PriorityHigh,
		"status":   bson.M{"$nin": []models.IssueStatus{models.StatusResolved, models.StatusRejected, models.StatusClosed}},
	})
	if err != nil {
		config.ErrorStatus("failed to count issues", http.StatusInternalServerError, w, err)
		return
	}

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$category", "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.M{"count": -1}}},
	}
	if err := a.IDB.Aggregate(ctx, pipeline, &stats.IssuesByCategory); err != nil {
		config.ErrorStatus("failed to group issues", http.StatusInternalServerError, w, err)
		return
	}

	stats.TrustedUsers, err = a.UDB.CountDocuments(ctx, bson.M{"trustScore": bson.M{"$gte": TrustedScore}})
	if err != nil {
		config.ErrorStatus("failed to count users", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// UsersHandler lists accounts, narrowed by ?role and a free-text ?search
func (a Admin) UsersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := bson.M{}
	if role := q.Get("role"); role != "" && role != "all" {
		filter["role"] = role
	}
	if s := strings.TrimSpace(q.Get("search")); s != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
		filter["$or"] = []bson.M{{"name": re}, {"email": re}, {"location": re}}
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	users, err := a.UDB.Find(ctx, filter, databases.Paginate(queryInt(r, "limit", 100), queryInt(r, "page", 1)))
	if err != nil {
		config.ErrorStatus("failed to get users", http.StatusInternalServerError, w, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// UserDetailsHandler returns an account and everything it has done on the platform
func (a Admin) UserDetailsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, err := a.UDB.FindOne(ctx, bson.M{"_id": userID})
	if errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("User not found", http.StatusNotFound, w, err)
		return
	}
	if err != nil {
		config.ErrorStatus("failed to get user", http.StatusInternalServerError, w, err)
		return
	}

	newest := func() *options.FindOptions {
		return options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	}
	var log activityLog
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		log.Issues, err = a.IDB.Find(gctx, bson.M{"email": user.Email}, newest())
		return err
	})
	g.Go(func() (err error) {
		log.PollsCreated, err = a.PDB.Find(gctx, bson.M{"createdBy": userID}, newest())
		return err
	})
	g.Go(func() (err error) {
		log.PollsVoted, err = a.PDB.Find(gctx, bson.M{"votedBy": userID}, newest())
		return err
	})
	g.Go(func() (err error) {
		log.Posts, err = a.PostDB.Find(gctx, bson.M{"author": userID}, newest())
		return err
	})
	if err := g.Wait(); err != nil {
		config.ErrorStatus("failed to load user activity", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, userDetails{User: user, ActivityLog: log})
}

// UpdateRoleHandler changes an account's role and department
func (a Admin) UpdateRoleHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	set := bson.M{"updatedAt": time.Now().UTC()}
	if req.Role != "" {
		role, ok := models.ParseRole(req.Role)
		if !ok {
			config.ErrorStatus("Invalid role selected", http.StatusBadRequest, w, errors.New("unknown role "+req.Role))
			return
		}
		set["role"] = role
	}
	if req.Department != nil {
		set["department"] = *req.Department
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	after := options.After
	user, err := a.UDB.FindOneAndUpdate(ctx, bson.M{"_id": userID}, bson.M{"$set": set}, &options.FindOneAndUpdateOptions{ReturnDocument: &after})
	if errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("User not found", http.StatusNotFound, w, err)
		return
	}
	if err != nil {
		config.ErrorStatus("failed to update user", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Message: "User role updated successfully", User: user})
}

// CreateUserHandler creates a staff or citizen account directly
func (a Admin) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if strings.TrimSpace(req.Name) == "" || req.Email == "" || req.Password == "" || req.Role == "" {
		config.ErrorStatus("All fields are required", http.StatusBadRequest, w, errors.New("missing user fields"))
		return
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		config.ErrorStatus("Invalid role selected", http.StatusBadRequest, w, errors.New("unknown role "+req.Role))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if _, err := a.UDB.FindOne(ctx, bson.M{"email": req.Email}); err == nil {
		config.ErrorStatus("User with this email already exists", http.StatusConflict, w, errors.New("duplicate email"))
		return
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("failed to check existing users", http.StatusInternalServerError, w, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		config.ErrorStatus("failed to hash password", http.StatusInternalServerError, w, err)
		return
	}
	now := time.Now().UTC()
	user := &models.User{
		ID:                    primitive.NewObjectID(),
		Name:                  strings.TrimSpace(req.Name),
		Email:                 req.Email,
		Username:              strings.Split(req.Email, "@")[0],
		Password:              string(hash),
		Role:                  role,
		Department:            req.Department,
		TrustScore:            models.DefaultTrustScore,
		IsAvailable:           true,
		Gamification:          models.Gamification{Level: 1, Badges: []models.Badge{}, CompletedScenarios: []string{}},
		ProfileSetupCompleted: true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if _, err := a.UDB.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			config.ErrorStatus("User with this email already exists", http.StatusConflict, w, err)
			return
		}
		config.ErrorStatus("failed to create user", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{Message: "User created successfully", User: user})
}

// SettingsHandler returns the platform settings, or the defaults when none were saved
func (a Admin) SettingsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	s, err := a.SDB.FindOne(ctx, bson.M{})
	if errors.Is(err, mongo.ErrNoDocuments) {
		d := models.DefaultSettings()
		s, err = &d, nil
	}
	if err != nil {
		config.ErrorStatus("failed to get settings", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateSettingsHandler patches the settings singleton, creating it on first save
func (a Admin) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var req settingsPatch
	if !decodeBody(w, r, &req) {
		return
	}
	defaults := models.DefaultSettings()
	set := bson.M{"updatedAt": time.Now().UTC()}
	onInsert := bson.M{}
	apply := func(key string, v *bool, fallback bool) {
		if v != nil {
			set[key] = *v
		} else {
			onInsert[key] = fallback
		}
	}
	apply("maintenanceMode", req.MaintenanceMode, defaults.MaintenanceMode)
	apply("newRegistrations", req.NewRegistrations, defaults.NewRegistrations)
	apply("emailAlerts", req.EmailAlerts, defaults.EmailAlerts)
	apply("pushNotifications", req.PushNotifications, defaults.PushNotifications)

	update := bson.M{"$set": set}
	if len(onInsert) > 0 {
		update["$setOnInsert"] = onInsert
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	s, err := a.SDB.FindOneAndUpdate(ctx, bson.M{}, update, opts)
	if err != nil {
		config.ErrorStatus("failed to update settings", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9]{4,16}$`)

// User exported for testing purposes
type User struct {
	DB          databases.UserDatabase
	IDB         databases.IssueDatabase
	SDB         databases.SettingsDatabase
	Tokens      api.MiddlewareDB
	AdminDomain string
}

type signupRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authUser struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Name     string      `json:"name,omitempty"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
}

type authResponse struct {
	Token   string   `json:"token"`
	User    authUser `json:"user"`
	Message string   `json:"message"`
}

// SignupHandler creates a local account. Addresses on the admin domain are
// given the admin role.
func (u User) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.Username == "" || req.Email == "" || req.Password == "" {
		config.ErrorStatus("Username, email and password are required", http.StatusBadRequest, w, errors.New("missing fields"))
		return
	}
	if !usernamePattern.MatchString(req.Username) {
		config.ErrorStatus("Username must be 4-16 characters of lowercase letters and numbers", http.StatusBadRequest, w, errors.New("invalid username"))
		return
	}
	if len(req.Password) < 6 {
		config.ErrorStatus("Password must be at least 6 characters", http.StatusBadRequest, w, errors.New("password too short"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if !u.registrationsOpen(ctx) {
		config.ErrorStatus("New registrations are currently closed", http.StatusForbidden, w, errors.New("registrations disabled"))
		return
	}

	existing, err := u.DB.FindOne(ctx, bson.M{"$or": []bson.M{{"email": req.Email}, {"username": req.Username}}})
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("failed to check existing users", http.StatusInternalServerError, w, err)
		return
	}
	if existing != nil {
		config.ErrorStatus("Email or username already in use", http.StatusConflict, w, errors.New("duplicate account"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		config.ErrorStatus("failed to hash password", http.StatusInternalServerError, w, err)
		return
	}

	now := time.Now().UTC()
	user := models.User{
		ID:          primitive.NewObjectID(),
		Name:        strings.TrimSpace(req.Name),
		Username:    req.Username,
		Email:       req.Email,
		Password:    string(hash),
		Role:        u.roleFor(req.Email),
		TrustScore:  models.DefaultTrustScore,
		IsAvailable: true,
		Gamification: models.Gamification{
			Level:              1,
			Badges:             []models.Badge{},
			CompletedScenarios: []string{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if user.Name == "" {
		user.Name = user.Username
	}
	if _, err := u.DB.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			config.ErrorStatus("Email or username already in use", http.StatusConflict, w, err)
			return
		}
		config.ErrorStatus("failed to create user", http.StatusInternalServerError, w, err)
		return
	}
	zap.S().Infow("user signed up", "userId", user.ID.Hex(), "role", user.Role)

	token, err := u.Tokens.IssueToken(&user, now)
	if err != nil {
		config.ErrorStatus("failed to issue token", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: toAuthUser(&user), Message: "User registered successfully"})
}

// LoginHandler exchanges an email and password for a token
func (u User) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		config.ErrorStatus("Email and password are required", http.StatusBadRequest, w, errors.New("missing fields"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, err := u.DB.FindOne(ctx, bson.M{"email": req.Email})
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("failed to get user", http.StatusInternalServerError, w, err)
		return
	}
	if user == nil || user.Password == "" || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		config.ErrorStatus("Invalid email or password", http.StatusUnauthorized, w, errors.New("bad credentials"))
		return
	}

	token, err := u.Tokens.IssueToken(user, time.Now().UTC())
	if err != nil {
		config.ErrorStatus("failed to issue token", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: toAuthUser(user), Message: "Login successful"})
}

type profileResponse struct {
	ID                primitive.ObjectID  `json:"id"`
	Name              string              `json:"name"`
	Email             string              `json:"email"`
	Role              models.Role         `json:"role"`
	Location          string              `json:"location,omitempty"`
	Coordinates       *models.Coordinates `json:"coordinates,omitempty"`
	ProfilePictureURL string              `json:"profilePictureUrl,omitempty"`
	IsProfileComplete bool                `json:"isProfileComplete"`
	TrustScore        int                 `json:"trustScore"`
	Gamification      models.Gamification `json:"gamification"`
	Complaints        int64               `json:"complaints"`
	Message           string              `json:"message,omitempty"`
}

// ProfileHandler returns a user's profile by identity-provider id or account id
func (u User) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, err := u.DB.FindOne(ctx, profileFilter(mux.Vars(r)["clerkUserId"]))
	if errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("User not found", http.StatusNotFound, w, err)
		return
	}
	if err != nil {
		config.ErrorStatus("failed to get user", http.StatusInternalServerError, w, err)
		return
	}

	complaints, err := u.IDB.CountDocuments(ctx, bson.M{"email": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(user.Email) + "$", Options: "i"}})
	if err != nil {
		zap.S().Warnw("failed to count complaints", "userId", user.ID.Hex(), "error", err)
	}
	writeJSON(w, http.StatusOK, toProfile(user, complaints, ""))
}

type profileUpdate struct {
	Name              string              `json:"name"`
	Email             string              `json:"email"`
	Location          string              `json:"location"`
	Coordinates       *models.Coordinates `json:"coordinates"`
	ProfilePictureURL string              `json:"profilePictureUrl"`
}

// UpdateProfileHandler lets a user complete their own profile. Admins may edit anyone's.
func (u User) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["clerkUserId"]
	caller, _ := api.IdentityFrom(r.Context())
	if caller.Subject != key && caller.UserID != key && caller.Role != models.RoleAdmin {
		config.ErrorStatus("You can only update your own profile", http.StatusForbidden, w, errors.New("not profile owner"))
		return
	}

	var req profileUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if strings.TrimSpace(req.Name) == "" || req.Email == "" || strings.TrimSpace(req.Location) == "" {
		config.ErrorStatus("Name, email, and location are required", http.StatusBadRequest, w, errors.New("missing fields"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	filter := profileFilter(key)
	taken, err := u.DB.FindOne(ctx, bson.M{"email": req.Email})
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("failed to check email", http.StatusInternalServerError, w, err)
		return
	}
	if taken != nil && taken.ClerkUserID != key && taken.ID.Hex() != key {
		config.ErrorStatus("Email already taken by another user", http.StatusConflict, w, errors.New("duplicate email"))
		return
	}

	set := bson.M{
		"name":                  strings.TrimSpace(req.Name),
		"email":                 req.Email,
		"location":              strings.TrimSpace(req.Location),
		"profileSetupCompleted": true,
		"updatedAt":             time.Now().UTC(),
	}
	if req.Coordinates != nil {
		set["coordinates"] = req.Coordinates
	}
	if req.ProfilePictureURL != "" {
		set["profilePictureUrl"] = req.ProfilePictureURL
	}
	after := options.After
	user, err := u.DB.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, &options.FindOneAndUpdateOptions{ReturnDocument: &after})
	if errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("User not found", http.StatusNotFound, w, err)
		return
	}
	if err != nil {
		config.ErrorStatus("failed to update user", http.StatusInternalServerError, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(user, 0, "Profile updated successfully"))
}

func (u User) registrationsOpen(ctx context.Context) bool {
	if u.SDB == nil {
		return true
	}
	s, err := u.SDB.FindOne(ctx, bson.M{})
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			zap.S().Warnw("failed to read settings", "error", err)
		}
		return true
	}
	return s.NewRegistrations
}

func (u User) roleFor(email string) models.Role {
	domain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(u.AdminDomain)), "@")
	if domain != "" && strings.HasSuffix(email, "@"+domain) {
		return models.RoleAdmin
	}
	return models.RoleUser
}

func profileFilter(key string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(key); err == nil {
		return bson.M{"$or": []bson.M{{"clerkUserId": key}, {"_id": oid}}}
	}
	return bson.M{"clerkUserId": key}
}

func toAuthUser(u *models.User) authUser {
	return authUser{ID: u.ID.Hex(), Username: u.Username, Name: u.Name, Email: u.Email, Role: u.Role}
}

func toProfile(u *models.User, complaints int64, msg string) profileResponse {
	return profileResponse{
		ID:                u.ID,
		Name:              u.Name,
		Email:             u.Email,
		Role:              u.Role,
		Location:          u.Location,
		Coordinates:       u.Coordinates,
		ProfilePictureURL: u.ProfilePictureURL,
		IsProfileComplete: u.ProfileSetupCompleted,
		TrustScore:        u.TrustScore,
		Gamification:      u.Gamification,
		Complaints:        complaints,
		Message:           msg,
	}
}

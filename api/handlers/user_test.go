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
	"golang.org/x/crypto/bcrypt"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/api/handlers"
	"github.com/civix/civix-api/databases/mocks"
	"github.com/civix/civix-api/models"
)

type authBody struct {
	Token string `json:"token"`
	User  struct {
		ID    string      `json:"id"`
		Email string      `json:"email"`
		Role  models.Role `json:"role"`
	} `json:"user"`
}

func userHandler(db *mocks.UserDatabase) handlers.User {
	return handlers.User{
		DB:          db,
		Tokens:      api.MiddlewareDB{DB: db, Secret: []byte("test-secret")},
		AdminDomain: "civix.gov",
	}
}

func TestUser_SignupValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing", `{"email":"ana@example.com","password":"secret1"}`, "Username, email and password are required"},
		{"bad username", `{"username":"Ana!","email":"ana@example.com","password":"secret1"}`, "Username must be 4-16 characters of lowercase letters and numbers"},
		{"short password", `{"username":"ana123","email":"ana@example.com","password":"abc"}`, "Password must be at least 6 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := userHandler(&mocks.UserDatabase{})
			rr := serve(u.SignupHandler, newRequest("POST", "/api/auth/signup", tt.body, nil, nil))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.want, errorMessage(t, rr))
		})
	}
}

func TestUser_SignupClosedRegistrations(t *testing.T) {
	settings := &mocks.SettingsDatabase{}
	settings.On("FindOne", mock.Anything, bson.M{}).Return(&models.Settings{NewRegistrations: false}, nil)
	u := userHandler(&mocks.UserDatabase{})
	u.SDB = settings

	rr := serve(u.SignupHandler, newRequest("POST", "/api/auth/signup", `{"username":"ana123","email":"ana@example.com","password":"secret1"}`, nil, nil))

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestUser_SignupDuplicate(t *testing.T) {
	db := &mocks.UserDatabase{}
	db.On("FindOne", mock.Anything, mock.Anything).Return(&models.User{Email: "ana@example.com"}, nil)
	u := userHandler(db)

	rr := serve(u.SignupHandler, newRequest("POST", "/api/auth/signup", `{"username":"ana123","email":"Ana@Example.com","password":"secret1"}`, nil, nil))

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Email or username already in use", errorMessage(t, rr))
}

func TestUser_SignupAdminDomain(t *testing.T) {
	db := &mocks.UserDatabase{}
	db.On("FindOne", mock.Anything, bson.M{"$or": []bson.M{{"email": "chief@civix.gov"}, {"username": "chief"}}}).Return(nil, mongo.ErrNoDocuments)
	db.On("InsertOne", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return u.Role == models.RoleAdmin && u.TrustScore == models.DefaultTrustScore && u.Password != "secret1"
	})).Return(nil, nil)
	u := userHandler(db)

	rr := serve(u.SignupHandler, newRequest("POST", "/api/auth/signup", `{"username":"chief","email":"chief@civix.gov","password":"secret1"}`, nil, nil))

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var got authBody
	decodeJSON(t, rr, &got)
	assert.NotEmpty(t, got.Token)
	assert.Equal(t, models.RoleAdmin, got.User.Role)
	db.AssertExpectations(t)
}

func TestUser_Login(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)
	stored := &models.User{ID: primitive.NewObjectID(), Email: "ana@example.com", Password: string(hash), Role: models.RoleOfficer}

	tests := []struct {
		name     string
		password string
		want     int
	}{
		{"correct password", "secret1", http.StatusOK},
		{"wrong password", "secret2", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &mocks.UserDatabase{}
			db.On("FindOne", mock.Anything, bson.M{"email": "ana@example.com"}).Return(stored, nil)
			u := userHandler(db)

			rr := serve(u.LoginHandler, newRequest("POST", "/api/auth/login", `{"email":" ANA@example.com","password":"`+tt.password+`"}`, nil, nil))

			require.Equal(t, tt.want, rr.Code, rr.Body.String())
			if tt.want == http.StatusOK {
				var got authBody
				decodeJSON(t, rr, &got)
				assert.Equal(t, stored.ID.Hex(), got.User.ID)
				assert.Equal(t, models.RoleOfficer, got.User.Role)
			}
		})
	}
}

func TestUser_LoginUnknownEmail(t *testing.T) {
	db := &mocks.UserDatabase{}
	db.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)
	u := userHandler(db)

	rr := serve(u.LoginHandler, newRequest("POST", "/api/auth/login", `{"email":"nobody@example.com","password":"secret1"}`, nil, nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid email or password", errorMessage(t, rr))
}

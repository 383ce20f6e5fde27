package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases/mocks"
	"github.com/civix/civix-api/models"
)

var a App

func executeRequest(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	a.Router.ServeHTTP(rr, req)
	return rr
}

func checkResponseCode(t *testing.T, expected, actual int) {
	if expected != actual {
		t.Errorf("Expected response code %d. Got %d\n", expected, actual)
	}
}

// withStoredUser points the app at a database whose users collection always returns u
func withStoredUser(u *models.User) {
	single := &mocks.SingleResultHelper{}
	single.On("Decode", mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(0).(**models.User) = u
	}).Return(nil)
	users := &mocks.CollectionHelper{}
	users.On("FindOne", mock.Anything, mock.Anything).Return(single)
	db := &mocks.DatabaseHelper{}
	db.On("Collection", "users").Return(users)

	a = App{dbHelper: db, Config: config.Config{JWTSecret: "test-secret"}}
	a.Router = a.New()
}

func TestUnknownRoute(t *testing.T) {
	a = App{}
	a.Router = a.New()
	req, _ := http.NewRequest("GET", "/asdf", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusNotFound, response.Code)
}

func TestHealthCheckRoute(t *testing.T) {
	a = App{}
	a.Router = a.New()
	req, _ := http.NewRequest("GET", "/health", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusOK, response.Code)

	if !strings.Contains(response.Body.String(), "alive") {
		t.Errorf("Expected 'alive' in the reponse. Got '%s'", response.Body.String())
	}
}

func TestApp_IssueRouteRejectsMalformedID(t *testing.T) {
	a = App{}
	a.Router = a.New()
	req, _ := http.NewRequest("GET", "/api/issues/not-an-id", nil)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusNotFound, response.Code)
}

func TestApp_UpdateIssueUnauthorized(t *testing.T) {
	a = App{}
	a.Router = a.New()
	req, _ := http.NewRequest("PUT", "/api/issues/"+primitive.NewObjectID().Hex(), strings.NewReader(`{}`))
	response := executeRequest(req)

	checkResponseCode(t, http.StatusUnauthorized, response.Code)
}

func TestApp_ModeratorRouteRejectsCitizen(t *testing.T) {
	citizen := &models.User{ID: primitive.NewObjectID(), Email: "ana@example.com", Role: models.RoleUser}
	withStoredUser(citizen)

	token, err := api.MiddlewareDB{Secret: []byte("test-secret")}.IssueToken(citizen, time.Now())
	assert.NoError(t, err)

	req, _ := http.NewRequest("PATCH", "/api/issues/"+primitive.NewObjectID().Hex()+"/status", strings.NewReader(`{"newStatus":"Resolved"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusForbidden, response.Code)
}

func TestApp_AdminRouteRejectsModerator(t *testing.T) {
	mod := &models.User{ID: primitive.NewObjectID(), Email: "mo@example.com", Role: models.RoleModerator}
	withStoredUser(mod)

	token, err := api.MiddlewareDB{Secret: []byte("test-secret")}.IssueToken(mod, time.Now())
	assert.NoError(t, err)

	req, _ := http.NewRequest("GET", "/api/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	response := executeRequest(req)

	checkResponseCode(t, http.StatusForbidden, response.Code)
}

func TestApp_RoutesRegistered(t *testing.T) {
	a = App{}
	a.Router = a.New()

	tests := []struct {
		method string
		path   string
	}{
		{"POST", "/api/auth/signup"},
		{"POST", "/api/issues"},
		{"GET", "/api/issues/my-issues"},
		{"POST", "/api/issues/assign-manual"},
		{"PATCH", "/api/issues/" + primitive.NewObjectID().Hex() + "/status"},
		{"POST", "/api/polls/" + primitive.NewObjectID().Hex() + "/vote"},
		{"PUT", "/api/comments/" + primitive.NewObjectID().Hex() + "/like"},
		{"GET", "/api/gamification/stats/user_123"},
		{"PATCH", "/api/admin/settings"},
		{"POST", "/api/moderator/duplicates"},
		{"GET", "/ws/chat"},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, tt.path, nil)
		var match mux.RouteMatch
		assert.True(t, a.Router.Match(req, &match), "%s %s", tt.method, tt.path)
	}
}

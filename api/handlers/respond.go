package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/lifecycle"
	"github.com/civix/civix-api/models"
)

var errNoAccount = errors.New("token is not linked to an account")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(status)
	w.Write(b)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.MessageResponse{Message: msg})
}

// decodeBody reads a JSON request body into v and answers 400 when it cannot
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return false
	}
	return true
}

// pathID parses a hex object id out of the named route variable
func pathID(w http.ResponseWriter, r *http.Request, name string) (primitive.ObjectID, bool) {
	id, err := api.ObjectIDVar(r, name)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return id, false
	}
	return id, true
}

// callerAccount returns the authenticated caller and their account id. Callers
// whose token does not map to a stored user get a 401.
func callerAccount(w http.ResponseWriter, r *http.Request) (api.Identity, primitive.ObjectID, bool) {
	id, _ := api.IdentityFrom(r.Context())
	oid, ok := id.ObjectID()
	if !ok {
		config.ErrorStatus("unauthorized", http.StatusUnauthorized, w, errNoAccount)
	}
	return id, oid, ok
}

// lifecycleError maps the lifecycle error kinds onto status codes
func lifecycleError(w http.ResponseWriter, err error, fallback string) {
	msg := fallback
	var le *lifecycle.Error
	if errors.As(err, &le) {
		msg = le.Message
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		status = http.StatusConflict
	}
	config.ErrorStatus(msg, status, w, err)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func withoutID(ids []primitive.ObjectID, id primitive.ObjectID) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shaj13/go-guardian/auth"
	"github.com/shaj13/go-guardian/auth/strategies/bearer"
	"github.com/shaj13/go-guardian/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/models"
)

// Issuer marks tokens signed by this service
const Issuer = "civix"

// TokenTTL is how long a locally issued token stays valid
const TokenTTL = time.Hour

// resolved identities are cached by token for this long
const tokenCacheTTL = 5 * time.Minute

// MiddlewareDB is a struct that holds the database
type MiddlewareDB struct {
	DB     databases.UserDatabase
	Secret []byte
}

// Claims is the token payload. Locally issued tokens carry the account id in
// UserID; identity-provider tokens only carry a subject and maybe an email.
type Claims struct {
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	UserID string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller
type Identity struct {
	UserID  string
	Subject string
	Email   string
	Name    string
	Role    models.Role
}

// ObjectID returns the caller's account id, or false when the token has no matching account
func (i Identity) ObjectID() (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(i.UserID)
	return id, err == nil
}

// HasRole reports whether the caller holds one of roles. Admins pass every check.
func (i Identity) HasRole(roles ...models.Role) bool {
	if i.Role == models.RoleAdmin {
		return true
	}
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

var authenticator auth.Authenticator
var cache store.Cache

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller stored by Middleware
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Middleware rejects requests without a valid bearer token and stores the caller on the request context
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		id, err := authenticate(r)
		if err != nil {
			zap.S().Debugw("unauthorized", "url", r.URL.String(), "error", err)
			config.ErrorStatus("unauthorized", http.StatusUnauthorized, w, err)
			return
		}
		zap.S().Debugf("User %s Authenticated\n", id.Email)
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// OptionalMiddleware stores the caller when a valid token is present and lets anonymous requests through
func OptionalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := authenticate(r); err == nil {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole authenticates the caller and then checks their role
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := IdentityFrom(r.Context())
			if !id.HasRole(roles...) {
				config.ErrorStatus("Access denied", http.StatusForbidden, w, fmt.Errorf("role %q may not access %s", id.Role, r.URL.Path))
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func authenticate(r *http.Request) (Identity, error) {
	if authenticator == nil {
		return Identity{}, errors.New("authenticator is not configured")
	}
	// browsers cannot set headers on websocket upgrades
	if r.Header.Get("Authorization") == "" {
		if t := r.URL.Query().Get("token"); t != "" {
			r.Header.Set("Authorization", "Bearer "+t)
		}
	}
	info, err := authenticator.Authenticate(r)
	if err != nil {
		return Identity{}, err
	}
	return identityFromInfo(info), nil
}

// SetupGoGuardian sets up the go-guardian middleware
func (m MiddlewareDB) SetupGoGuardian() {
	authenticator = auth.New()
	cache = store.NewFIFO(context.Background(), tokenCacheTTL)
	tokenStrategy := bearer.New(m.ValidateToken, cache)
	authenticator.EnableStrategy(bearer.CachedStrategyKey, tokenStrategy)
}

// ValidateToken decodes a bearer token and resolves the caller. Tokens issued
// by this service must carry a valid HS256 signature. Identity-provider tokens
// are decoded without verification, so their role always comes from the
// matching user record and never from the token.
func (m MiddlewareDB) ValidateToken(ctx context.Context, r *http.Request, token string) (auth.Info, error) {
	claims, verified, err := m.decode(token)
	if err != nil {
		return nil, err
	}

	user, err := m.lookup(ctx, claims, verified)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to look up caller: %w", err)
	}

	id := Identity{Subject: claims.Subject, Email: claims.Email, Name: claims.Name, Role: models.RoleUser}
	if user != nil {
		id.UserID = user.ID.Hex()
		id.Email = user.Email
		id.Name = user.Name
		id.Role = user.Role
	} else if verified {
		if role, ok := models.ParseRole(claims.Role); ok {
			id.Role = role
		}
		id.UserID = claims.UserID
	}
	return identityToInfo(id), nil
}

func (m MiddlewareDB) decode(token string) (*Claims, bool, error) {
	if token == "" || token == "undefined" || token == "null" {
		return nil, false, errors.New("no token provided")
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false, fmt.Errorf("malformed token: %w", err)
	}

	if claims.Issuer != Issuer {
		if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
			return nil, false, errors.New("token has expired")
		}
		if claims.Subject == "" && claims.Email == "" {
			return nil, false, errors.New("token has no subject")
		}
		return claims, false, nil
	}

	if len(m.Secret) == 0 {
		return nil, false, errors.New("JWT secret is not configured")
	}
	verified := &Claims{}
	_, err := jwt.ParseWithClaims(token, verified, func(t *jwt.Token) (interface{}, error) {
		return m.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, false, err
	}
	return verified, true, nil
}

func (m MiddlewareDB) lookup(ctx context.Context, claims *Claims, verified bool) (*models.User, error) {
	if m.DB == nil {
		return nil, mongo.ErrNoDocuments
	}
	if verified {
		oid, err := primitive.ObjectIDFromHex(claims.UserID)
		if err != nil {
			return nil, mongo.ErrNoDocuments
		}
		return m.DB.FindOne(ctx, bson.M{"_id": oid})
	}
	if claims.Subject != "" {
		u, err := m.DB.FindOne(ctx, bson.M{"clerkUserId": claims.Subject})
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return u, err
		}
	}
	if claims.Email != "" {
		return m.DB.FindOne(ctx, bson.M{"email": strings.ToLower(claims.Email)})
	}
	return nil, mongo.ErrNoDocuments
}

// IssueToken signs a token for a local account
func (m MiddlewareDB) IssueToken(u *models.User, now time.Time) (string, error) {
	if len(m.Secret) == 0 {
		return "", errors.New("JWT secret is not configured")
	}
	claims := Claims{
		Email:  u.Email,
		Role:   string(u.Role),
		UserID: u.ID.Hex(),
		Name:   u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   u.ID.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.Secret)
}

func identityToInfo(id Identity) auth.Info {
	return auth.NewDefaultUser(id.Email, id.UserID, []string{string(id.Role)}, map[string][]string{
		"sub":  {id.Subject},
		"name": {id.Name},
	})
}

func identityFromInfo(info auth.Info) Identity {
	id := Identity{Email: info.UserName(), UserID: info.ID(), Role: models.RoleUser}
	if g := info.Groups(); len(g) > 0 {
		id.Role = models.Role(g[0])
	}
	ext := info.Extensions()
	if v := ext["sub"]; len(v) > 0 {
		id.Subject = v[0]
	}
	if v := ext["name"]; len(v) > 0 {
		id.Name = v[0]
	}
	return id
}

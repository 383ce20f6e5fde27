package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civix/civix-api/api"
	"github.com/civix/civix-api/api/scheduler"
	"github.com/civix/civix-api/chat"
	"github.com/civix/civix-api/clients/ai"
	"github.com/civix/civix-api/clients/cloudstore"
	"github.com/civix/civix-api/clients/mailer"
	"github.com/civix/civix-api/clients/mlservice"
	"github.com/civix/civix-api/config"
	"github.com/civix/civix-api/databases"
	"github.com/civix/civix-api/lifecycle"
	"github.com/civix/civix-api/models"
	"github.com/civix/civix-api/notifications"
)

// requestTimeout bounds every non-websocket request
const requestTimeout = 30 * time.Second

// idVar matches a hex object id in a route
const idVar = "{id:[0-9a-fA-F]{24}}"

// App stores the router and db connection, so it can be reused
type App struct {
	Router   *mux.Router
	Config   config.Config
	dbHelper databases.DatabaseHelper
	client   databases.ClientHelper

	Lifecycle     *lifecycle.Service
	Notifications *notifications.Service
	Room          *chat.Room
	Redis         *redis.Client

	Images ImageDescriber
	Bot    SupportBot
	Signer Signer

	cancelRoom context.CancelFunc
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	issues := databases.NewIssueDatabase(a.dbHelper)
	users := databases.NewUserDatabase(a.dbHelper)
	posts := databases.NewPostDatabase(a.dbHelper)
	polls := databases.NewPollDatabase(a.dbHelper)
	settings := databases.NewSettingsDatabase(a.dbHelper)

	// setup go-guardian for middleware
	m := api.MiddlewareDB{DB: users, Secret: []byte(a.Config.JWTSecret)}
	m.SetupGoGuardian()
	a.ensureServices()

	u := User{DB: users, IDB: issues, SDB: settings, Tokens: m, AdminDomain: a.Config.AdminEmailDomain}
	i := Issue{Svc: a.Lifecycle, Images: a.Images}
	n := Notification{Svc: a.Notifications, Issues: issues}
	p := Poll{DB: polls, UDB: users}
	post := Post{DB: posts, CDB: databases.NewCommentDatabase(a.dbHelper), UDB: users, Notifier: a.Notifications, Issues: a.Lifecycle}
	c := Community{DB: databases.NewCommunityDatabase(a.dbHelper), Notifier: a.Notifications}
	contact := Contact{DB: databases.NewContactDatabase(a.dbHelper), Notifier: a.Notifications}
	lost := LostItem{DB: databases.NewLostItemDatabase(a.dbHelper)}
	g := Gamification{UDB: users}
	admin := Admin{IDB: issues, UDB: users, PDB: polls, PostDB: posts, SDB: settings}
	mod := Moderator{Svc: a.Lifecycle}
	ch := Chat{Room: a.Room, Issues: issues, Bot: a.Bot}
	metrics := MetricsHandler{}
	cloudinaryHandler := CloudinaryHandler{Signer: a.Signer}

	moderator := api.RequireRole(models.RoleModerator)
	adminOnly := api.RequireRole(models.RoleAdmin)

	r := mux.NewRouter()
	r.Use(api.MetricsMiddleware, api.NewRateLimiter(a.Config.RateLimitPerMinute).Middleware, api.TimeoutMiddleware(requestTimeout))

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	apiCreate := r.PathPrefix("/api").Subrouter()

	apiCreate.Handle("/auth/signup", http.HandlerFunc(u.SignupHandler)).Methods("POST")
	apiCreate.Handle("/auth/login", http.HandlerFunc(u.LoginHandler)).Methods("POST")
	apiCreate.Handle("/profile/{clerkUserId}", http.HandlerFunc(u.ProfileHandler)).Methods("GET")
	apiCreate.Handle("/profile/{clerkUserId}", api.Middleware(http.HandlerFunc(u.UpdateProfileHandler))).Methods("PUT")

	apiCreate.Handle("/issues", api.OptionalMiddleware(http.HandlerFunc(i.CreateIssueHandler))).Methods("POST")
	apiCreate.Handle("/issues", http.HandlerFunc(i.IssuesHandler)).Methods("GET")
	apiCreate.Handle("/issues/my-issues", api.OptionalMiddleware(http.HandlerFunc(i.MyIssuesHandler))).Methods("GET")
	apiCreate.Handle("/issues/assign-manual", api.Middleware(http.HandlerFunc(i.AssignManualHandler))).Methods("POST")
	apiCreate.Handle("/issues/officers", api.Middleware(http.HandlerFunc(i.OfficersHandler))).Methods("GET")
	apiCreate.Handle("/issues/assigned", api.Middleware(http.HandlerFunc(i.AssignedIssuesHandler))).Methods("GET")
	apiCreate.Handle("/issues/feedback", api.Middleware(http.HandlerFunc(i.FeedbackHandler))).Methods("POST")
	apiCreate.Handle("/issues/analyze-image", api.Middleware(http.HandlerFunc(i.AnalyzeImageHandler))).Methods("POST")
	apiCreate.Handle("/issues/generate-caption", api.Middleware(http.HandlerFunc(i.GenerateCaptionHandler))).Methods("POST")
	apiCreate.Handle("/issues/ai-suggest/"+idVar, api.Middleware(http.HandlerFunc(i.SuggestOfficersHandler))).Methods("GET")
	apiCreate.Handle("/issues/"+idVar, http.HandlerFunc(i.IssueByIDHandler)).Methods("GET")
	apiCreate.Handle("/issues/"+idVar, api.Middleware(http.HandlerFunc(i.UpdateIssueHandler))).Methods("PUT")
	apiCreate.Handle("/issues/"+idVar, adminOnly(http.HandlerFunc(i.DeleteIssueHandler))).Methods("DELETE")
	apiCreate.Handle("/issues/"+idVar+"/status", moderator(http.HandlerFunc(i.UpdateStatusHandler))).Methods("PATCH")
	apiCreate.Handle("/issues/"+idVar+"/duplicates", adminOnly(http.HandlerFunc(i.DuplicatesHandler))).Methods("GET")
	apiCreate.Handle("/issues/"+idVar+"/resolution", api.Middleware(http.HandlerFunc(i.SubmitResolutionHandler))).Methods("POST")
	apiCreate.Handle("/issues/"+idVar+"/review", moderator(http.HandlerFunc(i.ReviewResolutionHandler))).Methods("POST")
	apiCreate.Handle("/issues/"+idVar+"/acknowledge", api.Middleware(http.HandlerFunc(i.AcknowledgeHandler))).Methods("POST")
	apiCreate.Handle("/issues/"+idVar+"/upvote", api.Middleware(http.HandlerFunc(i.UpvoteHandler))).Methods("PUT")
	apiCreate.Handle("/issues/"+idVar+"/downvote", api.Middleware(http.HandlerFunc(i.DownvoteHandler))).Methods("PUT")

	apiCreate.Handle("/notifications", api.Middleware(http.HandlerFunc(n.NotificationsHandler))).Methods("GET")
	apiCreate.Handle("/notifications/clear-all", api.Middleware(http.HandlerFunc(n.ClearAllHandler))).Methods("DELETE", "PUT")
	apiCreate.Handle("/notifications/"+idVar+"/read", api.Middleware(http.HandlerFunc(n.MarkReadHandler))).Methods("PUT")

	apiCreate.Handle("/polls", api.Middleware(http.HandlerFunc(p.PollsHandler))).Methods("GET")
	apiCreate.Handle("/polls/create", api.Middleware(http.HandlerFunc(p.CreatePollHandler))).Methods("POST")
	apiCreate.Handle("/polls/{pollId:[0-9a-fA-F]{24}}/vote", api.Middleware(http.HandlerFunc(p.VotePollHandler))).Methods("POST")

	apiCreate.Handle("/posts", api.Middleware(http.HandlerFunc(post.FeedHandler))).Methods("GET")
	apiCreate.Handle("/posts", api.Middleware(http.HandlerFunc(post.CreatePostHandler))).Methods("POST")
	apiCreate.Handle("/posts/user", api.Middleware(http.HandlerFunc(post.UserPostsHandler))).Methods("GET")
	apiCreate.Handle("/posts/"+idVar, api.Middleware(http.HandlerFunc(post.DeletePostHandler))).Methods("DELETE")
	apiCreate.Handle("/posts/"+idVar+"/like", api.Middleware(http.HandlerFunc(post.LikePostHandler))).Methods("PUT")
	apiCreate.Handle("/posts/"+idVar+"/upvote", api.Middleware(http.HandlerFunc(post.UpvotePostHandler))).Methods("PUT")
	apiCreate.Handle("/posts/"+idVar+"/downvote", api.Middleware(http.HandlerFunc(post.DownvotePostHandler))).Methods("PUT")
	apiCreate.Handle("/posts/"+idVar+"/comments", api.Middleware(http.HandlerFunc(post.CommentsHandler))).Methods("GET")
	apiCreate.Handle("/posts/"+idVar+"/comments", api.Middleware(http.HandlerFunc(post.AddCommentHandler))).Methods("POST")
	apiCreate.Handle("/comments/"+idVar+"/like", api.Middleware(http.HandlerFunc(post.LikeCommentHandler))).Methods("PUT")

	apiCreate.Handle("/communities", http.HandlerFunc(c.CommunitiesHandler)).Methods("GET")
	apiCreate.Handle("/communities", api.Middleware(http.HandlerFunc(c.CreateCommunityHandler))).Methods("POST")
	apiCreate.Handle("/communities/"+idVar+"/join", api.Middleware(http.HandlerFunc(c.JoinCommunityHandler))).Methods("PUT", "POST")

	apiCreate.Handle("/contact", http.HandlerFunc(contact.SubmitContactHandler)).Methods("POST")
	apiCreate.Handle("/contact", adminOnly(http.HandlerFunc(contact.ContactsHandler))).Methods("GET")

	apiCreate.Handle("/lost-items", http.HandlerFunc(lost.LostItemsHandler)).Methods("GET")
	apiCreate.Handle("/lost-items", api.OptionalMiddleware(http.HandlerFunc(lost.CreateLostItemHandler))).Methods("POST")

	apiCreate.Handle("/gamification/leaderboard", http.HandlerFunc(g.LeaderboardHandler)).Methods("GET")
	apiCreate.Handle("/gamification/stats/{userId}", http.HandlerFunc(g.StatsHandler)).Methods("GET")

	apiCreate.Handle("/admin/stats", adminOnly(http.HandlerFunc(admin.StatsHandler))).Methods("GET")
	apiCreate.Handle("/admin/users", adminOnly(http.HandlerFunc(admin.UsersHandler))).Methods("GET")
	apiCreate.Handle("/admin/users", adminOnly(http.HandlerFunc(admin.CreateUserHandler))).Methods("POST")
	apiCreate.Handle("/admin/users/"+idVar, adminOnly(http.HandlerFunc(admin.UserDetailsHandler))).Methods("GET")
	apiCreate.Handle("/admin/users/"+idVar+"/role", adminOnly(http.HandlerFunc(admin.UpdateRoleHandler))).Methods("PATCH")
	apiCreate.Handle("/admin/settings", adminOnly(http.HandlerFunc(admin.SettingsHandler))).Methods("GET")
	apiCreate.Handle("/admin/settings", adminOnly(http.HandlerFunc(admin.UpdateSettingsHandler))).Methods("PATCH")
	apiCreate.Handle("/admin/metrics", adminOnly(http.HandlerFunc(metrics.GetMetricsDashboard))).Methods("GET")

	apiCreate.Handle("/moderator/analyze", moderator(http.HandlerFunc(mod.AnalyzeHandler))).Methods("POST")
	apiCreate.Handle("/moderator/duplicates", moderator(http.HandlerFunc(mod.DuplicatesHandler))).Methods("POST")

	apiCreate.Handle("/chat/bot", http.HandlerFunc(ch.BotHandler)).Methods("POST")
	apiCreate.Handle("/generate-signature", api.Middleware(http.HandlerFunc(cloudinaryHandler.GenerateSignature))).Methods("POST")

	r.Handle("/ws/notifications", api.Middleware(http.HandlerFunc(n.WebSocketHandler)))
	r.Handle("/ws/chat", api.OptionalMiddleware(http.HandlerFunc(ch.ChatSocketHandler)))
	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize(ctx context.Context) error {
	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}
	a.client = client

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	if err := client.Connect(ctx); err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("civix-api has connected to the database")

	if err := databases.EnsureIndexes(ctx, a.dbHelper); err != nil {
		zap.S().Warnw("failed to ensure indexes", "error", err)
	}

	a.connectRedis(ctx)
	a.wireClients()
	a.initializeRoutes()

	roomCtx, cancel := context.WithCancel(context.Background())
	a.cancelRoom = cancel
	go a.Room.Run(roomCtx)
	return nil
}

// ensureServices builds the shared services New has not been handed
func (a *App) ensureServices() {
	if a.Notifications == nil {
		a.Notifications = notifications.NewService(databases.NewNotificationDatabase(a.dbHelper), notifications.NewHub())
	}
	if a.Lifecycle == nil {
		a.Lifecycle = lifecycle.New(databases.NewIssueDatabase(a.dbHelper), databases.NewUserDatabase(a.dbHelper), databases.NewPostDatabase(a.dbHelper), a.Notifications)
		if a.Config.ExternalCallTimeout > 0 {
			a.Lifecycle.CallTimeout = a.Config.ExternalCallTimeout
		}
	}
	if a.Room == nil {
		a.Room = chat.NewRoom(a.Redis)
	}
}

// wireClients attaches the optional external services that are configured
func (a *App) wireClients() {
	a.ensureServices()
	if a.Config.MLServiceURL != "" {
		ml := mlservice.NewClient(a.Config.MLServiceURL, a.Config.ExternalCallTimeout)
		a.Lifecycle.Classifier = ml
		a.Images = ml
	} else {
		zap.S().Warn("ML_SERVICE_URL is not set, issues will not be classified")
	}

	if a.Config.AnthropicAPIKey != "" {
		assistant := ai.NewClient(a.Config.AnthropicAPIKey, a.Config.AIModel)
		a.Lifecycle.Assistant = assistant
		a.Bot = assistant
	} else {
		zap.S().Warn("ANTHROPIC_API_KEY is not set, AI features are disabled")
	}

	if a.Config.CloudinaryURL != "" {
		store, err := cloudstore.New(a.Config.CloudinaryURL, a.Config.UploadPreset)
		if err != nil {
			zap.S().Warnw("failed to configure cloudinary", "error", err)
		} else {
			a.Lifecycle.Uploader = store
			a.Signer = store
		}
	}

	if a.Config.SendgridAPIKey != "" {
		a.Lifecycle.Mailer = mailer.New(a.Config.SendgridAPIKey, a.Config.EmailFrom)
	}
}

func (a *App) connectRedis(ctx context.Context) {
	if a.Config.RedisURL == "" {
		return
	}
	opts, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		zap.S().Warnw("invalid REDIS_URL, chat stays local to this process", "error", err)
		return
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		zap.S().Warnw("failed to reach redis, chat stays local to this process", "error", err)
		_ = rdb.Close()
		return
	}
	a.Redis = rdb
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

// Issues exposes the issue store to background jobs
func (a *App) Issues() databases.IssueDatabase {
	return databases.NewIssueDatabase(a.dbHelper)
}

// Users exposes the user store to background jobs
func (a *App) Users() databases.UserDatabase {
	return databases.NewUserDatabase(a.dbHelper)
}

// FeedbackScheduler builds the background job runner over this app's stores
func (a *App) FeedbackScheduler() *scheduler.Scheduler {
	a.ensureServices()
	var analyzer scheduler.Sentimenter
	if a.Lifecycle.Assistant != nil {
		analyzer = a.Lifecycle.Assistant
	}
	return scheduler.NewScheduler(a.Issues(), a.Users(), a.Notifications, a.Notifications, analyzer, &a.Config)
}

// Close releases the database and redis connections
func (a *App) Close(ctx context.Context) error {
	if a.cancelRoom != nil {
		a.cancelRoom()
	}
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.client != nil {
		errs = append(errs, a.client.Disconnect(ctx))
	}
	return errors.Join(errs...)
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}

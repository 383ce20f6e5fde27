package config

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/civix/civix-api/logging"
	"github.com/civix/civix-api/models"
)

// Config holds the project config values
type Config struct {
	URL          string `yaml:"dbUri"`
	DatabaseName string `yaml:"dbName"`
	BaseURL      string `yaml:"baseUrl"`
	Port         string `yaml:"port"`
	Environment  string `yaml:"environment"`

	MLServiceURL    string `yaml:"mlServiceUrl"`
	AnthropicAPIKey string `yaml:"-"`
	AIModel         string `yaml:"aiModel"`
	CloudinaryURL   string `yaml:"-"`
	UploadPreset    string `yaml:"uploadPreset"`
	SendgridAPIKey  string `yaml:"-"`
	EmailFrom       string `yaml:"emailFrom"`
	RedisURL        string `yaml:"redisUrl"`
	JWTSecret       string `yaml:"-"`

	AdminEmailDomain string `yaml:"adminEmailDomain"`

	WorkerID     int `yaml:"workerId"`
	TotalWorkers int `yaml:"totalWorkers"`

	ExternalCallTimeout time.Duration `yaml:"externalCallTimeout"`
	FeedbackJobSchedule string        `yaml:"feedbackJobSchedule"`
	RateLimitPerMinute  int           `yaml:"rateLimitPerMinute"`
}

// New sets up all config related services
func New() *Config {
	//setup zap logger and replace default logger
	env := os.Getenv("ENVIRONMENT")
	logger, err := logging.New(env)
	if err != nil {
		logger = zap.NewExample()
	}
	defer logger.Sync()
	_ = zap.ReplaceGlobals(logger)

	conf := &Config{
		URL:                 os.Getenv("DB_URI"),
		DatabaseName:        os.Getenv("DB_NAME"),
		BaseURL:             os.Getenv("BASE_URL"),
		Port:                getEnv("PORT", "8080"),
		Environment:         env,
		MLServiceURL:        os.Getenv("ML_SERVICE_URL"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		AIModel:             getEnv("AI_MODEL", "claude-3-5-haiku-latest"),
		CloudinaryURL:       os.Getenv("CLOUDINARY_URL"),
		UploadPreset:        os.Getenv("CLOUDINARY_UPLOAD_PRESET"),
		SendgridAPIKey:      os.Getenv("SENDGRID_API_KEY"),
		EmailFrom:           getEnv("EMAIL_FROM", "no-reply@civix.app"),
		RedisURL:            os.Getenv("REDIS_URL"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		AdminEmailDomain:    os.Getenv("ADMIN_EMAIL_DOMAIN"),
		WorkerID:            getEnvInt("WORKER_ID", 1),
		TotalWorkers:        getEnvInt("TOTAL_WORKERS", 1),
		ExternalCallTimeout: getEnvDuration("EXTERNAL_CALL_TIMEOUT", 8*time.Second),
		FeedbackJobSchedule: getEnv("FEEDBACK_JOB_SCHEDULE", "@every 1h"),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_PER_MINUTE", 100),
	}

	if path := os.Getenv("CIVIX_CONFIG_FILE"); path != "" {
		if err := conf.overlay(path); err != nil {
			zap.S().Warnw("failed to apply config file", "path", path, "error", err)
		}
	}
	conf.normalize()
	return conf
}

// overlay reads a yaml file and replaces any tunable it sets. Secrets are only
// ever read from the environment.
func (c *Config) overlay(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

func (c *Config) normalize() {
	if c.TotalWorkers < 1 {
		c.TotalWorkers = 1
	}
	if c.WorkerID < 1 || c.WorkerID > c.TotalWorkers {
		c.WorkerID = 1
	}
	if c.ExternalCallTimeout <= 0 {
		c.ExternalCallTimeout = 8 * time.Second
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 100
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	zap.S().Errorw(message, "status", httpStatusCode, "error", errText)
	b, _ := json.Marshal(models.ErrorMessageResponse{
		Response: models.MessageError{
			Message: message,
			Error:   errText,
		},
	})
	w.WriteHeader(httpStatusCode)
	w.Write(b)
}

// Package logging builds the process-wide zap logger.
package logging

import "go.uber.org/zap"

// New creates a new zap logger for env: JSON in production, colored console in
// development and the example logger otherwise
func New(env string) (*zap.Logger, error) {
	switch env {
	case "production":
		return zap.NewProduction()
	case "development":
		cfg := zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
		return cfg.Build()
	default:
		return zap.NewExample(), nil
	}
}

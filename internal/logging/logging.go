package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New builds a zap logger. Mode "prod"/"production" selects the JSON
// production config; anything else the development console config.
func New(mode string, quiet bool) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	if quiet {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

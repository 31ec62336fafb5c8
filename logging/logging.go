package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service-wide zap logger. Production config emits JSON with
// millisecond timestamps; development keeps the console encoder for local runs.
// The service name is attached to every line so aggregated logs stay filterable.
func New(service, env string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(env, "development") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}

	fields := []zap.Field{zap.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		fields = append(fields, zap.String("env", env))
	}
	return logger.With(fields...), nil
}

// Package logger builds the zap loggers used by the server and worker binaries.
package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ProductionMode  = "production"
	DevelopmentMode = "development"
)

type ctxKey string

// RequestIDKey carries the HTTP request id in a request context.
const RequestIDKey ctxKey = "request_id"

// New returns a JSON production logger with ISO8601 timestamps, or a colored
// development logger for any other mode.
func New(mode string) (*zap.Logger, error) {
	var config zap.Config
	if mode == DevelopmentMode {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return config.Build()
}

// WithContext adds the request id from ctx, if any, to l.
func WithContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	if ctx == nil {
		return l
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return l.With(zap.String(string(RequestIDKey), id))
	}
	return l
}

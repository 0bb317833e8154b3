package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a structured logger. In "release" mode it uses the
// production JSON encoder; any other mode gets the development console
// encoder with debug level enabled.
func NewLogger(mode string) (*zap.Logger, error) {
	if mode == "release" {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		return cfg.Build()
	}
	return zap.NewDevelopmentConfig().Build()
}

// WithOperation enriches the logger with operation and request identifiers.
func WithOperation(logger *zap.Logger, operation, requestID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return logger.With(fields...)
}

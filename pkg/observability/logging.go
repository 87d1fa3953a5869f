package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Production gets sampled JSON output,
// everything else gets the development console encoder at debug level.
func NewLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		config := zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return config.Build()
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	return config.Build()
}

// SyncLogger flushes buffered log entries. Sync errors on stderr/stdout are
// expected on some platforms and ignored.
func SyncLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "/dev/stderr") || strings.Contains(msg, "/dev/stdout") ||
			strings.Contains(msg, "inappropriate ioctl") || strings.Contains(msg, "invalid argument") {
			return
		}
	}
}

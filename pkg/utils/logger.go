package utils

import "go.uber.org/zap"

// NewLogger returns a zap logger named "tanya". When debug is true, uses development config
// (human-readable, debug level); otherwise uses production config (JSON, info level)
// without sampling.
func NewLogger(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("tanya"), nil
}

// NopIfNil returns l, or a no-op logger when l is nil.
func NopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

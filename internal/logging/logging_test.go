package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/lucasnoah/repairloop/internal/config"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		verbose bool
		want    zapcore.Level
	}{
		{"default", config.LoggingConfig{}, false, zapcore.InfoLevel},
		{"warn", config.LoggingConfig{Level: "warn", Format: "json"}, false, zapcore.WarnLevel},
		{"verbose wins", config.LoggingConfig{Level: "error", Format: "console"}, true, zapcore.DebugLevel},
		{"development", config.LoggingConfig{Level: "debug", Development: true}, false, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg, tt.verbose)
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if !logger.Core().Enabled(tt.want) {
				t.Errorf("expected %s enabled", tt.want)
			}
			if tt.want > zapcore.DebugLevel && logger.Core().Enabled(tt.want-1) {
				t.Errorf("expected %s disabled", tt.want-1)
			}
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud"}, false); err == nil {
		t.Error("expected error for unknown level")
	}
}

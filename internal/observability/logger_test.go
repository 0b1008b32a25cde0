package observability

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantDebug bool
	}{
		{"debug level", "debug", true},
		{"info level", "info", false},
		{"warn level", "warn", false},
		{"unknown level defaults to info", "verbose", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(LoggingConfig{Level: tt.level, Format: "json"})
			if logger == nil {
				t.Fatal("expected non-nil logger")
			}
			got := logger.Enabled(context.Background(), slog.LevelDebug)
			if got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		logger := NewLogger(LoggingConfig{Level: "info", Format: format})
		if logger == nil {
			t.Fatalf("expected non-nil logger for format %q", format)
		}
	}
}

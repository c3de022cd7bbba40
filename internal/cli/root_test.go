package cli

import (
	"log/slog"
	"testing"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		configured string
		debug      bool
		want       slog.Level
	}{
		{"", false, slog.LevelInfo},
		{"info", false, slog.LevelInfo},
		{"debug", false, slog.LevelDebug},
		{"warn", false, slog.LevelWarn},
		{"error", false, slog.LevelError},
		{"error", true, slog.LevelDebug},
	}

	for _, tt := range tests {
		isDebug = tt.debug
		if got := logLevel(tt.configured); got != tt.want {
			t.Errorf("logLevel(%q, debug=%v) = %s, want %s", tt.configured, tt.debug, got, tt.want)
		}
	}
	isDebug = false
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "probe", "history"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered: %v", name, err)
		}
	}
}

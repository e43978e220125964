package cmd

import (
	"log/slog"
	"testing"
)

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"serve": false, "consolidate": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestNewLoggerDebugFlag(t *testing.T) {
	old := debugFlag
	defer func() { debugFlag = old }()

	debugFlag = true
	logger := newLogger()
	if !logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug flag did not enable debug level")
	}

	debugFlag = false
	t.Setenv("DEBUG", "")
	logger = newLogger()
	if logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug level enabled without flag or env")
	}
}

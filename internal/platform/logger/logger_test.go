package logger

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupLevels(t *testing.T) {
	cases := []struct {
		configured string
		want       slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo}, // unknown falls back to info
	}

	for _, tc := range cases {
		log := Setup(tc.configured)
		assert.NotNil(t, log, "configured level %q", tc.configured)
		assert.True(t, log.Enabled(context.Background(), tc.want))
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	log := FromContext(context.Background())
	assert.NotNil(t, log)
	assert.Equal(t, slog.Default(), log)
}

func TestWithLoggerRoundTrip(t *testing.T) {
	custom := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "test")
	ctx := WithLogger(context.Background(), custom)

	assert.Equal(t, custom, FromContext(ctx))
}

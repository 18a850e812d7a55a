package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "json")

	ctx := SetContextValue(context.Background(), ProjectIDKey, "proj-1")
	ctx = SetContextValue(ctx, RequestIDKey, "req-9")

	log.WithComponent("risk-engine").WithError(errors.New("boom")).InfoContext(ctx, "assessed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "assessed", entry["msg"])
	assert.Equal(t, "proj-1", entry["project_id"])
	assert.Equal(t, "req-9", entry["request_id"])
	assert.Equal(t, "risk-engine", entry["component"])
	assert.Equal(t, "boom", entry["error"])
}

func TestWithContext_NoValues(t *testing.T) {
	log := Nop()
	assert.Same(t, log, log.WithContext(context.Background()))
	assert.Same(t, log, log.WithError(nil))
	assert.Empty(t, GetProjectID(context.Background()))
}

package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "test-svc"})

	logger.WithJob("job-1").WithOperation("classify").Info().
		Int("page", 3).
		Float64("score", 0.25).
		Msg("page classified")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "test-svc", entry["service"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Equal(t, "classify", entry["operation"])
	assert.Equal(t, float64(3), entry["page"])
	assert.Equal(t, "page classified", entry["message"])
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Warn().Err(errors.New("slow engine")).Msg("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "slow engine")
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	ctx := ContextWithJobID(context.Background(), "abc")
	logger.WithContext(ctx).Debug().Msg("hello")

	assert.Contains(t, buf.String(), `"job_id":"abc"`)
	assert.Equal(t, "", JobIDFromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

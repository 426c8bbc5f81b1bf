package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/eureka/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{name: "json info", cfg: config.LoggingConfig{Level: "info", Format: "json"}},
		{name: "console debug", cfg: config.LoggingConfig{Level: "debug", Format: "console"}},
		{name: "trace", cfg: config.LoggingConfig{Level: "trace"}},
		{name: "empty level defaults to info", cfg: config.LoggingConfig{}},
		{name: "unknown level", cfg: config.LoggingConfig{Level: "verbose"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			assert.NoError(t, Sync(logger))
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, level)
	assert.True(t, level < zapcore.DebugLevel)
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithAPVID(ctx, "apv-1")
	ctx = WithCVEID(ctx, "CVE-2024-12345")
	ctx = WithRequestID(ctx, "req-42")

	fields := ContextFields(ctx)
	require.Len(t, fields, 3)
	assert.Equal(t, "apv_id", fields[0].Key)
	assert.Equal(t, "apv-1", fields[0].String)
	assert.Equal(t, "cve_id", fields[1].Key)
	assert.Equal(t, "request_id", fields[2].Key)

	assert.Equal(t, "apv-1", APVIDFromContext(ctx))
	assert.Equal(t, "CVE-2024-12345", CVEIDFromContext(ctx))
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "RELAY_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "RELAY_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "RELAY_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got := getEnv(tc.key, tc.fallback)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "RELAY_TEST_DUR_UNSET", setVal: nil, fallback: time.Second, want: time.Second},
		{name: "parses duration", key: "RELAY_TEST_DUR_VALID", setVal: strPtr("2500ms"), want: 2500 * time.Millisecond},
		{name: "errors on bare number", key: "RELAY_TEST_DUR_BARE", setVal: strPtr("5"), wantErr: true},
		{name: "errors on junk", key: "RELAY_TEST_DUR_JUNK", setVal: strPtr("soon"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback bool
		want     bool
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "RELAY_TEST_BOOL_UNSET", setVal: nil, fallback: true, want: true},
		{name: "parses true", key: "RELAY_TEST_BOOL_TRUE", setVal: strPtr("true"), want: true},
		{name: "parses 1", key: "RELAY_TEST_BOOL_ONE", setVal: strPtr("1"), want: true},
		{name: "parses false", key: "RELAY_TEST_BOOL_FALSE", setVal: strPtr("false"), fallback: true, want: false},
		{name: "errors on junk", key: "RELAY_TEST_BOOL_JUNK", setVal: strPtr("yes please"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvBool(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// ---------------------------------------------------------------------------
// Load tests
// ---------------------------------------------------------------------------

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RELAY_AGENT_ID", "agent-379f4ef2-c678-4305-b69d-ac15986046c2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8283", cfg.Agent.BaseURL)
	assert.False(t, cfg.Agent.TLSInsecure)
	assert.Equal(t, 5*time.Second, cfg.Agent.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Agent.RequestTimeout)
	assert.Equal(t, 5, cfg.Poll.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Poll.Delay)
	assert.Equal(t, PollModeFirst, cfg.Poll.Mode)
	assert.Equal(t, 10, cfg.Poll.Limit)
	assert.Equal(t, 1, cfg.Stream.ChunkSize)
	assert.False(t, cfg.Cache.Enabled)
	assert.False(t, cfg.SerializeConversations)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing agent id",
			env:     map[string]string{},
			wantErr: "RELAY_AGENT_ID is required",
		},
		{
			name: "base url without scheme",
			env: map[string]string{
				"RELAY_AGENT_ID":       "agent-1",
				"RELAY_AGENT_BASE_URL": "localhost:8283",
			},
			wantErr: "RELAY_AGENT_BASE_URL",
		},
		{
			name: "zero poll attempts",
			env: map[string]string{
				"RELAY_AGENT_ID":          "agent-1",
				"RELAY_POLL_MAX_ATTEMPTS": "0",
			},
			wantErr: "RELAY_POLL_MAX_ATTEMPTS",
		},
		{
			name: "unknown poll mode",
			env: map[string]string{
				"RELAY_AGENT_ID":  "agent-1",
				"RELAY_POLL_MODE": "latest",
			},
			wantErr: "RELAY_POLL_MODE",
		},
		{
			name: "cache without redis",
			env: map[string]string{
				"RELAY_AGENT_ID":      "agent-1",
				"RELAY_CACHE_ENABLED": "true",
			},
			wantErr: "RELAY_REDIS_ADDR",
		},
		{
			name: "zero chunk size",
			env: map[string]string{
				"RELAY_AGENT_ID":          "agent-1",
				"RELAY_STREAM_CHUNK_SIZE": "0",
			},
			wantErr: "RELAY_STREAM_CHUNK_SIZE",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadAccumulateMode(t *testing.T) {
	t.Setenv("RELAY_AGENT_ID", "agent-1")
	t.Setenv("RELAY_POLL_MODE", "accumulate")
	t.Setenv("RELAY_POLL_JOIN_SEP", "\n\n")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, PollModeAccumulate, cfg.Poll.Mode)
	assert.Equal(t, "\n\n", cfg.Poll.JoinSep)
}

func TestLoadTrimsBaseURLSlash(t *testing.T) {
	t.Setenv("RELAY_AGENT_ID", "agent-1")
	t.Setenv("RELAY_AGENT_BASE_URL", "https://letta.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://letta.example.com", cfg.Agent.BaseURL)
}

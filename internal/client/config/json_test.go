package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseJson(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"transport":             "http",
		"http_base_url":         "https://store.example.com",
		"database_path":         "/var/lib/ledgersync/client.db",
		"remote_timeout":        "750ms",
		"sign_in_timeout":       "10s",
		"online_check_interval": 1e9,
		"retry_base_delay":      "100ms",
		"retry_max_delay":       "2s",
		"retries_per_flush":     5,
		"flush_concurrency":     2,
	})

	var got Config
	got.LoadDefaults()
	require.NoError(t, parseJson(&got, path))

	var want Config
	want.LoadDefaults()
	want.Transport = TransportHTTP
	want.HTTPBaseURL = "https://store.example.com"
	want.DatabasePath = "/var/lib/ledgersync/client.db"
	want.RemoteTimeout = 750 * time.Millisecond
	want.SignInTimeout = 10 * time.Second
	want.OnlineCheckInterval = time.Second
	want.RetryBaseDelay = 100 * time.Millisecond
	want.RetryMaxDelay = 2 * time.Second
	want.RetriesPerFlush = 5
	want.FlushConcurrency = 2

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseJson mismatch (-want +got):\n%s", diff)
	}
}

func Test_parseJson_EmptyObjectKeepsValues(t *testing.T) {
	path := writeTempJSON(t, map[string]any{})

	var got Config
	got.LoadDefaults()
	require.NoError(t, parseJson(&got, path))

	var want Config
	want.LoadDefaults()
	assert.Equal(t, want, got)
}

func Test_parseJson_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"remote_timeout":"soon"}`), 0o600))

	var c Config
	err := parseJson(&c, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

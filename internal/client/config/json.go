package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/ledgersync/internal/timex"
)

// JsonConfig mirrors Config for JSON files. Absent keys leave the current
// value untouched.
type JsonConfig struct {
	Transport           string          `json:"transport"`
	ServerEndpointAddr  string          `json:"server_endpoint_addr"`
	HTTPBaseURL         string          `json:"http_base_url"`
	DatabasePath        string          `json:"database_path"`
	RemoteTimeout       *timex.Duration `json:"remote_timeout"`
	SignInTimeout       *timex.Duration `json:"sign_in_timeout"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`
	FlushInterval       *timex.Duration `json:"flush_interval"`
	MaxAttempts         *int            `json:"max_attempts"`
	RetryBaseDelay      *timex.Duration `json:"retry_base_delay"`
	RetryMaxDelay       *timex.Duration `json:"retry_max_delay"`
	RetriesPerFlush     *int            `json:"retries_per_flush"`
	FlushConcurrency    *int            `json:"flush_concurrency"`
	LogLevel            string          `json:"log_level"`
}

func parseJson(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.Transport, jc.Transport)
	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.HTTPBaseURL, jc.HTTPBaseURL)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.LogLevel, jc.LogLevel)

	if jc.RemoteTimeout != nil {
		cfg.RemoteTimeout = jc.RemoteTimeout.Duration
	}
	if jc.SignInTimeout != nil {
		cfg.SignInTimeout = jc.SignInTimeout.Duration
	}
	if jc.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	if jc.FlushInterval != nil {
		cfg.FlushInterval = jc.FlushInterval.Duration
	}
	if jc.RetryBaseDelay != nil {
		cfg.RetryBaseDelay = jc.RetryBaseDelay.Duration
	}
	if jc.RetryMaxDelay != nil {
		cfg.RetryMaxDelay = jc.RetryMaxDelay.Duration
	}
	if jc.MaxAttempts != nil {
		cfg.MaxAttempts = *jc.MaxAttempts
	}
	if jc.RetriesPerFlush != nil {
		cfg.RetriesPerFlush = *jc.RetriesPerFlush
	}
	if jc.FlushConcurrency != nil {
		cfg.FlushConcurrency = *jc.FlushConcurrency
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

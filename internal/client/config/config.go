package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"
)

// Config holds runtime settings for the sync client.
type Config struct {
	Transport           string
	ServerEndpointAddr  string
	HTTPBaseURL         string
	DatabasePath        string
	RemoteTimeout       time.Duration
	SignInTimeout       time.Duration
	OnlineCheckInterval time.Duration
	FlushInterval       time.Duration
	MaxAttempts         int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	RetriesPerFlush     int
	FlushConcurrency    int
	LogLevel            string
}

func (c *Config) LoadDefaults() {
	c.Transport = TransportGRPC
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.HTTPBaseURL = "http://127.0.0.1:8080"
	c.DatabasePath = "ledgersync.db"
	c.RemoteTimeout = 5 * time.Second
	c.SignInTimeout = 30 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.FlushInterval = 15 * time.Second
	c.MaxAttempts = 8
	c.RetryBaseDelay = 200 * time.Millisecond
	c.RetryMaxDelay = 5 * time.Second
	c.RetriesPerFlush = 2
	c.FlushConcurrency = 4
	c.LogLevel = "warn"
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Transport != TransportGRPC && c.Transport != TransportHTTP {
		errs = append(errs, fmt.Errorf("transport must be %q or %q, got %q", TransportGRPC, TransportHTTP, c.Transport))
	}
	for name, d := range map[string]time.Duration{
		"remote timeout":        c.RemoteTimeout,
		"sign-in timeout":       c.SignInTimeout,
		"online check interval": c.OnlineCheckInterval,
		"flush interval":        c.FlushInterval,
		"retry base delay":      c.RetryBaseDelay,
		"retry max delay":       c.RetryMaxDelay,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.RetriesPerFlush < 1 {
		errs = append(errs, fmt.Errorf("retries per flush must be at least 1, got %d", c.RetriesPerFlush))
	}
	if c.FlushConcurrency < 1 {
		errs = append(errs, fmt.Errorf("flush concurrency must be at least 1, got %d", c.FlushConcurrency))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database path must not be empty"))
	}
	return errors.Join(errs...)
}

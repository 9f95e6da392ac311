package config

import (
	"github.com/spf13/pflag"
)

// Flags binds the client configuration to a pflag set. Only flags the user
// actually set override the defaults and the JSON file.
type Flags struct {
	fs         *pflag.FlagSet
	configPath string
	values     Config
}

func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	f.values.LoadDefaults()
	v := &f.values

	fs.StringVarP(&f.configPath, "config", "c", "", "path to JSON config file")
	fs.StringVarP(&v.Transport, "transport", "t", v.Transport, "remote transport: grpc or http")
	fs.StringVarP(&v.ServerEndpointAddr, "addr", "a", v.ServerEndpointAddr, "gRPC address of the remote store")
	fs.StringVar(&v.HTTPBaseURL, "http-url", v.HTTPBaseURL, "base URL of the remote store REST API")
	fs.StringVarP(&v.DatabasePath, "db", "d", v.DatabasePath, "path to the local SQLite database")
	fs.DurationVar(&v.RemoteTimeout, "remote-timeout", v.RemoteTimeout, "timeout of a single remote call")
	fs.DurationVar(&v.SignInTimeout, "sign-in-timeout", v.SignInTimeout, "timeout of the sign-in flow")
	fs.DurationVarP(&v.OnlineCheckInterval, "online-check-interval", "i", v.OnlineCheckInterval, "connectivity probe interval")
	fs.DurationVar(&v.FlushInterval, "flush-interval", v.FlushInterval, "background queue flush interval")
	fs.IntVar(&v.MaxAttempts, "max-attempts", v.MaxAttempts, "attempts before a queued operation is reported as exhausted")
	fs.DurationVar(&v.RetryBaseDelay, "retry-base-delay", v.RetryBaseDelay, "first replay backoff delay")
	fs.DurationVar(&v.RetryMaxDelay, "retry-max-delay", v.RetryMaxDelay, "replay backoff cap")
	fs.IntVar(&v.RetriesPerFlush, "retries-per-flush", v.RetriesPerFlush, "connectivity retries of one operation within a single flush")
	fs.IntVar(&v.FlushConcurrency, "flush-concurrency", v.FlushConcurrency, "tables flushed in parallel")
	fs.StringVar(&v.LogLevel, "log-level", v.LogLevel, "debug, info, warn or error")

	return f
}

// Load builds the effective configuration. Call it after the flag set has
// been parsed. Cobra parses subcommand arguments into a merged set that
// shares the *pflag.Flag values, so Changed is consulted instead of the
// registering set's own visit list.
func (f *Flags) Load() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if f.configPath != "" {
		if err := parseJson(cfg, f.configPath); err != nil {
			return nil, err
		}
	}

	f.fs.VisitAll(func(fl *pflag.Flag) {
		if !fl.Changed {
			return
		}
		v := &f.values
		switch fl.Name {
		case "transport":
			cfg.Transport = v.Transport
		case "addr":
			cfg.ServerEndpointAddr = v.ServerEndpointAddr
		case "http-url":
			cfg.HTTPBaseURL = v.HTTPBaseURL
		case "db":
			cfg.DatabasePath = v.DatabasePath
		case "remote-timeout":
			cfg.RemoteTimeout = v.RemoteTimeout
		case "sign-in-timeout":
			cfg.SignInTimeout = v.SignInTimeout
		case "online-check-interval":
			cfg.OnlineCheckInterval = v.OnlineCheckInterval
		case "flush-interval":
			cfg.FlushInterval = v.FlushInterval
		case "max-attempts":
			cfg.MaxAttempts = v.MaxAttempts
		case "retry-base-delay":
			cfg.RetryBaseDelay = v.RetryBaseDelay
		case "retry-max-delay":
			cfg.RetryMaxDelay = v.RetryMaxDelay
		case "retries-per-flush":
			cfg.RetriesPerFlush = v.RetriesPerFlush
		case "flush-concurrency":
			cfg.FlushConcurrency = v.FlushConcurrency
		case "log-level":
			cfg.LogLevel = v.LogLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

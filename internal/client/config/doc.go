// Package config holds the sync client configuration.
//
// Values are layered: built-in defaults, then an optional JSON file given
// with --config, then command-line flags that were explicitly set. Every
// remote-facing timeout is finite; Validate rejects zero or negative ones.
package config

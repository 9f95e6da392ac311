// Package cli is the ledgersync command line.
//
// Every subcommand shares one App built from the layered configuration: the
// local SQLite database with the durable queue, the gRPC or HTTP transport,
// the session manager, the sync coordinator and the reconciler. One-shot
// commands (create, update, list, flush...) run against that App and exit;
// "shell" starts an interactive prompt that also watches connectivity,
// flushes the queue in the background and refreshes the access token.
//
// Mutations print whether they were confirmed by the store or queued
// offline, and a successful mutation is always followed by a refetch so the
// record shown by "show" tracks the authoritative collection.
package cli

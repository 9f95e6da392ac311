// Package services holds the client-side sync protocol: the Coordinator
// that applies mutations optimistically and queues them while the remote
// store is unreachable, the Reconciler that refreshes selected projections
// after each mutation, and the SessionManager that publishes auth state.
//
// Construct each once per process and pass it explicitly to whatever issues
// mutations.
package services

// Package remote is the client side of the remote data store.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic contract (Store, Authenticator) used by the sync
//     coordinator and the session manager: keyed insert, patch update,
//     collection select, ping, sign-in and token refresh.
//  2. A gRPC implementation (GRPCStore) that injects the access token via an
//     interceptor and transparently refreshes an expired token once.
//  3. An HTTP implementation (HTTPStore) speaking the REST surface of the
//     reference server.
//
// # Error Handling
//
// Every failure is classified into one of four typed errors, matched with
// errors.As: ConnectivityError (retryable, the caller may queue the write),
// RejectionError (the store refused the write), ConflictError (the target
// was concurrently changed; carries the stored record) and
// IdentityCollisionError (the id belongs to another principal).
// ErrUnauthorized is wrapped by rejections caused by authentication.
package remote

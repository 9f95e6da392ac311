package remote

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

// ConnectivityError means the store could not be reached or did not answer
// in time. Timeout is set when the request may have been delivered.
type ConnectivityError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *ConnectivityError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: remote store timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: remote store unreachable: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// RejectionError means the store refused the request. Retrying will not help.
type RejectionError struct {
	Op     string
	Reason string
	Err    error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: rejected by remote store: %s", e.Op, e.Reason)
}

func (e *RejectionError) Unwrap() error { return e.Err }

// ConflictError means the target row was concurrently mutated or
// soft-deleted. Current is the row as the store holds it.
type ConflictError struct {
	Op      string
	Table   string
	ID      string
	Current models.Record
	Err     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: conflict on %s/%s: %v", e.Op, e.Table, e.ID, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IdentityCollisionError means the id is already taken by a row the caller
// does not own.
type IdentityCollisionError struct {
	Table string
	ID    string
	Err   error
}

func (e *IdentityCollisionError) Error() string {
	return fmt.Sprintf("identity collision on %s/%s: %v", e.Table, e.ID, e.Err)
}

func (e *IdentityCollisionError) Unwrap() error { return e.Err }

func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	ok := errors.As(err, &ce)
	return ce, ok
}

func IsIdentityCollision(err error) bool {
	var ie *IdentityCollisionError
	return errors.As(err, &ie)
}

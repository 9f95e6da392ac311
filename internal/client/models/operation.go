package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind names the mutation a PendingOperation replays.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// OperationStatus tracks a queued operation. Only pending operations are
// replayed; rejected and exhausted ones stay in the queue until acknowledged.
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationRejected  OperationStatus = "rejected"
	OperationExhausted OperationStatus = "exhausted"
)

// PendingOperation is a durably queued mutation awaiting remote application.
type PendingOperation struct {
	EntryID       string
	Seq           int64
	TargetTable   string
	RecordID      string
	Kind          OperationKind
	Payload       json.RawMessage
	EnqueuedAt    time.Time
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	Status        OperationStatus
}

// NewCreateOperation queues the full record so a replay is a keyed upsert.
func NewCreateOperation(entryID string, rec Record, at time.Time) (PendingOperation, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return PendingOperation{}, fmt.Errorf("encode create payload: %w", err)
	}
	return PendingOperation{
		EntryID:     entryID,
		TargetTable: rec.Table,
		RecordID:    rec.ID,
		Kind:        OperationCreate,
		Payload:     payload,
		EnqueuedAt:  at,
		Status:      OperationPending,
	}, nil
}

// NewPatchOperation queues an update or delete.
func NewPatchOperation(entryID string, kind OperationKind, table, id string, p Patch, at time.Time) (PendingOperation, error) {
	if kind == OperationCreate {
		return PendingOperation{}, fmt.Errorf("patch operation cannot be %q", kind)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return PendingOperation{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return PendingOperation{
		EntryID:     entryID,
		TargetTable: table,
		RecordID:    id,
		Kind:        kind,
		Payload:     payload,
		EnqueuedAt:  at,
		Status:      OperationPending,
	}, nil
}

// Record decodes the payload of a create operation.
func (op PendingOperation) Record() (Record, error) {
	if op.Kind != OperationCreate {
		return Record{}, fmt.Errorf("operation %s is %q, not create", op.EntryID, op.Kind)
	}
	var rec Record
	if err := json.Unmarshal(op.Payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode create payload: %w", err)
	}
	return rec, nil
}

// Patch decodes the payload of an update or delete operation.
func (op PendingOperation) Patch() (Patch, error) {
	if op.Kind == OperationCreate {
		return Patch{}, fmt.Errorf("operation %s is a create", op.EntryID)
	}
	var p Patch
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return Patch{}, fmt.Errorf("decode %s payload: %w", op.Kind, err)
	}
	return p, nil
}

// Sent reports whether the operation ever reached the remote store.
func (op PendingOperation) Sent() bool {
	return op.Attempts > 0
}

// Package models defines the client-side data model of the sync protocol:
// records, queued operations and the authenticated session.
package models

import (
	"encoding/json"
	"errors"
	"maps"
	"strings"
	"time"
)

// RecordState is the client-visible lifecycle stage of a record.
type RecordState string

const (
	StateDrafted     RecordState = "drafted"
	StateOptimistic  RecordState = "optimistic"
	StateConfirmed   RecordState = "confirmed"
	StateRejected    RecordState = "rejected"
	StateSoftDeleted RecordState = "soft_deleted"
)

var ErrIncorrectField = errors.New("field must be name=value")

// Fields holds a record's business columns.
type Fields map[string]any

// Record is any persisted business entity (customer, invoice, cash-book
// entry...). ID and Owner are protocol-owned; Fields carries everything else.
type Record struct {
	Table     string      `json:"table"`
	ID        string      `json:"id"`
	Owner     string      `json:"owner"`
	Fields    Fields      `json:"fields"`
	DeletedAt *time.Time  `json:"deleted_at,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
	SyncedAt  *time.Time  `json:"synced_at,omitempty"`
	State     RecordState `json:"state,omitempty"`
}

// Now returns the current UTC time at microsecond precision, which is what
// the remote store keeps. Comparing timestamps after a round trip stays exact.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (r Record) IsDeleted() bool {
	return r.DeletedAt != nil
}

// Clone returns a copy that shares no mutable state with r.
func (r Record) Clone() Record {
	out := r
	out.Fields = maps.Clone(r.Fields)
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		out.DeletedAt = &t
	}
	if r.SyncedAt != nil {
		t := *r.SyncedAt
		out.SyncedAt = &t
	}
	return out
}

// Apply returns r with patch merged in. Fields present in the patch replace
// existing values; a nil value removes the field.
func (r Record) Apply(p Patch) Record {
	out := r.Clone()
	if out.Fields == nil {
		out.Fields = Fields{}
	}
	for k, v := range p.Fields {
		if v == nil {
			delete(out.Fields, k)
			continue
		}
		out.Fields[k] = v
	}
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		out.DeletedAt = &t
	}
	out.UpdatedAt = p.UpdatedAt
	return out
}

// MarkSynced stamps SyncedAt and moves the record to its confirmed state.
func (r *Record) MarkSynced(at time.Time) {
	r.SyncedAt = &at
	if r.IsDeleted() {
		r.State = StateSoftDeleted
	} else {
		r.State = StateConfirmed
	}
}

// Patch is a partial update of a record.
type Patch struct {
	Fields    Fields     `json:"fields,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Filter narrows a collection read.
type Filter struct {
	IncludeDeleted bool
}

// FieldsFromArgs parses "name=value" arguments. Values that are valid JSON
// (numbers, booleans, quoted strings, objects) are decoded; anything else is
// kept as a plain string.
func FieldsFromArgs(args []string) (Fields, error) {
	out := make(Fields, len(args))
	for _, item := range args {
		name, raw, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, ErrIncorrectField
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[name] = v
	}
	return out, nil
}

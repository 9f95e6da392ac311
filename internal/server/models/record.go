package models

import (
	"maps"
	"time"
)

// Record is one row of a registered table, scoped to its owner.
type Record struct {
	Table     string
	ID        string
	Owner     string
	Fields    map[string]any
	DeletedAt *time.Time
	UpdatedAt time.Time
}

func (r *Record) IsDeleted() bool { return r.DeletedAt != nil }

func (r *Record) Clone() *Record {
	out := *r
	out.Fields = maps.Clone(r.Fields)
	if r.DeletedAt != nil {
		d := *r.DeletedAt
		out.DeletedAt = &d
	}
	return &out
}

// Patch is a partial update of a Record. A nil value in Fields removes the
// field.
type Patch struct {
	Fields    map[string]any
	DeletedAt *time.Time
	UpdatedAt time.Time
}

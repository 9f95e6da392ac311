// Package storepb is the wire contract between the sync client and the
// remote store: message shapes shared by the gRPC and REST transports, and a
// hand-declared gRPC service whose messages travel as structpb.Struct.
package storepb

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Row is a record as the remote store sees it.
type Row struct {
	ID        string         `json:"id"`
	Owner     string         `json:"owner,omitempty"`
	Fields    map[string]any `json:"fields"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Patch is a partial row update. A nil field value removes the field.
type Patch struct {
	Fields    map[string]any `json:"fields,omitempty"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type InsertRequest struct {
	Table string `json:"table"`
	Row   Row    `json:"row"`
}

type UpdateRequest struct {
	Table string `json:"table"`
	ID    string `json:"id"`
	Patch Patch  `json:"patch"`
}

type SelectRequest struct {
	Table          string `json:"table"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
}

type RowsResponse struct {
	Rows []Row `json:"rows"`
}

type SignInRequest struct {
	Provider string `json:"provider"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

// Error codes carried by REST error bodies.
const (
	CodeConflict          = "conflict"
	CodeIdentityCollision = "identity_collision"
	CodeValidation        = "validation"
	CodeNotFound          = "not_found"
	CodeUnauthorized      = "unauthorized"
	CodeTokenExpired      = "token_expired"
	CodeInternal          = "internal"
)

// ErrorBody is the REST error payload. Row is set for conflicts.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Row     *Row   `json:"row,omitempty"`
}

// Encode converts a message into the Struct that travels over gRPC.
func Encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

// Decode fills v from a Struct produced by Encode.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

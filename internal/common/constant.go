// Package common contains shared constants and sentinel errors used across
// ledgersync components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// Reserved row keys. They are owned by the sync protocol and never stored
// among a record's business fields.
const (
	FieldID        = "id"
	FieldOwner     = "owner"
	FieldDeletedAt = "deleted_at"
	FieldUpdatedAt = "updated_at"
	FieldSyncedAt  = "synced_at"
)

// IsReservedField reports whether key is one of the protocol-owned row keys.
func IsReservedField(key string) bool {
	switch key {
	case FieldID, FieldOwner, FieldDeletedAt, FieldUpdatedAt, FieldSyncedAt:
		return true
	}
	return false
}

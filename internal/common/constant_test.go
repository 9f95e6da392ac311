package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsReservedField(t *testing.T) {
	for _, k := range []string{"id", "owner", "deleted_at", "updated_at", "synced_at"} {
		assert.True(t, IsReservedField(k), k)
	}
	for _, k := range []string{"name", "amount", "", "ID"} {
		assert.False(t, IsReservedField(k), k)
	}
}

// Package idgen mints client-side record identifiers.
//
// Ids are random (version 4) UUIDs drawn from crypto/rand, so they can be
// assigned offline before any write attempt. There is no fallback source:
// if the entropy source fails, generation fails.
package idgen

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Generator produces collision-resistant identifiers.
type Generator struct {
	entropy io.Reader
}

// New returns a Generator backed by crypto/rand.
func New() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewWithReader returns a Generator reading entropy from r.
func NewWithReader(r io.Reader) *Generator {
	return &Generator{entropy: r}
}

// Generate returns a new random identifier.
func (g *Generator) Generate() (string, error) {
	id, err := uuid.NewRandomFromReader(g.entropy)
	if err != nil {
		return "", fmt.Errorf("entropy source unavailable: %w", err)
	}
	return id.String(), nil
}

// MustGenerate is Generate that panics when no entropy is available.
func (g *Generator) MustGenerate() string {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}

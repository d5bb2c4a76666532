// Package uid mints business identifiers and per-version surrogate keys.
package uid

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// Marker separates the uid namespace from the entity id namespace.
const Marker = "_uid_"

// Generator produces collision-resistant identifiers. The zero value is ready to use.
type Generator struct{}

// NewGenerator returns a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// EntityID returns "{prefix}_{random}".
func (g *Generator) EntityID(prefix string) string {
	return prefix + "_" + encode(uuid.New())
}

// UID returns "{prefix}_uid_{random}".
func (g *Generator) UID(prefix string) string {
	return prefix + Marker + encode(uuid.New())
}

// IsUID reports whether s carries the uid marker.
func IsUID(s string) bool {
	return strings.Contains(s, Marker)
}

func encode(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

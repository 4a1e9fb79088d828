// Package uuid generates job ids and artifact names.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID strings of a fixed version.
type Generator struct {
	version int
}

// NewJobIDGenerator returns random (v4) ids.
func NewJobIDGenerator() *Generator {
	return &Generator{version: 4}
}

// NewArtifactNameGenerator returns time-ordered (v7) ids.
func NewArtifactNameGenerator() *Generator {
	return &Generator{version: 7}
}

// NewID implements book.IDGenerator.
func (g *Generator) NewID() (string, error) {
	var (
		id  uuid.UUID
		err error
	)
	switch g.version {
	case 7:
		id, err = uuid.NewV7()
	default:
		id, err = uuid.NewRandom()
	}
	if err != nil {
		return "", fmt.Errorf("generate uuid v%d: %w", g.version, err)
	}
	return id.String(), nil
}

// Valid reports whether s is a canonical UUID string.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	return uuid.Validate(s) == nil
}

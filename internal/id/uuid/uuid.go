// Package uuid provides run and record identifier generation.
package uuid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator creates UUID v7 run IDs and human readable record IDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRecordID returns an evidence record ID shaped EV-YYYYMMDD-XXXXXXXX.
// The suffix is taken from a random UUID so records created in the same
// millisecond still differ.
func (Generator) NewRecordID(at time.Time) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return fmt.Sprintf("EV-%s-%s", at.UTC().Format("20060102"), suffix), nil
}

// Package run defines the identifiers shared by every core component: RunID
// for a single team-workflow invocation and StepID for an agent step within
// it.
package run

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ID identifies a single end-to-end team workflow invocation. It is short,
// opaque, and monotonic-ish: a millisecond timestamp prefix followed by a
// random suffix, so IDs sort roughly by creation time without requiring a
// shared counter. Uniqueness is process-local.
type ID string

// StepID is the 1-based position of an agent step within a run. Total step
// count is known at run start for both topologies.
type StepID int

// NewID returns a fresh, process-local-unique run identifier.
func NewID(prefix string) ID {
	ts := time.Now().UTC().Format("20060102T150405.000")
	suffix := uuid.NewString()[:8]
	if prefix == "" {
		prefix = "run"
	}
	return ID(fmt.Sprintf("%s-%s-%s", prefix, ts, suffix))
}

// String returns the identifier as a plain string.
func (id ID) String() string { return string(id) }

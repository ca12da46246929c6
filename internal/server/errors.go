package server

import (
	"fmt"

	"github.com/tillpoint/posgo/internal/models"
)

// NetworkError is a transient transport-level failure. The sync engine retries
// these with capped exponential backoff; they are never terminal until the
// attempt budget is exhausted.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// BusinessRejection is a permanent server-side rejection (e.g. malformed
// payload). Not retried; the transaction is marked failed for manual review.
type BusinessRejection struct {
	StatusCode int
	Message    string
}

func (e *BusinessRejection) Error() string {
	return fmt.Sprintf("server rejected request (HTTP %d): %s", e.StatusCode, e.Message)
}

// ResourceConflict describes one resource the server found in conflict
type ResourceConflict struct {
	ResourceID        string              `json:"resource_id"`
	Kind              models.ConflictKind `json:"conflict_kind"`
	AvailableQuantity *float64            `json:"available_quantity,omitempty"`
	Snapshot          map[string]interface{} `json:"snapshot,omitempty"`
}

// ValidationConflict is a structural discrepancy between queued state and
// current server state. Never retried blindly; each resource becomes a
// ConflictRecord awaiting a human decision.
type ValidationConflict struct {
	Resources []ResourceConflict
}

func (e *ValidationConflict) Error() string {
	return fmt.Sprintf("validation conflict on %d resource(s)", len(e.Resources))
}

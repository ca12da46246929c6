package sync

import "github.com/google/uuid"

// newID generates a random identifier for transactions and conflict records
func newID() string {
	return uuid.NewString()
}

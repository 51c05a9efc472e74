package uuid

import (
	google_uuid "github.com/google/uuid"
)

// MustUUID returns a new random identifier. It panics
// only if the system's randomness source fails.
func MustUUID() string {
	return google_uuid.New().String()
}

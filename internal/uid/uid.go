// Package uid provides unique identifier generation for filestore.
package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a 32-character lowercase hex identifier (a random UUID
// without dashes), used for staged temp file names.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Short returns the first 16 characters of New, used for request IDs.
func Short() string {
	return New()[:16]
}

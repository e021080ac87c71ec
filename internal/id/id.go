package id

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random v4 identifier with the dashes stripped, so it can be
// used as an object key segment as-is.
func New() string {
	u, err := uuid.NewRandom()
	if err != nil {
		return "job-fallback-id"
	}
	return strings.ReplaceAll(u.String(), "-", "")
}

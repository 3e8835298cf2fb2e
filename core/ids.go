package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a time ordered identifier: ids generated later sort after earlier ones.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 only fails when the random source does
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return strings.ReplaceAll(id.String(), "-", "")
}

package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 rendered as 32 lower-case hex characters (no dashes),
// which keeps ids safe to use as directory names.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns a new time-ordered UUID (version 7).
// Falls back to a random UUID if the clock source fails.
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ShortID returns n random hex characters, at most 32
func ShortID(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n < 0 {
		n = 0
	}
	if n > len(hex) {
		n = len(hex)
	}
	return hex[:n]
}

// IsValidUUID reports whether u is a UUID in canonical 36-character form
func IsValidUUID(u string) bool {
	if len(u) != 36 {
		return false
	}
	_, err := uuid.Parse(u)
	return err == nil
}

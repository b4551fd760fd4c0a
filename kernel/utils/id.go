package utils

import "github.com/google/uuid"

// GenerateID returns a random (v4) identifier for controllers, viewers and frames.
func GenerateID() string {
	return uuid.NewString()
}

// ShortID trims an identifier for log output.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

package auth

import "github.com/google/uuid"

// GenerateAPIKey returns a new random UUID-format API key.
func GenerateAPIKey() string {
	return uuid.NewString()
}

package utils

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// CreateFolder creates the directory at path (and any missing parents) if it
// does not already exist.
func CreateFolder(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create folder %s: %v", path, err)
		}
	}
	return nil
}

// GenerateUniqueID returns a random identifier suitable for record keys.
func GenerateUniqueID() string {
	return uuid.NewString()
}

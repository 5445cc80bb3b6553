package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for catalog entities.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ValidateID rejects identifiers that are not canonical UUIDs.
func ValidateID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrValidation("invalid %s id %q", kind, id)
	}
	return nil
}

// MetadataFileName returns a never-reused metadata file name for a version.
func MetadataFileName(version int64) string {
	return fmt.Sprintf("%05d-%s.metadata.json", version, NewID())
}

package storage

import (
	"errors"
	"fmt"

	"github.com/scrypster/memorytap/pkg/types"
)

var (
	// ErrNotFound indicates that the requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrDuplicateID indicates an insert with an ID that already exists.
	ErrDuplicateID = errors.New("duplicate memory id")

	// ErrStorageUnavailable indicates the backing medium could not be read or written.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Unavailable wraps a driver error so that it matches ErrStorageUnavailable
// while keeping the original cause in the chain.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// ValidateNew checks the fields every backend requires before an insert.
func ValidateNew(m *types.Memory) error {
	if m == nil {
		return ErrInvalidInput
	}
	if m.ID == "" {
		return fmt.Errorf("%w: memory ID is required", ErrInvalidInput)
	}
	if m.OwnerID == "" {
		return fmt.Errorf("%w: owner ID is required", ErrInvalidInput)
	}
	if !m.Category.Valid() {
		return fmt.Errorf("%w: invalid category %q", ErrInvalidInput, m.Category)
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalidInput)
	}
	return nil
}

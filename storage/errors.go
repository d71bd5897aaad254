package storage

import (
	"errors"
	"fmt"

	"argus/core"
)

// Storage error constants
var (
	// ErrDuplicateID is returned when inserting a record whose id already exists
	ErrDuplicateID = errors.New("record with this id already exists")
)

// notFound wraps core.ErrNotFound with the record kind and id
func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
}

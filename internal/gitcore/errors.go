package gitcore

import (
	"errors"
	"fmt"
)

var (
	// ErrRepositoryNotFound is returned when no enclosing directory holds a git directory.
	ErrRepositoryNotFound = errors.New("not a git repository")

	// ErrObjectNotFound is returned when an identifier has no backing record in the store.
	ErrObjectNotFound = errors.New("object not found")

	// ErrObjectCorrupt is returned when a located record cannot be inflated or parsed.
	ErrObjectCorrupt = errors.New("object corrupt")
)

// ObjectError records the identifier whose lookup or parse failed.
type ObjectError struct {
	ID  Hash
	Err error // ErrObjectNotFound or ErrObjectCorrupt
	msg string
}

func (e *ObjectError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("%s: %v", e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.ID, e.Err, e.msg)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

func notFound(id Hash) error {
	return &ObjectError{ID: id, Err: ErrObjectNotFound}
}

func corrupt(id Hash, format string, args ...any) error {
	return &ObjectError{ID: id, Err: ErrObjectCorrupt, msg: fmt.Sprintf(format, args...)}
}

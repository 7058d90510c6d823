package resources

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("resource not found")
	ErrSourceNotFound         = errors.New("source not found")
	ErrResourceExists         = errors.New("resource already exists")
	ErrForbidden              = errors.New("forbidden")
	ErrCannotAssignIdentifier = errors.New("cannot assign identifier")

	// ErrUniqueViolation is returned by repositories when an insert trips a
	// uniqueness constraint. The identifier maintainer converts it into a
	// DuplicatedIdentifierError naming the offending pair.
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrVersionConflict is returned by optimistic-version-checked updates.
	ErrVersionConflict = errors.New("version conflict")
)

// DuplicatedIdentifierError names the (scheme, value) pair that two
// resources both claim.
type DuplicatedIdentifierError struct {
	Scheme string
	Value  string
	Href   string
}

func (e DuplicatedIdentifierError) Error() string {
	return fmt.Sprintf("identifier %s:%s already assigned to another resource (while saving %s)", e.Scheme, e.Value, e.Href)
}

// NoSuchResourceTypeError reports a type name absent from the registry.
type NoSuchResourceTypeError struct {
	Type string
}

func (e NoSuchResourceTypeError) Error() string {
	return fmt.Sprintf("no such resource type %q", e.Type)
}

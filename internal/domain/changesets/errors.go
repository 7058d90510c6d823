// Package changesets implements the multi-source update protocol: atomic,
// permission-checked batches of PUT/PATCH/DELETE operations against
// sources, applied under row locks and followed by regeneration of every
// touched resource.
package changesets

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedOperation rejects operations that are declared in the
// update schema but have no implemented semantics (currently MOVE).
var ErrUnsupportedOperation = errors.New("unsupported operation")

// MultipleErrors aggregates per-operation failures so a client sees every
// problem in one round trip. The enclosing transaction is still aborted as
// a whole.
type MultipleErrors struct {
	Errors []error
}

func (e MultipleErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e MultipleErrors) Unwrap() []error { return e.Errors }

// OperationError ties a failure to the operation index that produced it.
type OperationError struct {
	Index int
	Err   error
}

func (e OperationError) Error() string {
	return fmt.Sprintf("operation %d: %v", e.Index, e.Err)
}

func (e OperationError) Unwrap() error { return e.Err }

// SourceDataWithoutResourceError reports a source operation whose owning
// resource does not exist.
type SourceDataWithoutResourceError struct {
	ResourceHref string
}

func (e SourceDataWithoutResourceError) Error() string {
	return fmt.Sprintf("source data without resource: %s", e.ResourceHref)
}

// NoSuchSourceTypeError reports a source type name unknown to the registry.
type NoSuchSourceTypeError struct {
	SourceType string
}

func (e NoSuchSourceTypeError) Error() string {
	return fmt.Sprintf("no such source type %q", e.SourceType)
}

// IncompatibleSourceTypeError reports a known source type that the target
// resource type does not declare.
type IncompatibleSourceTypeError struct {
	ResourceType string
	SourceType   string
}

func (e IncompatibleSourceTypeError) Error() string {
	return fmt.Sprintf("source type %q is incompatible with resource type %q", e.SourceType, e.ResourceType)
}

// CantPatchDeletedSourceError rejects PATCH against a tombstoned source.
type CantPatchDeletedSourceError struct {
	Href string
}

func (e CantPatchDeletedSourceError) Error() string {
	return fmt.Sprintf("cannot patch deleted source %s", e.Href)
}

// PatchUnacceptableError rejects a patch, either by the source type's
// predicate or because it does not commute with the viewer filter.
type PatchUnacceptableError struct {
	Href   string
	Reason string
}

func (e PatchUnacceptableError) Error() string {
	return fmt.Sprintf("patch unacceptable for %s: %s", e.Href, e.Reason)
}

// SchemaValidationError reports a patched document failing its source
// type's schema.
type SchemaValidationError struct {
	Href string
	Err  error
}

func (e SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for %s: %v", e.Href, e.Err)
}

func (e SchemaValidationError) Unwrap() error { return e.Err }

// ChangesetConflictError reports a stale changeset record: it was modified
// or performed concurrently since this copy was read.
type ChangesetConflictError struct {
	ID              string
	ExpectedVersion int64
}

func (e ChangesetConflictError) Error() string {
	return fmt.Sprintf("changeset %s conflicts: expected version %d", e.ID, e.ExpectedVersion)
}

// EnvelopeError reports a malformed operation envelope before any
// application is attempted.
type EnvelopeError struct {
	Index int
	Field string
	Err   error
}

func (e EnvelopeError) Error() string {
	return fmt.Sprintf("operation %d: invalid %s: %v", e.Index, e.Field, e.Err)
}

func (e EnvelopeError) Unwrap() error { return e.Err }

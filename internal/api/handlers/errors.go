package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prism-data/prism/internal/api/problem"
	"github.com/prism-data/prism/internal/domain/changesets"
	"github.com/prism-data/prism/internal/domain/resources"
)

// writeDomainError maps the domain error taxonomy onto problem documents.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error, env string) {
	var (
		duplicated   resources.DuplicatedIdentifierError
		noSuchType   resources.NoSuchResourceTypeError
		noSuchSrc    changesets.NoSuchSourceTypeError
		incompat     changesets.IncompatibleSourceTypeError
		orphan       changesets.SourceDataWithoutResourceError
		deletedSrc   changesets.CantPatchDeletedSourceError
		unacceptable changesets.PatchUnacceptableError
		schemaErr    changesets.SchemaValidationError
		csConflict   changesets.ChangesetConflictError
		multiple     changesets.MultipleErrors
	)

	switch {
	case errors.Is(err, resources.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, "resource-not-found", "Resource not found", err, env)
	case errors.Is(err, resources.ErrSourceNotFound):
		problem.Write(w, r, http.StatusNotFound, "source-not-found", "Source not found", err, env)
	case errors.Is(err, resources.ErrForbidden):
		problem.Write(w, r, http.StatusForbidden, "forbidden", "Forbidden", err, env)
	case errors.Is(err, resources.ErrResourceExists):
		problem.Write(w, r, http.StatusConflict, "resource-exists", "Resource already exists", err, env)
	case errors.Is(err, resources.ErrCannotAssignIdentifier):
		problem.Write(w, r, http.StatusBadRequest, "cannot-assign-identifier", "Cannot assign identifier", err, env)
	case errors.As(err, &duplicated):
		problem.Write(w, r, http.StatusConflict, "duplicated-identifier", "Identifier already in use", err, env,
			problem.WithErrors(map[string]any{
				"scheme": duplicated.Scheme,
				"value":  duplicated.Value,
				"href":   duplicated.Href,
			}))
	case errors.As(err, &noSuchType):
		problem.Write(w, r, http.StatusBadRequest, "unknown-resource-type", "Unknown resource type", err, env)
	case errors.As(err, &noSuchSrc):
		problem.Write(w, r, http.StatusBadRequest, "unknown-source-type", "Unknown source type", err, env)
	case errors.As(err, &incompat):
		problem.Write(w, r, http.StatusBadRequest, "incompatible-source-type", "Source type not valid for resource type", err, env)
	case errors.As(err, &orphan):
		problem.Write(w, r, http.StatusUnprocessableEntity, "source-without-resource", "Source targets a missing resource", err, env)
	case errors.As(err, &deletedSrc):
		problem.Write(w, r, http.StatusConflict, "source-deleted", "Cannot patch a deleted source", err, env)
	case errors.As(err, &unacceptable):
		problem.Write(w, r, http.StatusUnprocessableEntity, "patch-unacceptable", "Patch not acceptable", err, env)
	case errors.As(err, &schemaErr):
		problem.Write(w, r, http.StatusUnprocessableEntity, "schema-validation", "Source data failed validation", err, env)
	case errors.As(err, &csConflict), errors.Is(err, resources.ErrVersionConflict):
		problem.Write(w, r, http.StatusConflict, "changeset-conflict", "Changeset already performed or concurrently modified", err, env)
	case errors.Is(err, changesets.ErrUnsupportedOperation):
		problem.Write(w, r, http.StatusBadRequest, "unsupported-operation", "Operation not supported", err, env)
	case errors.As(err, &multiple):
		problem.Write(w, r, http.StatusBadRequest, "invalid-changeset", "Changeset rejected", err, env,
			problem.WithErrors(operationErrors(multiple)))
	default:
		problem.Write(w, r, http.StatusInternalServerError, "internal", "Internal server error", err, env)
	}
}

func operationErrors(multiple changesets.MultipleErrors) map[string]any {
	out := make(map[string]any, len(multiple.Errors))
	for i, err := range multiple.Errors {
		key := "general"
		var opErr changesets.OperationError
		var envErr changesets.EnvelopeError
		switch {
		case errors.As(err, &opErr):
			key = "operation/" + strconv.Itoa(opErr.Index)
		case errors.As(err, &envErr):
			key = "operation/" + strconv.Itoa(envErr.Index)
		default:
			key = "general/" + strconv.Itoa(i)
		}
		out[key] = err.Error()
	}
	return out
}

// Package resources defines the derived-document data model and the
// regeneration engine that keeps it consistent.
//
// A Resource's data document is always the output of the most recent
// successful regeneration; clients never edit it directly. Sources are the
// independently editable contributions a regeneration is computed from.
package resources

import (
	"encoding/json"
	"time"
)

// Resource is the addressable derived entity, one per (type, identifier).
type Resource struct {
	Href       string
	Type       string
	Identifier string

	// URI is the computed @id of the current document.
	URI string

	// Data is the derived document. Never hand-edited.
	Data map[string]any

	Version int64
	Deleted bool
	Extant  bool

	StartDate *time.Time
	EndDate   *time.Time
	Point     *Point

	Created  time.Time
	Modified time.Time
}

// Point is an optional spatial position.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Source is one author-supplied contribution to a resource, scoped by
// source type. A deleted Source keeps its row (history and links survive)
// but carries no data and contributes nothing to regeneration.
type Source struct {
	Href         string
	ResourceHref string
	Type         string

	Data    map[string]any
	Version int64
	Deleted bool

	Author    string
	Committer string

	Created  time.Time
	Modified time.Time
}

// Link is a fully derived edge row. The set of Link rows for a resource is
// always exactly the outbound link set of its current document.
type Link struct {
	ResourceHref string
	TargetHref   string
	Type         string
}

// Identifier maps a unique (scheme, value) pair to exactly one resource.
type Identifier struct {
	ResourceHref string
	Scheme       string
	Value        string
}

// ChangesetState is the lifecycle state of a changeset.
type ChangesetState string

const (
	StatePendingApproval ChangesetState = "pending-approval"
	StateScheduled       ChangesetState = "scheduled"
	StatePerformed       ChangesetState = "performed"
	StateFailed          ChangesetState = "failed"
)

// Changeset is a named, versioned batch of source-level update operations.
type Changeset struct {
	ID         string
	BaseHref   string
	Author     string
	Committer  string
	State      ChangesetState
	Operations []Operation
	Version    int64

	Created  time.Time
	Modified time.Time
}

// Operation is one source-level edit inside a changeset. A target is named
// either by an explicit source href or by a (resourceHref, sourceType)
// pair; both resolve against the changeset's base href.
type Operation struct {
	Op                   string          `json:"op" validate:"required,oneof=put patch delete move"`
	Href                 string          `json:"href,omitempty" validate:"required_without=ResourceHref"`
	ResourceHref         string          `json:"resourceHref,omitempty"`
	SourceType           string          `json:"sourceType,omitempty" validate:"required_with=ResourceHref"`
	Data                 map[string]any  `json:"data,omitempty"`
	Patch                json.RawMessage `json:"patch,omitempty"`
	CreateEmptyIfMissing bool            `json:"createEmptyIfMissing,omitempty"`
}

const (
	OpPut    = "put"
	OpPatch  = "patch"
	OpDelete = "delete"
	OpMove   = "move"
)

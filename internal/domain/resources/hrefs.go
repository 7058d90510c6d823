package resources

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const sourceSegment = "/source/"

var (
	ErrInvalidHref = errors.New("invalid href")

	identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._~-]*$`)
	typePattern       = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
)

// NewIdentifier mints a generated resource identifier.
func NewIdentifier() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("mint identifier: %w", err)
	}
	return strings.ToLower(id.String()), nil
}

// ValidateIdentifier checks a client-supplied identifier.
func ValidateIdentifier(identifier string) error {
	if !identifierPattern.MatchString(identifier) {
		return fmt.Errorf("%w: identifier %q", ErrInvalidHref, identifier)
	}
	return nil
}

// ResourceHref builds the canonical address of a resource.
func ResourceHref(resourceType, identifier string) string {
	return "/" + resourceType + "/" + identifier
}

// SourceHref builds the address of a source under its resource.
func SourceHref(resourceHref, sourceType string) string {
	return resourceHref + sourceSegment + sourceType
}

// ParseResourceHref splits a resource href into (type, identifier).
func ParseResourceHref(href string) (string, string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(href), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || !typePattern.MatchString(parts[0]) || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q is not a resource href", ErrInvalidHref, href)
	}
	return parts[0], parts[1], nil
}

// ParseSourceHref splits a source href into (resource href, source type).
func ParseSourceHref(href string) (string, string, error) {
	idx := strings.LastIndex(href, sourceSegment)
	if idx < 0 {
		return "", "", fmt.Errorf("%w: %q is not a source href", ErrInvalidHref, href)
	}
	resourceHref := href[:idx]
	sourceType := href[idx+len(sourceSegment):]
	if sourceType == "" || strings.Contains(sourceType, "/") {
		return "", "", fmt.Errorf("%w: %q is not a source href", ErrInvalidHref, href)
	}
	if _, _, err := ParseResourceHref(resourceHref); err != nil {
		return "", "", err
	}
	return resourceHref, sourceType, nil
}

// ResolveHref resolves a possibly relative href against a base href.
func ResolveHref(baseHref, href string) (string, error) {
	trimmed := strings.TrimSpace(href)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty href", ErrInvalidHref)
	}
	if strings.HasPrefix(trimmed, "/") {
		return trimmed, nil
	}
	base, err := url.Parse(baseHref)
	if err != nil {
		return "", fmt.Errorf("%w: base %q", ErrInvalidHref, baseHref)
	}
	ref, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidHref, href)
	}
	return base.ResolveReference(ref).String(), nil
}

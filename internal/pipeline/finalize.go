package pipeline

import (
	"fmt"
	"strings"
)

// FinalizeOptions controls the epilogue that runs after all inference and
// normalization steps.
type FinalizeOptions struct {
	Type       string
	Identifier string

	// AllowClientID permits a source-supplied @id to survive; otherwise @id
	// is always derived.
	AllowClientID bool

	// URITemplates are tried in order; the first whose placeholders all
	// resolve wins. Placeholders reference top-level document fields plus
	// {type} and {identifier}.
	URITemplates []string

	// IDRedirectBase prefixes the fallback id-redirect URL.
	IDRedirectBase string
}

// Finalize strips the @source namespace, merges stableIdentifier into
// identifier, and computes @id.
func Finalize(doc Doc, opts FinalizeOptions) error {
	doc.Delete("/@source")

	if stable, ok := doc.Get("/stableIdentifier"); ok {
		stableMap, isMap := stable.(map[string]any)
		if !isMap {
			return fmt.Errorf("stableIdentifier must be an object")
		}
		identifier := map[string]any{}
		if existing, ok := doc.Get("/identifier"); ok {
			if existingMap, isMap := existing.(map[string]any); isMap {
				for scheme, value := range existingMap {
					identifier[scheme] = value
				}
			}
		}
		// Stable identifiers win over inferred ones.
		for scheme, value := range stableMap {
			identifier[scheme] = value
		}
		if err := doc.Set("/identifier", identifier); err != nil {
			return err
		}
	}

	clientID, _ := doc.Get("/@id")
	if s, ok := clientID.(string); ok && s != "" && opts.AllowClientID {
		return nil
	}
	return doc.Set("/@id", deriveID(doc, opts))
}

func deriveID(doc Doc, opts FinalizeOptions) string {
	for _, template := range opts.URITemplates {
		if expanded, ok := expandTemplate(doc, template, opts); ok {
			return expanded
		}
	}
	return fmt.Sprintf("%s/id/%s/%s", strings.TrimRight(opts.IDRedirectBase, "/"), opts.Type, opts.Identifier)
}

// expandTemplate substitutes {placeholder} segments; it fails the template
// when any placeholder has no string value.
func expandTemplate(doc Doc, template string, opts FinalizeOptions) (string, bool) {
	var b strings.Builder
	rest := template
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			b.WriteString(rest)
			return b.String(), true
		}
		closing := strings.Index(rest[open:], "}")
		if closing < 0 {
			return "", false
		}
		b.WriteString(rest[:open])
		name := rest[open+1 : open+closing]
		value, ok := templateValue(doc, name, opts)
		if !ok {
			return "", false
		}
		b.WriteString(value)
		rest = rest[open+closing+1:]
	}
}

func templateValue(doc Doc, name string, opts FinalizeOptions) (string, bool) {
	switch name {
	case "type":
		return opts.Type, true
	case "identifier":
		return opts.Identifier, true
	}
	raw, ok := doc.Get("/" + escapeSegment(name))
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

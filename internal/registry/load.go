package registry

import (
	"fmt"
	"os"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/prism-data/prism/internal/pipeline"
)

// Catalog is the serialized form of the type registry. Schemas and wiring
// live in the catalog file; filter and patch hooks are code and are resolved
// by name against Hooks at load time.
type Catalog struct {
	IDRedirectBase string            `yaml:"idRedirectBase"`
	ResourceTypes  []ResourceTypeDef `yaml:"resourceTypes"`
	LinkTypes      []LinkTypeDef     `yaml:"linkTypes"`
}

type ResourceTypeDef struct {
	Name                      string          `yaml:"name"`
	ClientAssignedIdentifiers bool            `yaml:"clientAssignedIdentifiers"`
	AllowClientID             bool            `yaml:"allowClientID"`
	URITemplates              []string        `yaml:"uriTemplates"`
	DateFields                []string        `yaml:"dateFields"`
	SourceTypes               []SourceTypeDef `yaml:"sourceTypes"`
	Inference                 []InferenceDef  `yaml:"inference"`
}

type SourceTypeDef struct {
	Name       string         `yaml:"name"`
	Schema     map[string]any `yaml:"schema"`
	PatchHook  string         `yaml:"patchHook"`
	FilterHook string         `yaml:"filterHook"`
}

// InferenceDef declares one ordered inference step.
type InferenceDef struct {
	Op      string   `yaml:"op"` // firstOf | set
	Target  string   `yaml:"target"`
	Sources []string `yaml:"sources"`
	Update  bool     `yaml:"update"`
	Append  bool     `yaml:"append"`
}

type LinkTypeDef struct {
	Name        string `yaml:"name"`
	Inverse     string `yaml:"inverse"`
	Functional  bool   `yaml:"functional"`
	Embed       bool   `yaml:"embed"`
	Subresource bool   `yaml:"subresource"`
}

// Hooks resolves catalog hook names to code.
type Hooks struct {
	Filters         map[string]FilterFunc
	PatchPredicates map[string]PatchPredicate
}

// LoadFile reads a YAML catalog and builds the registry.
func LoadFile(path string, hooks Hooks) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read type catalog: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse type catalog: %w", err)
	}
	return Load(catalog, hooks)
}

// Load builds an immutable Registry from a catalog.
func Load(catalog Catalog, hooks Hooks) (*Registry, error) {
	reg := &Registry{
		resourceTypes:  make(map[string]*ResourceType, len(catalog.ResourceTypes)),
		linkTypes:      make(map[string]*LinkType, len(catalog.LinkTypes)),
		idRedirectBase: catalog.IDRedirectBase,
	}

	for _, def := range catalog.LinkTypes {
		if def.Name == "" {
			return nil, fmt.Errorf("link type with empty name")
		}
		if _, dup := reg.linkTypes[def.Name]; dup {
			return nil, fmt.Errorf("duplicate link type %q", def.Name)
		}
		reg.linkTypes[def.Name] = &LinkType{
			Name:        def.Name,
			Inverse:     def.Inverse,
			Functional:  def.Functional,
			Embed:       def.Embed,
			Subresource: def.Subresource,
		}
	}

	for _, def := range catalog.ResourceTypes {
		rt, err := buildResourceType(def, hooks)
		if err != nil {
			return nil, err
		}
		if _, dup := reg.resourceTypes[rt.Name]; dup {
			return nil, fmt.Errorf("duplicate resource type %q", rt.Name)
		}
		reg.resourceTypes[rt.Name] = rt
	}

	reg.linkSpecs = buildLinkSpecs(reg.linkTypes)
	return reg, nil
}

func buildResourceType(def ResourceTypeDef, hooks Hooks) (*ResourceType, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("resource type with empty name")
	}
	rt := &ResourceType{
		Name:                      def.Name,
		ClientAssignedIdentifiers: def.ClientAssignedIdentifiers,
		AllowClientID:             def.AllowClientID,
		URITemplates:              def.URITemplates,
		DateFields:                def.DateFields,
		sourceTypes:               make(map[string]*SourceType, len(def.SourceTypes)),
	}
	if len(rt.DateFields) == 0 {
		rt.DateFields = []string{"start_date", "end_date"}
	}

	for _, stDef := range def.SourceTypes {
		st, err := buildSourceType(def.Name, stDef, hooks)
		if err != nil {
			return nil, err
		}
		if _, dup := rt.sourceTypes[st.Name]; dup {
			return nil, fmt.Errorf("resource type %q: duplicate source type %q", def.Name, st.Name)
		}
		rt.sourceTypes[st.Name] = st
	}

	for i, inf := range def.Inference {
		step, err := buildStep(inf)
		if err != nil {
			return nil, fmt.Errorf("resource type %q inference step %d: %w", def.Name, i, err)
		}
		rt.Inference = append(rt.Inference, step)
	}
	return rt, nil
}

func buildSourceType(resourceType string, def SourceTypeDef, hooks Hooks) (*SourceType, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("resource type %q: source type with empty name", resourceType)
	}
	st := &SourceType{Name: def.Name}

	if def.Schema != nil {
		compiled, err := compileSchema(resourceType, def.Name, def.Schema)
		if err != nil {
			return nil, err
		}
		st.schema = compiled
	}
	if def.FilterHook != "" {
		filter, ok := hooks.Filters[def.FilterHook]
		if !ok {
			return nil, fmt.Errorf("source type %q: unknown filter hook %q", def.Name, def.FilterHook)
		}
		st.Filter = filter
	}
	if def.PatchHook != "" {
		predicate, ok := hooks.PatchPredicates[def.PatchHook]
		if !ok {
			return nil, fmt.Errorf("source type %q: unknown patch hook %q", def.Name, def.PatchHook)
		}
		st.PatchAcceptable = predicate
	}
	return st, nil
}

func compileSchema(resourceType, sourceType string, schema map[string]any) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	location := fmt.Sprintf("catalog:///%s/%s.json", resourceType, sourceType)
	if err := compiler.AddResource(location, toJSONValue(schema)); err != nil {
		return nil, fmt.Errorf("source type %q: add schema: %w", sourceType, err)
	}
	compiled, err := compiler.Compile(location)
	if err != nil {
		return nil, fmt.Errorf("source type %q: compile schema: %w", sourceType, err)
	}
	return compiled, nil
}

func buildStep(def InferenceDef) (pipeline.Step, error) {
	if def.Target == "" {
		return nil, fmt.Errorf("missing target")
	}
	switch def.Op {
	case "firstOf":
		return pipeline.FirstOf{Target: def.Target, Sources: def.Sources, Update: def.Update}, nil
	case "set":
		return pipeline.Union{Target: def.Target, Sources: def.Sources, Append: def.Append}, nil
	default:
		return nil, fmt.Errorf("unknown op %q", def.Op)
	}
}

func buildLinkSpecs(linkTypes map[string]*LinkType) []pipeline.LinkSpec {
	specs := make([]pipeline.LinkSpec, 0, len(linkTypes))
	for _, lt := range linkTypes {
		specs = append(specs, pipeline.LinkSpec{
			Name:       lt.Name,
			Inverse:    lt.Inverse,
			Functional: lt.Functional,
		})
	}
	// Deterministic pipeline order.
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Target is one resolvable extraction schema, identified by the name the
// configuration refers to it by.
type Target struct {
	ID          string
	Raw         json.RawMessage
	resolved    *jsonschema.Resolved
	requiredTop []string
}

// Description returns the schema JSON for embedding into prompts.
func (t *Target) Description() string {
	return string(t.Raw)
}

// AsMap returns the schema as a generic map, the shape the LLM client's
// structured-output option wants.
func (t *Target) AsMap() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(t.Raw, &m); err != nil {
		return nil, fmt.Errorf("schema %s is not an object: %w", t.ID, err)
	}
	return m, nil
}

// Registry holds the known extraction targets, loaded once from the
// embedded schema files.
type Registry struct {
	targets map[string]*Target
}

func NewRegistry() (*Registry, error) {
	r := &Registry{targets: make(map[string]*Target)}

	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("failed to list embedded schemas: %w", err)
	}

	for _, entry := range entries {
		id := strings.TrimSuffix(entry.Name(), ".json")
		raw, err := schemaFS.ReadFile("schemas/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", id, err)
		}
		if err := r.Register(id, raw); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a target schema.
func (r *Registry) Register(id string, raw []byte) error {
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("schema %s is not valid: %w", id, err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return fmt.Errorf("schema %s failed to resolve: %w", id, err)
	}

	r.targets[id] = &Target{
		ID:          id,
		Raw:         json.RawMessage(raw),
		resolved:    resolved,
		requiredTop: topLevelRequired(raw),
	}
	return nil
}

// Get looks up a target by identifier.
func (r *Registry) Get(id string) (*Target, error) {
	t, ok := r.targets[id]
	if !ok {
		return nil, fmt.Errorf("unknown schema: %s (known: %s)", id, strings.Join(r.IDs(), ", "))
	}
	return t, nil
}

// IDs lists the registered schema identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func topLevelRequired(raw []byte) []string {
	var probe struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	return probe.Required
}

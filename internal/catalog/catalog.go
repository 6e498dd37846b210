// Package catalog is the single source of truth for what the assistant may
// do: the named actions, the entities they may touch, and the services they
// may call. Absence from the catalog is an automatic denial.
//
// Both the response validator and the action executor consult the same
// catalog independently. The duplication is deliberate: a bypass of one
// check must not bypass the system.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when an action name has no catalog entry.
var ErrNotFound = errors.New("action not found in catalog")

// ActionDefinition maps a named action to exactly one service call.
// Immutable after load.
type ActionDefinition struct {
	Name        string `yaml:"name" json:"name"`
	Domain      string `yaml:"domain" json:"domain"`
	Service     string `yaml:"service" json:"service"`
	EntityID    string `yaml:"entity_id" json:"entity_id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// File is the YAML document shape for a catalog definition.
type File struct {
	Actions         []ActionDefinition `yaml:"actions" json:"actions"`
	AllowedEntities []string           `yaml:"allowed_entities" json:"allowed_entities"`
	AllowedServices []string           `yaml:"allowed_services" json:"allowed_services"`
	ContextEntities []string           `yaml:"context_entities,omitempty" json:"context_entities,omitempty"`
}

// Catalog holds the compiled allowlist tables. Static for the process
// lifetime; all lookups are exact and case-sensitive.
type Catalog struct {
	actions         map[string]ActionDefinition
	entities        map[string]struct{}
	services        map[string]struct{}
	contextEntities []string
	names           []string
}

// Parse builds a Catalog from YAML bytes, validating the document against
// the embedded JSON Schema and then checking the structural invariants:
// every action entity must be in the entity allowlist and every action
// (domain, service) pair must be in the service allowlist. These are the
// only startup-fatal conditions in the system.
func Parse(data []byte) (*Catalog, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog YAML: %w", err)
	}
	return build(&f)
}

// Load reads a catalog definition from disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the embedded default catalog.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// MustDefault is like Default but panics on error. The embedded default is
// expected to always validate.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(fmt.Sprintf("catalog.Default: %v", err))
	}
	return c
}

func build(f *File) (*Catalog, error) {
	c := &Catalog{
		actions:  make(map[string]ActionDefinition, len(f.Actions)),
		entities: make(map[string]struct{}, len(f.AllowedEntities)),
		services: make(map[string]struct{}, len(f.AllowedServices)),
	}

	for _, e := range f.AllowedEntities {
		c.entities[e] = struct{}{}
	}
	for _, s := range f.AllowedServices {
		c.services[s] = struct{}{}
	}

	for _, a := range f.Actions {
		if _, dup := c.actions[a.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate action %q", a.Name)
		}
		if _, ok := c.entities[a.EntityID]; !ok {
			return nil, fmt.Errorf("catalog: action %q references entity %q not in allowed_entities", a.Name, a.EntityID)
		}
		if _, ok := c.services[serviceKey(a.Domain, a.Service)]; !ok {
			return nil, fmt.Errorf("catalog: action %q references service %q not in allowed_services", a.Name, serviceKey(a.Domain, a.Service))
		}
		c.actions[a.Name] = a
		c.names = append(c.names, a.Name)
	}
	sort.Strings(c.names)

	for _, e := range f.ContextEntities {
		if _, ok := c.entities[e]; !ok {
			return nil, fmt.Errorf("catalog: context entity %q not in allowed_entities", e)
		}
		c.contextEntities = append(c.contextEntities, e)
	}

	return c, nil
}

// Resolve returns the definition for an action name, or ErrNotFound.
func (c *Catalog) Resolve(name string) (ActionDefinition, error) {
	a, ok := c.actions[name]
	if !ok {
		return ActionDefinition{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return a, nil
}

// EntityAllowed reports whether an entity may be an action target or a
// context source.
func (c *Catalog) EntityAllowed(entityID string) bool {
	_, ok := c.entities[entityID]
	return ok
}

// ServiceAllowed reports whether a (domain, service) pair may be called.
func (c *Catalog) ServiceAllowed(domain, service string) bool {
	_, ok := c.services[serviceKey(domain, service)]
	return ok
}

// ActionNames returns the sorted action vocabulary.
func (c *Catalog) ActionNames() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Actions returns all action definitions, sorted by name.
func (c *Catalog) Actions() []ActionDefinition {
	out := make([]ActionDefinition, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.actions[n])
	}
	return out
}

// ContextEntities returns the entities included in prompt context, in
// catalog order.
func (c *Catalog) ContextEntities() []string {
	out := make([]string, len(c.contextEntities))
	copy(out, c.contextEntities)
	return out
}

func serviceKey(domain, service string) string {
	return strings.TrimSpace(domain) + "/" + strings.TrimSpace(service)
}

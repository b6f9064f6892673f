// Package schema is the process-wide registry mapping schema_id to a
// parsed Schema, per spec §4.6: "get", "all", "update", and a
// broadcast subscription independent of the GraphQL layer (Design
// Notes "Shared schema provider"). Grounded on
// drpcorg-chotki/classes/fields.go's append-only field list parsed
// into typed entries, adapted from the teacher's static, offset-
// addressed classes to schemas discovered dynamically at runtime from
// schema_definition_v1/schema_field_definition_v1 documents.
package schema

import (
	"sync"

	"github.com/p2panda/aquadoggo/internal/bus"
	"github.com/p2panda/aquadoggo/internal/types"
)

// FieldDefinition is one named, typed field a schema declares.
type FieldDefinition struct {
	Name string
	Type types.FieldType
}

// Schema is a materialized schema_definition_v1 view: a name, its
// declared fields, and the view id it was built from (schemas are
// versioned by view id, per the glossary's "Schema id").
type Schema struct {
	ID          types.SchemaID
	Name        string
	Description string
	Fields      []FieldDefinition
}

// FieldType looks up a declared field's type by name, ok=false if the
// schema has no such field.
func (s *Schema) FieldType(name string) (types.FieldType, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return "", false
}

// ChangeKind distinguishes a schema's first appearance from a later
// update to the same name at a new view id.
type ChangeKind int

const (
	SchemaAdded ChangeKind = iota
	SchemaUpdated
)

// Change is broadcast whenever Update admits a new or updated schema.
type Change struct {
	Kind   ChangeKind
	Schema *Schema
}

// AllowPolicy decides whether a discovered schema id is admitted into
// the registry, per spec §6's `allow_schema_ids` configuration.
type AllowPolicy struct {
	Wildcard bool
	Allowed  map[string]bool
}

// NewAllowPolicy builds a policy from the raw configuration value:
// either the literal "*" or an explicit list of schema names.
func NewAllowPolicy(raw []string) AllowPolicy {
	if len(raw) == 1 && raw[0] == "*" {
		return AllowPolicy{Wildcard: true}
	}
	allowed := make(map[string]bool, len(raw))
	for _, name := range raw {
		allowed[name] = true
	}
	return AllowPolicy{Allowed: allowed}
}

func (p AllowPolicy) admits(name string) bool {
	if p.Wildcard {
		return true
	}
	return p.Allowed[name]
}

// Provider is the concurrency-safe schema_id -> Schema registry. The
// zero value is not usable; construct with New.
type Provider struct {
	mu     sync.RWMutex
	byID   map[string]*Schema
	byName map[string]*Schema // latest admitted view per schema name
	allow  AllowPolicy
	bus    *bus.Bus[Change]
}

func New(allow AllowPolicy) *Provider {
	return &Provider{
		byID:   make(map[string]*Schema),
		byName: make(map[string]*Schema),
		allow:  allow,
		bus:    bus.New[Change](),
	}
}

// Has reports whether id is currently registered.
func (p *Provider) Has(id types.SchemaID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byID[id.String()]
	return ok
}

// Get returns the registered schema for id, if any.
func (p *Provider) Get(id types.SchemaID) (*Schema, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.byID[id.String()]
	return s, ok
}

// All returns every currently registered schema.
func (p *Provider) All() []*Schema {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Schema, 0, len(p.byID))
	for _, s := range p.byID {
		out = append(out, s)
	}
	return out
}

// Subscribe registers for Added/Updated notifications, for the query
// planner and GraphQL surface to invalidate caches (Design Notes
// "Shared schema provider").
func (p *Provider) Subscribe(buffer int) (<-chan Change, func()) {
	return p.bus.Subscribe(buffer)
}

// Update admits a newly materialized schema if allow-listed, doing
// nothing if a schema with the exact same view id is already
// registered (spec §4.5 "schema" task, "If the schema already exists
// with the same view id, do nothing").
func (p *Provider) Update(s *Schema) {
	if !p.allow.admits(s.Name) {
		return
	}

	p.mu.Lock()
	existingByID, sameView := p.byID[s.ID.String()]
	_, hadName := p.byName[s.Name]
	p.byID[s.ID.String()] = s
	p.byName[s.Name] = s
	p.mu.Unlock()

	if sameView && existingByID != nil {
		return
	}
	kind := SchemaAdded
	if hadName {
		kind = SchemaUpdated
	}
	p.bus.Publish(Change{Kind: kind, Schema: s})
}

// Validate performs field-level structural conformance checking for
// the validator: every scalar field's declared type must match the
// value's type. Relation targets are not resolved here (that is the
// materializer's job); this is the "structural check" the spec allows
// even before a document exists.
func (p *Provider) Validate(id types.SchemaID, fields map[string]types.FieldValue) error {
	s, ok := p.Get(id)
	if !ok {
		return nil
	}
	for name, v := range fields {
		declared, ok := s.FieldType(name)
		if !ok {
			return &UnknownFieldError{Schema: id, Field: name}
		}
		if declared != v.Type {
			return &FieldTypeMismatchError{Schema: id, Field: name, Want: declared, Got: v.Type}
		}
	}
	return nil
}

type UnknownFieldError struct {
	Schema types.SchemaID
	Field  string
}

func (e *UnknownFieldError) Error() string {
	return "schema " + e.Schema.String() + ": unknown field " + e.Field
}

type FieldTypeMismatchError struct {
	Schema     types.SchemaID
	Field      string
	Want, Got types.FieldType
}

func (e *FieldTypeMismatchError) Error() string {
	return "schema " + e.Schema.String() + ": field " + e.Field + " wants " + string(e.Want) + ", got " + string(e.Got)
}

// Package schema describes the entities a store may contain. A schema is
// loaded from a YAML model resource and is used to type field values,
// fill in defaults and check required fields before a commit.
package schema

import (
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

var (
	// ErrInvalidSchema is returned when a model resource cannot
	// be used as a schema
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrUnknownEntity is returned when an entity name is not
	// declared by the schema
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrUnknownField is returned when a field name is not
	// declared by its entity
	ErrUnknownField = errors.New("unknown field")
	// ErrTypeMismatch is returned when a value cannot be
	// converted to its field's type
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrValidation is returned when a record does not satisfy
	// its entity's constraints
	ErrValidation = errors.New("validation failed")
)

// FileName returns the name of the model resource for an application
func FileName(appID string) string {
	return appID + ".schema.yaml"
}

// Schema is a named set of entities
type Schema struct {
	Name     string    `yaml:"name"`
	Entities []*Entity `yaml:"entities"`

	entities map[string]*Entity
}

// Entity is a named record type
type Entity struct {
	Name   string   `yaml:"name"`
	Fields []*Field `yaml:"fields"`

	fields map[string]*Field
}

// Field is a typed attribute of an entity
type Field struct {
	Name     string      `yaml:"name"`
	Type     Type        `yaml:"type"`
	Required bool        `yaml:"required,omitempty"`
	Default  interface{} `yaml:"default,omitempty"`
}

// Load reads and parses the model resource at path
func Load(path string) (*Schema, error) {
	data, err := ioutil.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("could not read schema %s: %w", path, err)
	}

	schema, err := Parse(data)

	if err != nil {
		return nil, fmt.Errorf("could not load schema %s: %w", filepath.Base(path), err)
	}

	return schema, nil
}

// Parse decodes a YAML model resource and checks that it is a
// usable schema. Unknown keys are rejected.
func Parse(data []byte) (*Schema, error) {
	var schema Schema

	if err := yaml.UnmarshalStrict(data, &schema); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSchema, err)
	}

	if err := schema.compile(); err != nil {
		return nil, err
	}

	return &schema, nil
}

// Marshal encodes the schema back into its YAML form
func (schema *Schema) Marshal() ([]byte, error) {
	return yaml.Marshal(schema)
}

func (schema *Schema) compile() error {
	if schema.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchema)
	}

	schema.entities = make(map[string]*Entity, len(schema.Entities))

	for i, entity := range schema.Entities {
		if entity == nil || entity.Name == "" {
			return fmt.Errorf("%w: entity %d has no name", ErrInvalidSchema, i)
		}

		if _, ok := schema.entities[entity.Name]; ok {
			return fmt.Errorf("%w: entity %s is declared twice", ErrInvalidSchema, entity.Name)
		}

		if err := entity.compile(); err != nil {
			return err
		}

		schema.entities[entity.Name] = entity
	}

	return nil
}

// Entity returns the entity with the given name or
// ErrUnknownEntity
func (schema *Schema) Entity(name string) (*Entity, error) {
	entity, ok := schema.entities[name]

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}

	return entity, nil
}

// EntityNames lists entity names in declaration order
func (schema *Schema) EntityNames() []string {
	names := make([]string, len(schema.Entities))

	for i, entity := range schema.Entities {
		names[i] = entity.Name
	}

	return names
}

func (entity *Entity) compile() error {
	entity.fields = make(map[string]*Field, len(entity.Fields))

	for i, field := range entity.Fields {
		if field == nil || field.Name == "" {
			return fmt.Errorf("%w: field %d of %s has no name", ErrInvalidSchema, i, entity.Name)
		}

		if _, ok := entity.fields[field.Name]; ok {
			return fmt.Errorf("%w: field %s.%s is declared twice", ErrInvalidSchema, entity.Name, field.Name)
		}

		if !field.Type.Valid() {
			return fmt.Errorf("%w: field %s.%s has unknown type %q", ErrInvalidSchema, entity.Name, field.Name, field.Type)
		}

		if field.Default != nil {
			value, err := field.Type.Normalize(field.Default)

			if err != nil {
				return fmt.Errorf("%w: default of %s.%s: %s", ErrInvalidSchema, entity.Name, field.Name, err)
			}

			field.Default = value
		}

		entity.fields[field.Name] = field
	}

	return nil
}

// Field returns the field with the given name or
// ErrUnknownField
func (entity *Entity) Field(name string) (*Field, error) {
	field, ok := entity.fields[name]

	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, entity.Name, name)
	}

	return field, nil
}

// Defaults returns a fresh field map holding every
// declared default
func (entity *Entity) Defaults() map[string]interface{} {
	values := map[string]interface{}{}

	for _, field := range entity.Fields {
		if field.Default != nil {
			values[field.Name] = field.Default
		}
	}

	return values
}

// Normalize converts value to the representation used for
// the named field. A nil value clears the field.
func (entity *Entity) Normalize(name string, value interface{}) (interface{}, error) {
	field, err := entity.Field(name)

	if err != nil {
		return nil, err
	}

	normalized, err := field.Type.Normalize(value)

	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", entity.Name, name, err)
	}

	return normalized, nil
}

// Decode normalizes every value in a stored field map.
// Fields that are no longer declared are dropped.
func (entity *Entity) Decode(values map[string]interface{}) (map[string]interface{}, error) {
	decoded := make(map[string]interface{}, len(values))

	for name, value := range values {
		field, ok := entity.fields[name]

		if !ok || value == nil {
			continue
		}

		normalized, err := field.Type.Normalize(value)

		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", entity.Name, name, err)
		}

		decoded[name] = normalized
	}

	return decoded, nil
}

// Validate checks that every required field is set
func (entity *Entity) Validate(values map[string]interface{}) error {
	for _, field := range entity.Fields {
		if !field.Required {
			continue
		}

		if value, ok := values[field.Name]; !ok || value == nil {
			return fmt.Errorf("%w: %s.%s is required", ErrValidation, entity.Name, field.Name)
		}
	}

	return nil
}

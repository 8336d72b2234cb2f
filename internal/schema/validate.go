// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/taibuivan/mongate/internal/platform/apperr"
)

// errPrinter localizes jsonschema error kinds into client-safe messages.
var errPrinter = message.NewPrinter(language.English)

// # Document Validators

// documentValidator wraps one compiled JSON schema.
type documentValidator struct {
	schema *jsonschema.Schema
}

// validate checks a decoded JSON document and returns field-level errors.
func (v documentValidator) validate(doc any) []apperr.FieldError {
	if v.schema == nil {
		return nil
	}
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}

	validationErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []apperr.FieldError{{Field: "(document)", Message: err.Error()}}
	}

	var fields []apperr.FieldError
	flattenCauses(validationErr, &fields)
	return fields
}

// flattenCauses walks the cause tree down to the leaves, which carry the
// actionable instance locations.
func flattenCauses(ve *jsonschema.ValidationError, out *[]apperr.FieldError) {
	if len(ve.Causes) == 0 {
		field := strings.Join(ve.InstanceLocation, ".")
		if field == "" {
			field = "(document)"
		}
		*out = append(*out, apperr.FieldError{
			Field:   field,
			Message: ve.ErrorKind.LocalizedString(errPrinter),
		})
		return
	}
	for _, cause := range ve.Causes {
		flattenCauses(cause, out)
	}
}

// compileValidator compiles a schema document under a synthetic URL.
func compileValidator(name string, doc map[string]any) (documentValidator, error) {
	// Round-trip through encoding/json so every nested value has the plain
	// map/slice shape the compiler expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return documentValidator{}, fmt.Errorf("schema: marshal %s: %w", name, err)
	}
	decoded, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return documentValidator{}, fmt.Errorf("schema: decode %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, decoded); err != nil {
		return documentValidator{}, fmt.Errorf("schema: add resource %s: %w", name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return documentValidator{}, fmt.Errorf("schema: compile %s: %w", name, err)
	}
	return documentValidator{schema: compiled}, nil
}

// schemaDoc lowers a collection descriptor to a draft 2020-12 schema document.
// Partial mode drops the required list for additive (PATCH) validation.
func (d *CollectionDescriptor) schemaDoc(partial bool) map[string]any {
	doc := map[string]any{
		"type":                 "object",
		"properties":           propertiesDoc(d.Properties),
		"additionalProperties": d.AdditionalProperties,
	}
	if !partial && len(d.Required) > 0 {
		doc["required"] = d.Required
	}
	return doc
}

// propertySchemaDoc lowers one PropertySchema to plain maps.
func propertySchemaDoc(p *PropertySchema) map[string]any {
	doc := map[string]any{}
	if p.Type != "" {
		doc["type"] = p.Type
	}
	if p.Format != "" {
		doc["format"] = p.Format
	}
	if p.Pattern != "" {
		doc["pattern"] = p.Pattern
	}
	if p.Minimum != nil {
		doc["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		doc["maximum"] = *p.Maximum
	}
	if p.MinLength != nil {
		doc["minLength"] = *p.MinLength
	}
	if p.MaxLength != nil {
		doc["maxLength"] = *p.MaxLength
	}
	if len(p.Enum) > 0 {
		doc["enum"] = p.Enum
	}
	if len(p.Properties) > 0 {
		doc["properties"] = propertiesDoc(p.Properties)
	}
	if len(p.Required) > 0 {
		doc["required"] = p.Required
	}
	if p.Items != nil {
		doc["items"] = propertySchemaDoc(p.Items)
	}
	return doc
}

func propertiesDoc(props map[string]*PropertySchema) map[string]any {
	out := make(map[string]any, len(props))
	for name, prop := range props {
		out[name] = propertySchemaDoc(prop)
	}
	return out
}

// # Descriptor Meta-Validation

// validateCollection checks one collection descriptor against the meta-schema
// rules, using the full descriptor set for cross-collection references.
func validateCollection(d *CollectionDescriptor, all map[string]*CollectionDescriptor) error {
	if d.Name == "" {
		return fmt.Errorf("collection descriptor missing name")
	}
	if len(d.Properties) == 0 {
		return fmt.Errorf("collection %q declares no properties", d.Name)
	}

	// required ⊆ properties
	for _, required := range d.Required {
		if _, ok := d.Properties[required]; !ok {
			return fmt.Errorf("collection %q requires undeclared property %q", d.Name, required)
		}
	}

	// index fields are properties (or _id)
	for _, index := range d.Indexes {
		if len(index.Keys) == 0 {
			return fmt.Errorf("collection %q has an index with no keys", d.Name)
		}
		for _, key := range index.Keys {
			if !d.HasProperty(key.Field) {
				return fmt.Errorf("collection %q indexes undeclared property %q", d.Name, key.Field)
			}
		}
	}

	// search fields are properties
	for _, field := range d.SearchFields {
		if !d.HasProperty(field) {
			return fmt.Errorf("collection %q searches undeclared property %q", d.Name, field)
		}
	}

	// relationship plumbing
	for alias, rel := range d.Relationships {
		if err := validateRelationship(d, alias, rel, all); err != nil {
			return err
		}
	}

	return nil
}

// validateRelationship checks one relationship's fields on both sides.
func validateRelationship(d *CollectionDescriptor, alias string, rel *RelationshipDescriptor, all map[string]*CollectionDescriptor) error {
	switch rel.Type {
	case RelBelongsTo, RelHasMany, RelManyToMany:
	default:
		return fmt.Errorf("collection %q relationship %q has unknown type %q", d.Name, alias, rel.Type)
	}

	if !d.HasProperty(rel.LocalField) {
		return fmt.Errorf("collection %q relationship %q: local field %q is not a property", d.Name, alias, rel.LocalField)
	}

	target, ok := all[rel.Target]
	if !ok {
		return fmt.Errorf("collection %q relationship %q: target collection %q does not exist", d.Name, alias, rel.Target)
	}

	if rel.Type == RelManyToMany {
		junction, ok := all[rel.Through]
		if !ok {
			return fmt.Errorf("collection %q relationship %q: junction collection %q does not exist", d.Name, alias, rel.Through)
		}
		if !junction.HasProperty(rel.ThroughLocalField) {
			return fmt.Errorf("collection %q relationship %q: junction field %q is not a property of %q", d.Name, alias, rel.ThroughLocalField, rel.Through)
		}
		if !junction.HasProperty(rel.ThroughForeignField) {
			return fmt.Errorf("collection %q relationship %q: junction field %q is not a property of %q", d.Name, alias, rel.ThroughForeignField, rel.Through)
		}
		// ForeignField lives on the target for the second hop.
		if !target.HasProperty(rel.ForeignField) {
			return fmt.Errorf("collection %q relationship %q: foreign field %q is not a property of %q", d.Name, alias, rel.ForeignField, rel.Target)
		}
		return nil
	}

	if !target.HasProperty(rel.ForeignField) {
		return fmt.Errorf("collection %q relationship %q: foreign field %q is not a property of %q", d.Name, alias, rel.ForeignField, rel.Target)
	}
	return nil
}

// validateProcedure checks one procedure descriptor.
func validateProcedure(p *ProcedureDescriptor) error {
	if p.Name == "" {
		return fmt.Errorf("procedure descriptor missing name")
	}
	if p.Method == "" || p.Endpoint == "" {
		return fmt.Errorf("procedure %q missing method or endpoint", p.Name)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("procedure %q declares no steps", p.Name)
	}

	seen := map[string]bool{}
	for _, step := range p.Steps {
		if step.ID == "" {
			return fmt.Errorf("procedure %q has a step without an id", p.Name)
		}
		if seen[step.ID] {
			return fmt.Errorf("procedure %q has duplicate step id %q", p.Name, step.ID)
		}
		seen[step.ID] = true
		if !stepKinds[step.Type] {
			return fmt.Errorf("procedure %q step %q has unknown type %q", p.Name, step.ID, step.Type)
		}
		if p.Transactional && step.Type == StepHTTP {
			return fmt.Errorf("procedure %q step %q: http steps are not allowed inside transactions", p.Name, step.ID)
		}
	}

	for _, id := range p.ErrorHandling.RollbackSteps {
		if !seen[id] {
			return fmt.Errorf("procedure %q rolls back unknown step %q", p.Name, id)
		}
	}

	switch p.ErrorHandling.Strategy {
	case "", StrategyRollback, StrategyRetry, StrategyIgnore:
	default:
		return fmt.Errorf("procedure %q has unknown error strategy %q", p.Name, p.ErrorHandling.Strategy)
	}

	return nil
}

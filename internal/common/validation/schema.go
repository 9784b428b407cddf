// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"sort"
	"strings"

	apperrors "permit-workers/internal/common/errors"
	"permit-workers/pkg/registry"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator checks job variables against the input schema each task
// type declares in the activity registry. Schemas are compiled once.
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

func NewSchemaValidator(reg *registry.ActivityRegistry) (*SchemaValidator, error) {
	v := &SchemaValidator{schemas: make(map[string]*gojsonschema.Schema)}
	if reg == nil {
		return v, nil
	}
	for _, a := range reg.Activities {
		if len(a.InputSchema) == 0 {
			continue
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(a.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("compile input schema for %s: %w", a.TaskType, err)
		}
		v.schemas[a.TaskType] = schema
	}
	return v, nil
}

// Validate returns a VALIDATION_FAILED error listing every violation. Task
// types without a schema pass.
func (v *SchemaValidator) Validate(taskType string, variables map[string]interface{}) error {
	if v == nil {
		return nil
	}
	schema, ok := v.schemas[taskType]
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(variables))
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("job variables are not a JSON object: %v", err))
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	sort.Strings(msgs)
	return apperrors.NewValidationError(strings.Join(msgs, "; "))
}

// Has reports whether taskType has a compiled schema.
func (v *SchemaValidator) Has(taskType string) bool {
	_, ok := v.schemas[taskType]
	return ok
}

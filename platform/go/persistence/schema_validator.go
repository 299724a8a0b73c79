package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrPayloadNotObject indicates the request body parsed but is not a JSON
// object, which every resource payload must be.
var ErrPayloadNotObject = errors.New("payload must be a JSON object")

// SchemaValidator validates payloads against JSON Schemas compiled via
// santhosh-tekuri/jsonschema. Compiled schemas are cached by name.
type SchemaValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator returns a validator with an empty schema cache.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Validate ensures the payload matches the schema definition registered
// under name. The returned error, when schema-caused, unwraps to a
// *jsonschema.ValidationError carrying per-field detail.
func (v *SchemaValidator) Validate(name string, definition, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is required for validation")
	}

	compiled, err := v.getOrCompile(name, definition)
	if err != nil {
		return err
	}

	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if _, ok := document.(map[string]any); !ok {
		return ErrPayloadNotObject
	}

	return compiled.Validate(document)
}

// FieldErrorsFromSchema flattens a jsonschema validation error into
// field -> messages, suitable for the 400 response body. Returns nil when
// err is not a schema validation error.
func FieldErrorsFromSchema(err error) map[string][]string {
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return nil
	}

	fields := make(map[string][]string)
	collectSchemaCauses(validationErr, fields)
	return fields
}

func collectSchemaCauses(err *jsonschema.ValidationError, fields map[string][]string) {
	if len(err.Causes) == 0 {
		field := strings.TrimPrefix(err.InstanceLocation, "/")
		if field == "" {
			field = "payload"
		}
		field = strings.ReplaceAll(field, "/", ".")
		fields[field] = append(fields[field], err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaCauses(cause, fields)
	}
}

func (v *SchemaValidator) getOrCompile(name string, definition []byte) (*jsonschema.Schema, error) {
	key := "memory://schemas/" + name

	v.mu.RLock()
	compiled, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// another goroutine may have populated the cache while we were waiting
	if compiled, ok = v.cache[key]; ok {
		return compiled, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(key, bytes.NewReader(definition)); err != nil {
		return nil, fmt.Errorf("register schema %s: %w", name, err)
	}

	newCompiled, err := compiler.Compile(key)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}

	v.cache[key] = newCompiled
	return newCompiled, nil
}

package realm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// payloadSchemas are the JSON schemas for each action kind's payload.
var payloadSchemas = map[ActionKind]string{
	ActionBuild: `{
		"type": "object",
		"required": ["building"],
		"properties": {
			"building": {"type": "string", "pattern": "^[a-z_]{1,32}$"}
		},
		"additionalProperties": false
	}`,
	ActionTrain: `{
		"type": "object",
		"required": ["unit", "quantity"],
		"properties": {
			"unit": {"type": "string", "pattern": "^[a-z_]{1,32}$"},
			"quantity": {"type": "integer", "minimum": 1, "maximum": 100000}
		},
		"additionalProperties": false
	}`,
	ActionAttack: `{
		"type": "object",
		"required": ["units"],
		"properties": {
			"units": {
				"type": "object",
				"minProperties": 1,
				"propertyNames": {"pattern": "^[a-z_]{1,32}$"},
				"additionalProperties": {"type": "integer", "minimum": 1}
			}
		},
		"additionalProperties": false
	}`,
}

var (
	compileOnce sync.Once
	compiled    map[ActionKind]*jsonschema.Schema
	compileErr  error
)

func schemas() (map[ActionKind]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		compiled = make(map[ActionKind]*jsonschema.Schema, len(payloadSchemas))
		for kind, src := range payloadSchemas {
			url := kind.String() + ".schema.json"
			if err := c.AddResource(url, strings.NewReader(src)); err != nil {
				compileErr = fmt.Errorf("add schema %s: %w", url, err)
				return
			}
			s, err := c.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", url, err)
				return
			}
			compiled[kind] = s
		}
	})
	return compiled, compileErr
}

// ValidatePayload checks raw against the schema for kind.
func ValidatePayload(kind ActionKind, raw json.RawMessage) error {
	all, err := schemas()
	if err != nil {
		return err
	}
	s, ok := all[kind]
	if !ok {
		return fmt.Errorf("%w: unknown action kind %d", ErrInvalidOrder, kind)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// DecodePayload validates raw for kind and decodes it into dst.
func DecodePayload(kind ActionKind, raw json.RawMessage, dst any) error {
	if err := ValidatePayload(kind, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

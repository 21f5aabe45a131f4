package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": ["RPC", "PEER_INFO", "ERROR", "ROUTED", "PUSH"]},
    "name": {"type": "string", "maxLength": 128},
    "payload": {}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "RPC"}}},
      "then": {"required": ["name", "payload"], "properties": {"name": {"minLength": 1}}}
    },
    {
      "if": {"properties": {"type": {"const": "ERROR"}}},
      "then": {
        "required": ["payload"],
        "properties": {"payload": {"type": "object", "required": ["code"], "properties": {"code": {"type": "integer"}}}}
      }
    },
    {
      "if": {"properties": {"type": {"const": "PEER_INFO"}}},
      "then": {
        "required": ["payload"],
        "properties": {"payload": {"type": "object", "required": ["peer_id"], "properties": {"peer_id": {"type": "integer"}}}}
      }
    }
  ]
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func envelopeValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("envelope.schema.json", envelopeSchema)
	})
	return schema, schemaErr
}

// Validate checks a raw frame against the envelope schema.
func Validate(b []byte) error {
	s, err := envelopeValidator()
	if err != nil {
		return fmt.Errorf("envelope schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return s.Validate(v)
}

// DecodeFrame validates and decodes a frame in one go.
func DecodeFrame(b []byte) (Envelope, error) {
	if err := Validate(b); err != nil {
		return Envelope{}, err
	}
	return DecodeBase(b)
}

package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates a schema from a YAML file.
//
// Example file:
//
//	name: operations
//	fields:
//	  - name: operation_id
//	    type: string
//	    required: true
//	    pattern: "^OP-\\d{8}$"
//	  - name: amount
//	    type: decimal
//	    required: true
//	    min: "0.01"
//	key_fields: [operation_id, amount]
//	sum_fields: [amount]
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a schema from YAML bytes.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

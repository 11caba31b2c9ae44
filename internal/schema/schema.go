// Package schema defines the column schema a delimited file must satisfy
// before its rows enter the ingestion pipeline.
//
// A Schema names every expected column with its type and constraints, the
// business-key fields that define record identity for deduplication, and
// the numeric fields folded into batch control totals. Schemas can be
// declared in YAML configuration files or taken from the built-in
// operations schema.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// FieldType is the expected data type for a column.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldDecimal FieldType = "decimal"
	FieldDate    FieldType = "date"
)

// FieldSpec defines validation rules for a single column.
type FieldSpec struct {
	// Name is the column header name (case-insensitive match).
	Name string `yaml:"name"`

	// Type is the expected data type.
	Type FieldType `yaml:"type"`

	// Required means the column must be present in the header and
	// non-empty in every row.
	Required bool `yaml:"required"`

	// Pattern is an optional regular expression the raw value must match.
	Pattern string `yaml:"pattern,omitempty"`

	// Enum lists the allowed values for the column (case-insensitive).
	Enum []string `yaml:"enum,omitempty"`

	// Min and Max bound decimal/integer values (inclusive).
	// Decimal strings so YAML round-trips exactly, e.g. "0.01".
	Min string `yaml:"min,omitempty"`
	Max string `yaml:"max,omitempty"`

	// NoFuture rejects date values after the current day.
	NoFuture bool `yaml:"no_future,omitempty"`

	pattern  *regexp.Regexp
	min, max *decimal.Decimal
}

// Bounds returns the parsed min/max bounds; nil means unbounded.
// Only meaningful after Schema.Validate.
func (f *FieldSpec) Bounds() (min, max *decimal.Decimal) {
	return f.min, f.max
}

// MatchPattern reports whether the raw value satisfies the field's pattern.
// Fields without a pattern always match.
func (f *FieldSpec) MatchPattern(raw string) bool {
	if f.pattern == nil {
		return true
	}
	return f.pattern.MatchString(raw)
}

// Schema describes the full expected shape of an input file.
type Schema struct {
	// Name identifies the schema in logs and reports.
	Name string `yaml:"name"`

	// Fields lists every expected column in header order.
	Fields []FieldSpec `yaml:"fields"`

	// KeyFields are the columns whose values define record identity.
	// Two rows with equal key-field values are duplicates.
	KeyFields []string `yaml:"key_fields"`

	// SumFields are the numeric columns summed into the batch control total.
	SumFields []string `yaml:"sum_fields"`
}

// Field returns the spec for the named column, or nil if not declared.
func (s *Schema) Field(name string) *FieldSpec {
	for i := range s.Fields {
		if strings.EqualFold(s.Fields[i].Name, name) {
			return &s.Fields[i]
		}
	}
	return nil
}

// RequiredColumns returns the names of all required columns.
func (s *Schema) RequiredColumns() []string {
	var cols []string
	for _, f := range s.Fields {
		if f.Required {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

// Validate checks internal consistency: patterns compile, key and sum
// fields reference declared columns, and sum fields are numeric.
// It must be called before the schema is used; it also compiles patterns.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name must not be empty")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q declares no fields", s.Name)
	}
	if len(s.KeyFields) == 0 {
		return fmt.Errorf("schema %q declares no key_fields", s.Name)
	}

	seen := make(map[string]bool, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		lower := strings.ToLower(f.Name)
		if f.Name == "" {
			return fmt.Errorf("schema %q: field %d has no name", s.Name, i)
		}
		if seen[lower] {
			return fmt.Errorf("schema %q: duplicate field %q", s.Name, f.Name)
		}
		seen[lower] = true

		switch f.Type {
		case FieldString, FieldInteger, FieldDecimal, FieldDate:
		default:
			return fmt.Errorf("schema %q: field %q has unknown type %q", s.Name, f.Name, f.Type)
		}

		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return fmt.Errorf("schema %q: field %q pattern: %w", s.Name, f.Name, err)
			}
			f.pattern = re
		}

		if f.Min != "" || f.Max != "" {
			if f.Type != FieldDecimal && f.Type != FieldInteger {
				return fmt.Errorf("schema %q: field %q has min/max but is not numeric", s.Name, f.Name)
			}
			if f.Min != "" {
				d, err := decimal.NewFromString(f.Min)
				if err != nil {
					return fmt.Errorf("schema %q: field %q min: %w", s.Name, f.Name, err)
				}
				f.min = &d
			}
			if f.Max != "" {
				d, err := decimal.NewFromString(f.Max)
				if err != nil {
					return fmt.Errorf("schema %q: field %q max: %w", s.Name, f.Name, err)
				}
				f.max = &d
			}
			if f.min != nil && f.max != nil && f.min.GreaterThan(*f.max) {
				return fmt.Errorf("schema %q: field %q min exceeds max", s.Name, f.Name)
			}
		}
		if f.NoFuture && f.Type != FieldDate {
			return fmt.Errorf("schema %q: field %q has no_future but is not a date", s.Name, f.Name)
		}
	}

	for _, k := range s.KeyFields {
		if !seen[strings.ToLower(k)] {
			return fmt.Errorf("schema %q: key field %q is not declared", s.Name, k)
		}
	}
	for _, c := range s.SumFields {
		f := s.Field(c)
		if f == nil {
			return fmt.Errorf("schema %q: sum field %q is not declared", s.Name, c)
		}
		if f.Type != FieldDecimal && f.Type != FieldInteger {
			return fmt.Errorf("schema %q: sum field %q is not numeric", s.Name, c)
		}
	}

	return nil
}

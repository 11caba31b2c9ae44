package schema

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
name: transfers
fields:
  - name: txn_id
    type: string
    required: true
    pattern: "^TX-\\d{4}$"
  - name: txn_date
    type: date
    required: true
    no_future: true
  - name: amount
    type: decimal
    required: true
    min: "0.01"
    max: "1000000"
  - name: channel
    type: string
    enum: [WEB, ATM, BRANCH]
key_fields: [txn_id, txn_date, amount]
sum_fields: [amount]
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if s.Name != "transfers" {
		t.Errorf("Name = %q, want transfers", s.Name)
	}
	if len(s.Fields) != 4 {
		t.Fatalf("Fields = %d, want 4", len(s.Fields))
	}

	amount := s.Field("amount")
	if amount.Type != FieldDecimal || !amount.Required {
		t.Errorf("amount spec = %+v", amount)
	}
	min, max := amount.Bounds()
	if min == nil || min.String() != "0.01" {
		t.Errorf("amount min = %v, want 0.01", min)
	}
	if max == nil || max.String() != "1000000" {
		t.Errorf("amount max = %v, want 1000000", max)
	}

	if !s.Field("txn_id").MatchPattern("TX-1234") {
		t.Error("txn_id pattern should match TX-1234")
	}
	if s.Field("txn_id").MatchPattern("TX-12345") {
		t.Error("txn_id pattern should reject TX-12345")
	}

	if ch := s.Field("channel"); len(ch.Enum) != 3 {
		t.Errorf("channel enum = %v", ch.Enum)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not yaml", data: "{{{"},
		{name: "fails validation", data: "name: x\nfields:\n  - name: a\n    type: string\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("Parse() should fail")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if s.Name != "transfers" {
		t.Errorf("Name = %q", s.Name)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile() should fail for a missing file")
	}
}

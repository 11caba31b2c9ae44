package engine

import (
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain value", input: "hello", want: "hello"},
		{name: "surrounding whitespace", input: "  hello  ", want: "hello"},
		{name: "excel formula wrapper", input: `="OP-12345678"`, want: "OP-12345678"},
		{name: "bare formula prefix", input: "=123", want: "123"},
		{name: "double quotes", input: `"quoted"`, want: "quoted"},
		{name: "single quotes", input: "'quoted'", want: "quoted"},
		{name: "byte order mark", input: "\uFEFFvalue", want: "value"},
		{name: "empty", input: "", want: ""},
		{name: "only whitespace", input: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseDecimal Tests
// ----------------------------------------------------------------------------

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain integer", input: "123", want: "123"},
		{name: "plain decimal", input: "123.45", want: "123.45"},
		{name: "negative", input: "-42.5", want: "-42.5"},
		{name: "accounting negative", input: "(123.45)", want: "-123.45"},
		{name: "dollar sign", input: "$1,234.56", want: "1234.56"},
		{name: "euro sign", input: "€99.99", want: "99.99"},
		{name: "sol prefix", input: "S/ 1,500.00", want: "1500"},
		{name: "thousands separators", input: "1,000,000", want: "1000000"},
		{name: "scientific notation", input: "1.5e3", want: "1500"},
		{name: "empty", input: "", wantErr: true},
		{name: "text", input: "abc", wantErr: true},
		{name: "double decimal point", input: "1.2.3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecimal(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDecimal(%q) = %s, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDecimal(%q) error: %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseDecimal(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseDate Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string // expected date in 2006-01-02 form
		wantErr bool
	}{
		{name: "iso", input: "2024-03-15", want: "2024-03-15"},
		{name: "slash ymd", input: "2024/03/15", want: "2024-03-15"},
		{name: "us format", input: "03/15/2024", want: "2024-03-15"},
		{name: "single digit us", input: "3/5/2024", want: "2024-03-05"},
		{name: "dashes", input: "03-15-2024", want: "2024-03-15"},
		{name: "dots", input: "15.03.2024", wantErr: true},
		{name: "compact", input: "20240315", want: "2024-03-15"},
		{name: "month name", input: "Mar 15, 2024", want: "2024-03-15"},
		{name: "two digit year 90s", input: "3/15/99", want: "1999-03-15"},
		{name: "two digit year 20s", input: "3/15/25", want: "2025-03-15"},
		{name: "impossible day", input: "2024-02-30", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "text", input: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDate(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDate(%q) error: %v", tt.input, err)
			}
			if got.Format("2006-01-02") != tt.want {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.input, got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestParseDateDotFormat(t *testing.T) {
	// 15.03.2024 parses as month 15 and fails; 03.15.2024 is the
	// accepted dotted form.
	got, err := ParseDate("03.15.2024")
	if err != nil {
		t.Fatalf("ParseDate error: %v", err)
	}
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseDate = %v, want %v", got, want)
	}
}

// ----------------------------------------------------------------------------
// ParseInt Tests
// ----------------------------------------------------------------------------

func TestParseInt(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "plain", input: "42", want: 42},
		{name: "negative", input: "-7", want: -7},
		{name: "with separators", input: "1,000", want: 1000},
		{name: "integral decimal", input: "5.0", want: 5},
		{name: "fractional", input: "5.5", wantErr: true},
		{name: "text", input: "five", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInt(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseInt(%q) = %d, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInt(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseInt(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

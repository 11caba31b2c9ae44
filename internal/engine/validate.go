package engine

// validate.go enforces the schema over parsed rows.
//
// Validation happens at two levels:
//  1. Header validation: every required column must be present, or the
//     whole batch fails with a StructuralError before any row is read.
//  2. Row validation: each cell is checked against its FieldSpec (type,
//     pattern, enum, bounds). A bad row is rejected with its line number
//     and reason; the batch continues.
//
// Row validation is pure and order-independent, so it fans out across
// workers. Results are re-sequenced to original file order before they
// reach deduplication, which is order-dependent.

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/reconcile/internal/schema"
)

// Validator checks raw rows against a schema.
type Validator struct {
	schema  *schema.Schema
	workers int
}

// NewValidator creates a validator. workers controls row-level
// parallelism; values below 1 are treated as 1.
func NewValidator(s *schema.Schema, workers int) *Validator {
	if workers < 1 {
		workers = 1
	}
	return &Validator{schema: s, workers: workers}
}

// CheckHeader verifies the structural precondition: every required
// column must appear in the header. Returns the header index on success
// and a StructuralError otherwise.
func (v *Validator) CheckHeader(header []string) (HeaderIndex, error) {
	idx := MakeHeaderIndex(header)

	var missing []string
	for _, col := range v.schema.RequiredColumns() {
		if _, ok := idx[strings.ToLower(col)]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &StructuralError{
			Reason: fmt.Sprintf("missing required column(s): %s", strings.Join(missing, ", ")),
		}
	}

	return idx, nil
}

// rowResult holds the outcome slot for one input row.
type rowResult struct {
	record    *ValidatedRecord
	rejection *Rejection
}

// ValidateAll validates every row, fanning out across workers and
// re-sequencing results to input order. It never stops on a bad row;
// the returned rejections cover all failed rows. The only error it can
// return is context cancellation.
func (v *Validator) ValidateAll(ctx context.Context, idx HeaderIndex, records []RawRecord) ([]ValidatedRecord, []Rejection, error) {
	results := make([]rowResult, len(records))

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < v.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = v.validateRow(idx, records[i])
			}
		}()
	}

	send := func() error {
		defer close(jobs)
		for i := range records {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	err := send()
	wg.Wait()
	if err != nil {
		return nil, nil, err
	}

	valid := make([]ValidatedRecord, 0, len(records))
	var rejected []Rejection
	for _, res := range results {
		switch {
		case res.record != nil:
			valid = append(valid, *res.record)
		case res.rejection != nil:
			rejected = append(rejected, *res.rejection)
		}
	}

	return valid, rejected, nil
}

// validateRow checks one row against every field spec. The first failing
// field rejects the row.
func (v *Validator) validateRow(idx HeaderIndex, raw RawRecord) rowResult {
	fields := make(map[string]Value, len(v.schema.Fields))

	for i := range v.schema.Fields {
		spec := &v.schema.Fields[i]
		key := strings.ToLower(spec.Name)

		pos, ok := idx[key]
		if !ok || pos >= len(raw.Cells) {
			if spec.Required {
				return reject(raw.Line, spec.Name, "value missing")
			}
			fields[key] = Value{Type: spec.Type}
			continue
		}

		cell := CleanCell(raw.Cells[pos])
		if cell == "" {
			if spec.Required {
				return reject(raw.Line, spec.Name, "empty required field")
			}
			fields[key] = Value{Type: spec.Type}
			continue
		}

		val, reason := coerce(spec, cell)
		if reason != "" {
			return reject(raw.Line, spec.Name, reason)
		}
		fields[key] = val
	}

	return rowResult{record: &ValidatedRecord{Line: raw.Line, Fields: fields}}
}

func reject(line int, column, reason string) rowResult {
	return rowResult{rejection: &Rejection{Line: line, Column: column, Reason: reason}}
}

// coerce converts a non-empty cleaned cell into a typed Value, applying
// the spec's constraints. Returns a non-empty reason on failure.
func coerce(spec *schema.FieldSpec, cell string) (Value, string) {
	if !spec.MatchPattern(cell) {
		return Value{}, fmt.Sprintf("value %q does not match pattern %s", cell, spec.Pattern)
	}

	if len(spec.Enum) > 0 {
		matched := ""
		for _, e := range spec.Enum {
			if strings.EqualFold(cell, e) {
				matched = e
				break
			}
		}
		if matched == "" {
			return Value{}, fmt.Sprintf("value %q not in allowed set [%s]", cell, strings.Join(spec.Enum, ", "))
		}
		cell = matched
	}

	val := Value{Type: spec.Type, Present: true}

	switch spec.Type {
	case schema.FieldString:
		val.Str = cell

	case schema.FieldInteger:
		n, err := ParseInt(cell)
		if err != nil {
			return Value{}, fmt.Sprintf("invalid integer: %v", err)
		}
		val.Int = n
		if reason := checkBounds(spec, decimal.NewFromInt(n)); reason != "" {
			return Value{}, reason
		}

	case schema.FieldDecimal:
		d, err := ParseDecimal(cell)
		if err != nil {
			return Value{}, fmt.Sprintf("invalid decimal: %v", err)
		}
		val.Dec = d
		if reason := checkBounds(spec, d); reason != "" {
			return Value{}, reason
		}

	case schema.FieldDate:
		t, err := ParseDate(cell)
		if err != nil {
			return Value{}, fmt.Sprintf("invalid date: %v", err)
		}
		if spec.NoFuture && t.After(endOfToday()) {
			return Value{}, fmt.Sprintf("future date not allowed: %s", t.Format("2006-01-02"))
		}
		val.Date = t
	}

	return val, ""
}

// checkBounds enforces the spec's inclusive min/max on a numeric value.
func checkBounds(spec *schema.FieldSpec, d decimal.Decimal) string {
	min, max := spec.Bounds()
	if min != nil && d.LessThan(*min) {
		return fmt.Sprintf("value %s below minimum %s", d, min)
	}
	if max != nil && d.GreaterThan(*max) {
		return fmt.Sprintf("value %s exceeds maximum %s", d, max)
	}
	return ""
}

func endOfToday() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)
}

package engine

// controltotal.go computes batch control totals: the row count plus the
// exact decimal sum of each designated numeric column. Totals are
// computed once over the validated-and-deduplicated set before load and
// independently reconstructed from what was actually persisted after
// load; the two must match exactly. Exact decimal arithmetic is used
// throughout so no rounding drift can appear between the two sides.

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/reconcile/internal/schema"
)

// ControlTotal is the aggregate checksum for one batch.
type ControlTotal struct {
	RowCount int                        `json:"row_count"`
	Sums     map[string]decimal.Decimal `json:"sums"`
}

// ComputeControlTotal folds the designated sum columns over records.
// Absent/empty values contribute zero. Pure function over its input.
func ComputeControlTotal(records []ValidatedRecord, sumFields []string) ControlTotal {
	ct := ControlTotal{
		RowCount: len(records),
		Sums:     make(map[string]decimal.Decimal, len(sumFields)),
	}

	for _, col := range sumFields {
		key := strings.ToLower(col)
		sum := decimal.Zero
		for _, rec := range records {
			v, ok := rec.Fields[key]
			if !ok || !v.Present {
				continue
			}
			if v.Type == schema.FieldInteger {
				sum = sum.Add(decimal.NewFromInt(v.Int))
			} else {
				sum = sum.Add(v.Dec)
			}
		}
		ct.Sums[key] = sum
	}

	return ct
}

// Equal reports exact equality: same row count and identical sums for
// every column, with zero tolerance.
func (c ControlTotal) Equal(other ControlTotal) bool {
	if c.RowCount != other.RowCount {
		return false
	}
	if len(c.Sums) != len(other.Sums) {
		return false
	}
	for col, sum := range c.Sums {
		o, ok := other.Sums[col]
		if !ok || !sum.Equal(o) {
			return false
		}
	}
	return true
}

// Columns returns the summed column names in sorted order.
func (c ControlTotal) Columns() []string {
	cols := make([]string, 0, len(c.Sums))
	for col := range c.Sums {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

package schema

import "testing"

func TestOperationsSchema(t *testing.T) {
	s := Operations()

	if s.Name != "operations" {
		t.Errorf("Name = %q, want operations", s.Name)
	}

	// Identity is the operation plus its date, amount, and source account.
	wantKeys := []string{"operation_id", "operation_date", "amount", "source_account"}
	if len(s.KeyFields) != len(wantKeys) {
		t.Fatalf("KeyFields = %v, want %v", s.KeyFields, wantKeys)
	}
	for i, want := range wantKeys {
		if s.KeyFields[i] != want {
			t.Errorf("KeyFields[%d] = %q, want %q", i, s.KeyFields[i], want)
		}
	}

	if len(s.SumFields) != 1 || s.SumFields[0] != "amount" {
		t.Errorf("SumFields = %v, want [amount]", s.SumFields)
	}
}

func TestOperationsSchemaRules(t *testing.T) {
	s := Operations()

	t.Run("operation id pattern", func(t *testing.T) {
		id := s.Field("operation_id")
		for _, ok := range []string{"OP-12345678", "OP-00000001"} {
			if !id.MatchPattern(ok) {
				t.Errorf("%q should match", ok)
			}
		}
		for _, bad := range []string{"OP-1234567", "OP-123456789", "XX-12345678", "op-12345678"} {
			if id.MatchPattern(bad) {
				t.Errorf("%q should not match", bad)
			}
		}
	})

	t.Run("account pattern", func(t *testing.T) {
		acct := s.Field("source_account")
		if !acct.MatchPattern("191-1234567-0-12") {
			t.Error("valid account rejected")
		}
		if acct.MatchPattern("191-1234567-012") {
			t.Error("malformed account accepted")
		}
	})

	t.Run("amount bounds", func(t *testing.T) {
		min, max := s.Field("amount").Bounds()
		if min == nil || min.String() != "0.01" {
			t.Errorf("min = %v, want 0.01", min)
		}
		if max == nil || max.String() != "1000000" {
			t.Errorf("max = %v, want 1000000", max)
		}
	})

	t.Run("date cannot be future", func(t *testing.T) {
		if !s.Field("operation_date").NoFuture {
			t.Error("operation_date should reject future dates")
		}
	})

	t.Run("destination fields optional", func(t *testing.T) {
		if s.Field("destination_account").Required || s.Field("destination_bank").Required {
			t.Error("destination fields should be optional")
		}
	})
}

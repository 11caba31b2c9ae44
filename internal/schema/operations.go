package schema

// Operations returns the built-in schema for operational transaction files.
//
// Business rules:
//   - Operation ids follow OP-XXXXXXXX and define record identity together
//     with date, amount, and source account.
//   - Amounts are positive and capped at 1M.
//   - Operation dates cannot be in the future.
//   - Account numbers follow XXX-XXXXXXX-X-XX.
func Operations() *Schema {
	s := &Schema{
		Name: "operations",
		Fields: []FieldSpec{
			{Name: "operation_date", Type: FieldDate, Required: true, NoFuture: true},
			{Name: "operation_id", Type: FieldString, Required: true, Pattern: `^OP-\d{8}$`},
			{Name: "operation_type", Type: FieldString, Required: true, Enum: []string{"DEPOSIT", "WITHDRAWAL", "TRANSFER"}},
			{Name: "amount", Type: FieldDecimal, Required: true, Min: "0.01", Max: "1000000"},
			{Name: "currency", Type: FieldString, Required: true, Enum: []string{"PEN", "USD"}},
			{Name: "source_account", Type: FieldString, Required: true, Pattern: `^\d{3}-\d{7}-\d-\d{2}$`},
			{Name: "destination_account", Type: FieldString, Pattern: `^\d{3}-\d{7}-\d-\d{2}$`},
			{Name: "source_bank", Type: FieldString, Required: true},
			{Name: "destination_bank", Type: FieldString},
			{Name: "description", Type: FieldString, Required: true},
			{Name: "status", Type: FieldString, Required: true, Enum: []string{"COMPLETED", "PENDING", "FAILED"}},
			{Name: "channel", Type: FieldString, Required: true, Enum: []string{"WEB", "MOBILE", "ATM", "BRANCH"}},
		},
		KeyFields: []string{"operation_id", "operation_date", "amount", "source_account"},
		SumFields: []string{"amount"},
	}

	if err := s.Validate(); err != nil {
		// Built-in schema is fixed at compile time; a failure here is a bug.
		panic("operations schema invalid: " + err.Error())
	}
	return s
}

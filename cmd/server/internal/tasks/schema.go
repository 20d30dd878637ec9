package tasks

// ColumnKind declares how a stored cell is coerced and compared.
type ColumnKind int

const (
	KindInt ColumnKind = iota
	KindFloat
	KindText
	KindDate
)

// Column is one declared column of the task sheet.
type Column struct {
	Name string
	Kind ColumnKind
}

// Columns is the on-disk schema, in sheet order.
var Columns = []Column{
	{Name: "sno", Kind: KindInt},
	{Name: "sub_division", Kind: KindText},
	{Name: "account_code", Kind: KindText},
	{Name: "number_of_works", Kind: KindInt},
	{Name: "estimate_amount", Kind: KindFloat},
	{Name: "agreement_amount", Kind: KindFloat},
	{Name: "exp_upto_31_03_2025", Kind: KindFloat},
	{Name: "balance_amount_as_on_01_04_2025", Kind: KindFloat},
	{Name: "exp_upto_last_month", Kind: KindFloat},
	{Name: "exp_during_this_month", Kind: KindFloat},
	{Name: "total_exp_during_year", Kind: KindFloat},
	{Name: "total_value_work_done_from_beginning", Kind: KindFloat},
	{Name: "works_completed", Kind: KindInt},
	{Name: "balance_works", Kind: KindInt},
	{Name: "created_by", Kind: KindText},
	{Name: "created_at", Kind: KindDate},
}

// TotalColumns is the fixed allowlist of numeric columns that aggregation
// sums. The primary key is deliberately excluded.
var TotalColumns = []string{
	"number_of_works",
	"estimate_amount",
	"agreement_amount",
	"exp_upto_31_03_2025",
	"balance_amount_as_on_01_04_2025",
	"exp_upto_last_month",
	"exp_during_this_month",
	"total_exp_during_year",
	"total_value_work_done_from_beginning",
	"works_completed",
	"balance_works",
}

// AccountCodes are the only valid account-code values.
var AccountCodes = []string{"Spill", "New"}

var columnIndex = func() map[string]Column {
	m := make(map[string]Column, len(Columns))
	for _, c := range Columns {
		m[c.Name] = c
	}
	return m
}()

// ColumnNames returns the schema column names in sheet order.
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnByName looks up a declared column.
func ColumnByName(name string) (Column, bool) {
	c, ok := columnIndex[name]
	return c, ok
}

// ValidAccountCode reports whether code is one of the declared values.
func ValidAccountCode(code string) bool {
	for _, c := range AccountCodes {
		if code == c {
			return true
		}
	}
	return false
}

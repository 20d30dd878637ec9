package tasks

import (
	"fmt"
	"strconv"
)

// Task is one progress record, fully typed. Numeric cells that are absent
// on disk coerce to zero, text cells to "", so a returned record never
// carries null-like values.
type Task struct {
	Sno                int     `json:"sno"`
	SubDivision        string  `json:"sub_division"`
	AccountCode        string  `json:"account_code"`
	NumberOfWorks      int     `json:"number_of_works"`
	EstimateAmount     float64 `json:"estimate_amount"`
	AgreementAmount    float64 `json:"agreement_amount"`
	ExpUpto31032025    float64 `json:"exp_upto_31_03_2025"`
	BalanceAmount      float64 `json:"balance_amount_as_on_01_04_2025"`
	ExpUptoLastMonth   float64 `json:"exp_upto_last_month"`
	ExpDuringThisMonth float64 `json:"exp_during_this_month"`
	TotalExpDuringYear float64 `json:"total_exp_during_year"`
	TotalValueWorkDone float64 `json:"total_value_work_done_from_beginning"`
	WorksCompleted     int     `json:"works_completed"`
	BalanceWorks       int     `json:"balance_works"`
	CreatedBy          string  `json:"created_by"`
	CreatedAt          string  `json:"created_at"`
}

// Draft carries the nine caller-editable fields of a record. Derived fields
// are computed at write time, never supplied.
type Draft struct {
	SubDivision        string
	AccountCode        string
	NumberOfWorks      int
	EstimateAmount     float64
	AgreementAmount    float64
	ExpUpto31032025    float64
	ExpUptoLastMonth   float64
	ExpDuringThisMonth float64
	WorksCompleted     int
}

// Derived holds the four write-time computed fields.
type Derived struct {
	BalanceAmount      float64 `json:"balance_amount_as_on_01_04_2025"`
	TotalExpDuringYear float64 `json:"total_exp_during_year"`
	TotalValueWorkDone float64 `json:"total_value_work_done_from_beginning"`
	BalanceWorks       int     `json:"balance_works"`
}

// ValidationError reports an inconsistent draft. Nothing is written when
// one is returned.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string { return e.Message }

// Derive validates the draft invariants and computes the derived fields:
//
//	balance_amount      = agreement_amount - exp_upto_31_03_2025  (>= 0)
//	total_exp_during_year = exp_upto_last_month + exp_during_this_month
//	total_value_work_done = exp_upto_31_03_2025 + total_exp_during_year
//	balance_works       = number_of_works - works_completed       (>= 0)
func (d Draft) Derive() (Derived, error) {
	if !ValidAccountCode(d.AccountCode) {
		return Derived{}, &ValidationError{
			Message: "Invalid account_code.",
			Fields:  map[string]string{"account_code": "must be one of Spill, New"},
		}
	}
	if d.WorksCompleted > d.NumberOfWorks {
		return Derived{}, &ValidationError{
			Message: "Works completed cannot exceed number of works.",
			Fields:  map[string]string{"works_completed": "cannot exceed number_of_works"},
		}
	}
	balance := d.AgreementAmount - d.ExpUpto31032025
	if balance < 0 {
		return Derived{}, &ValidationError{
			Message: "Balance amount as on 01-04-2025 cannot be negative.",
			Fields:  map[string]string{"exp_upto_31_03_2025": "cannot exceed agreement_amount"},
		}
	}
	totalYear := d.ExpUptoLastMonth + d.ExpDuringThisMonth
	return Derived{
		BalanceAmount:      balance,
		TotalExpDuringYear: totalYear,
		TotalValueWorkDone: d.ExpUpto31032025 + totalYear,
		BalanceWorks:       d.NumberOfWorks - d.WorksCompleted,
	}, nil
}

// build assembles a full record from a validated draft, preserving the
// provided creator identity and creation time.
func (d Draft) build(sno int, derived Derived, createdBy, createdAt string) Task {
	return Task{
		Sno:                sno,
		SubDivision:        d.SubDivision,
		AccountCode:        d.AccountCode,
		NumberOfWorks:      d.NumberOfWorks,
		EstimateAmount:     d.EstimateAmount,
		AgreementAmount:    d.AgreementAmount,
		ExpUpto31032025:    d.ExpUpto31032025,
		BalanceAmount:      derived.BalanceAmount,
		ExpUptoLastMonth:   d.ExpUptoLastMonth,
		ExpDuringThisMonth: d.ExpDuringThisMonth,
		TotalExpDuringYear: derived.TotalExpDuringYear,
		TotalValueWorkDone: derived.TotalValueWorkDone,
		WorksCompleted:     d.WorksCompleted,
		BalanceWorks:       derived.BalanceWorks,
		CreatedBy:          createdBy,
		CreatedAt:          createdAt,
	}
}

// RowValues returns the record's cells in schema order, for writing to the
// sheet.
func (t Task) RowValues() []interface{} {
	return []interface{}{
		t.Sno,
		t.SubDivision,
		t.AccountCode,
		t.NumberOfWorks,
		t.EstimateAmount,
		t.AgreementAmount,
		t.ExpUpto31032025,
		t.BalanceAmount,
		t.ExpUptoLastMonth,
		t.ExpDuringThisMonth,
		t.TotalExpDuringYear,
		t.TotalValueWorkDone,
		t.WorksCompleted,
		t.BalanceWorks,
		t.CreatedBy,
		t.CreatedAt,
	}
}

// NumericField returns a numeric column's value. Undeclared or non-numeric
// columns return 0.
func (t Task) NumericField(name string) float64 {
	switch name {
	case "sno":
		return float64(t.Sno)
	case "number_of_works":
		return float64(t.NumberOfWorks)
	case "estimate_amount":
		return t.EstimateAmount
	case "agreement_amount":
		return t.AgreementAmount
	case "exp_upto_31_03_2025":
		return t.ExpUpto31032025
	case "balance_amount_as_on_01_04_2025":
		return t.BalanceAmount
	case "exp_upto_last_month":
		return t.ExpUptoLastMonth
	case "exp_during_this_month":
		return t.ExpDuringThisMonth
	case "total_exp_during_year":
		return t.TotalExpDuringYear
	case "total_value_work_done_from_beginning":
		return t.TotalValueWorkDone
	case "works_completed":
		return float64(t.WorksCompleted)
	case "balance_works":
		return float64(t.BalanceWorks)
	default:
		return 0
	}
}

// TextField returns a text or date column's value, "" for other columns.
func (t Task) TextField(name string) string {
	switch name {
	case "sub_division":
		return t.SubDivision
	case "account_code":
		return t.AccountCode
	case "created_by":
		return t.CreatedBy
	case "created_at":
		return t.CreatedAt
	default:
		return ""
	}
}

// decodeRow coerces one padded sheet row into a Task. Cells are padded to
// the schema width by the store, so indexing is safe.
func decodeRow(cells []string) Task {
	var t Task
	t.Sno = toInt(cells[0])
	t.SubDivision = cells[1]
	t.AccountCode = cells[2]
	t.NumberOfWorks = toInt(cells[3])
	t.EstimateAmount = toFloat(cells[4])
	t.AgreementAmount = toFloat(cells[5])
	t.ExpUpto31032025 = toFloat(cells[6])
	t.BalanceAmount = toFloat(cells[7])
	t.ExpUptoLastMonth = toFloat(cells[8])
	t.ExpDuringThisMonth = toFloat(cells[9])
	t.TotalExpDuringYear = toFloat(cells[10])
	t.TotalValueWorkDone = toFloat(cells[11])
	t.WorksCompleted = toInt(cells[12])
	t.BalanceWorks = toInt(cells[13])
	t.CreatedBy = cells[14]
	t.CreatedAt = cells[15]
	return t
}

func toInt(s string) int {
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	// spreadsheet tools may store integers as "4.0"
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

func toFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseSno(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence number %q: %w", s, err)
	}
	return n, nil
}

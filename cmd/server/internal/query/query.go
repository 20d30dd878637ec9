// Package query provides stateless transforms over an in-memory snapshot
// of task records: filtering, type-aware sorting, pagination and grouped
// aggregation. Nothing here touches the store.
package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/houzhh15/capworks/cmd/server/internal/tasks"
)

// ErrUnknownSortField is returned when sorting by an undeclared column.
var ErrUnknownSortField = errors.New("unknown sort field")

// timeLayouts are the accepted creation-timestamp shapes, most specific
// first. Naive values are taken as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses an ISO-8601-ish timestamp. The second return value
// reports success.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ParseDateBound parses a date_from/date_to query value. A bare date used
// as an end bound is extended to the last instant of that day, so inclusive
// day ranges behave as users expect.
func ParseDateBound(value string, end bool) (time.Time, bool) {
	ts, ok := ParseTime(value)
	if !ok {
		return time.Time{}, false
	}
	if end && !strings.Contains(value, "T") && !strings.Contains(value, " ") {
		ts = ts.Add(24*time.Hour - time.Microsecond)
	}
	return ts, true
}

// Filter is a conjunction of optional predicates.
type Filter struct {
	SubDivision string     // case-insensitive substring
	AccountCode string     // exact match
	DateFrom    *time.Time // inclusive
	DateTo      *time.Time // inclusive
}

// Apply returns the records matching every supplied predicate. A record
// whose creation timestamp cannot be parsed is excluded whenever a date
// bound is supplied, and included otherwise.
func Apply(records []tasks.Task, f Filter) []tasks.Task {
	sub := strings.ToLower(strings.TrimSpace(f.SubDivision))
	out := make([]tasks.Task, 0, len(records))
	for _, rec := range records {
		if f.AccountCode != "" && rec.AccountCode != f.AccountCode {
			continue
		}
		if sub != "" && !strings.Contains(strings.ToLower(rec.SubDivision), sub) {
			continue
		}
		if f.DateFrom != nil || f.DateTo != nil {
			created, ok := ParseTime(rec.CreatedAt)
			if !ok {
				continue
			}
			if f.DateFrom != nil && created.Before(*f.DateFrom) {
				continue
			}
			if f.DateTo != nil && created.After(*f.DateTo) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out
}

// SortRecords sorts in place by a declared column. Text compares
// case-insensitively, dates parse to an instant (unparsable values sort
// first), everything else compares numerically. Sorting by an undeclared
// column is an error, not a no-op.
func SortRecords(records []tasks.Task, sortBy string, descending bool) error {
	col, ok := tasks.ColumnByName(sortBy)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSortField, sortBy)
	}

	var less func(a, b tasks.Task) bool
	switch col.Kind {
	case tasks.KindText:
		less = func(a, b tasks.Task) bool {
			return strings.ToLower(a.TextField(sortBy)) < strings.ToLower(b.TextField(sortBy))
		}
	case tasks.KindDate:
		less = func(a, b tasks.Task) bool {
			at, _ := ParseTime(a.TextField(sortBy))
			bt, _ := ParseTime(b.TextField(sortBy))
			return at.Before(bt)
		}
	default:
		less = func(a, b tasks.Task) bool {
			return a.NumericField(sortBy) < b.NumericField(sortBy)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if descending {
			return less(records[j], records[i])
		}
		return less(records[i], records[j])
	})
	return nil
}

// Page is one page of a result set. Page is the effective page after
// clamping; callers detect clamping by comparing it with the request.
type Page struct {
	Items      []tasks.Task
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// Paginate slices a 1-indexed page out of records. A request past the last
// page is clamped to the last page rather than returning empty.
func Paginate(records []tasks.Task, page, pageSize int) Page {
	totalItems := len(records)
	totalPages := (totalItems + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > totalItems {
		start = totalItems
	}
	if end > totalItems {
		end = totalItems
	}
	return Page{
		Items:      records[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalItems: totalItems,
		TotalPages: totalPages,
	}
}

// Totals carries the sums of the eleven aggregated numeric columns.
type Totals struct {
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
}

func (t *Totals) add(rec tasks.Task) {
	t.NumberOfWorks += rec.NumberOfWorks
	t.EstimateAmount += rec.EstimateAmount
	t.AgreementAmount += rec.AgreementAmount
	t.ExpUpto31032025 += rec.ExpUpto31032025
	t.BalanceAmount += rec.BalanceAmount
	t.ExpUptoLastMonth += rec.ExpUptoLastMonth
	t.ExpDuringThisMonth += rec.ExpDuringThisMonth
	t.TotalExpDuringYear += rec.TotalExpDuringYear
	t.TotalValueWorkDone += rec.TotalValueWorkDone
	t.WorksCompleted += rec.WorksCompleted
	t.BalanceWorks += rec.BalanceWorks
}

// Value returns one aggregated column by name, for export rows.
func (t Totals) Value(name string) interface{} {
	switch name {
	case "number_of_works":
		return t.NumberOfWorks
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
		return t.WorksCompleted
	case "balance_works":
		return t.BalanceWorks
	default:
		return 0
	}
}

// GrandTotals sums the aggregated columns over records.
func GrandTotals(records []tasks.Task) Totals {
	var t Totals
	for _, rec := range records {
		t.add(rec)
	}
	return t
}

// AccountCodeTotals is the per-account-code breakdown within one
// sub-division.
type AccountCodeTotals struct {
	AccountCode string `json:"account_code"`
	Totals      Totals `json:"totals"`
}

// SubDivisionTotals carries one sub-division's totals across all account
// codes plus the per-valid-code breakdown.
type SubDivisionTotals struct {
	SubDivision   string              `json:"sub_division"`
	Totals        Totals              `json:"totals"`
	ByAccountCode []AccountCodeTotals `json:"by_account_code"`
}

// Summary is the full aggregation response shape.
type Summary struct {
	GrandTotals   Totals              `json:"grand_totals"`
	BySubDivision []SubDivisionTotals `json:"by_sub_division"`
}

// Summarize groups records by sub-division and account code. Sub-divisions
// are ordered case-insensitively by name; account codes lexicographically.
// Only declared account codes appear in the breakdown, but every record
// counts toward its sub-division's totals.
func Summarize(records []tasks.Task) Summary {
	type group struct {
		totals   Totals
		accounts map[string]*Totals
	}
	grouped := map[string]*group{}
	for _, rec := range records {
		g, ok := grouped[rec.SubDivision]
		if !ok {
			g = &group{accounts: map[string]*Totals{}}
			grouped[rec.SubDivision] = g
		}
		g.totals.add(rec)
		acct, ok := g.accounts[rec.AccountCode]
		if !ok {
			acct = &Totals{}
			g.accounts[rec.AccountCode] = acct
		}
		acct.add(rec)
	}

	subNames := make([]string, 0, len(grouped))
	for name := range grouped {
		subNames = append(subNames, name)
	}
	sort.Slice(subNames, func(i, j int) bool {
		a, b := strings.ToLower(subNames[i]), strings.ToLower(subNames[j])
		if a != b {
			return a < b
		}
		return subNames[i] < subNames[j]
	})

	out := Summary{GrandTotals: GrandTotals(records)}
	for _, name := range subNames {
		g := grouped[name]
		sub := SubDivisionTotals{SubDivision: name, Totals: g.totals}

		codes := make([]string, 0, len(g.accounts))
		for code := range g.accounts {
			if tasks.ValidAccountCode(code) {
				codes = append(codes, code)
			}
		}
		sort.Strings(codes)
		for _, code := range codes {
			sub.ByAccountCode = append(sub.ByAccountCode, AccountCodeTotals{
				AccountCode: code,
				Totals:      *g.accounts[code],
			})
		}
		out.BySubDivision = append(out.BySubDivision, sub)
	}
	return out
}

// Package export builds the downloadable workbook for the admin report.
package export

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/houzhh15/capworks/cmd/server/internal/query"
	"github.com/houzhh15/capworks/cmd/server/internal/tasks"
)

const sheetName = "Export"

// Build renders the records into an xlsx workbook with three sections: the
// record rows, a Grand Totals block, and a Sub-Division Totals block with an
// "All" row followed by per-account-code rows for every code present.
func Build(records []tasks.Task) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	row := 1
	write := func(values []interface{}) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return err
		}
		row++
		return nil
	}
	blank := func() { row++ }

	header := make([]interface{}, 0, len(tasks.Columns))
	for _, name := range tasks.ColumnNames() {
		header = append(header, name)
	}
	if err := write(header); err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := write(rec.RowValues()); err != nil {
			return nil, err
		}
	}

	blank()
	if err := write([]interface{}{"Grand Totals"}); err != nil {
		return nil, err
	}
	if err := write(totalHeader(nil)); err != nil {
		return nil, err
	}
	grand := query.GrandTotals(records)
	if err := write(totalValues(nil, grand)); err != nil {
		return nil, err
	}

	blank()
	if err := write([]interface{}{"Sub-Division Totals"}); err != nil {
		return nil, err
	}
	if err := write(totalHeader([]interface{}{"sub_division", "account_code"})); err != nil {
		return nil, err
	}
	for _, group := range groupBySubDivision(records) {
		all := query.GrandTotals(group.records)
		if err := write(totalValues([]interface{}{group.name, "All"}, all)); err != nil {
			return nil, err
		}
		for _, code := range group.codes() {
			codeTotals := query.GrandTotals(group.byCode[code])
			if err := write(totalValues([]interface{}{group.name, code}, codeTotals)); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("serialize export: %w", err)
	}
	return buf.Bytes(), nil
}

func totalHeader(prefix []interface{}) []interface{} {
	out := append([]interface{}{}, prefix...)
	for _, name := range tasks.TotalColumns {
		out = append(out, name)
	}
	return out
}

func totalValues(prefix []interface{}, t query.Totals) []interface{} {
	out := append([]interface{}{}, prefix...)
	for _, name := range tasks.TotalColumns {
		out = append(out, t.Value(name))
	}
	return out
}

type subGroup struct {
	name    string
	records []tasks.Task
	byCode  map[string][]tasks.Task
}

// codes returns the account codes seen in the group, sorted. Unlike the
// summary endpoint, the export keeps every stored code so the workbook
// reconciles against the raw rows.
func (g subGroup) codes() []string {
	out := make([]string, 0, len(g.byCode))
	for code := range g.byCode {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func groupBySubDivision(records []tasks.Task) []subGroup {
	index := map[string]int{}
	var groups []subGroup
	for _, rec := range records {
		i, ok := index[rec.SubDivision]
		if !ok {
			i = len(groups)
			index[rec.SubDivision] = i
			groups = append(groups, subGroup{name: rec.SubDivision, byCode: map[string][]tasks.Task{}})
		}
		groups[i].records = append(groups[i].records, rec)
		groups[i].byCode[rec.AccountCode] = append(groups[i].byCode[rec.AccountCode], rec)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return strings.ToLower(groups[a].name) < strings.ToLower(groups[b].name)
	})
	return groups
}

package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/capworks/cmd/server/internal/query"
	"github.com/houzhh15/capworks/cmd/server/internal/tasks"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// listParams are the parsed query parameters shared by every record listing
// endpoint.
type listParams struct {
	filter     query.Filter
	sortBy     string
	descending bool
	page       int
	pageSize   int
}

// parseListParams validates listing query parameters. On failure it writes
// the validation envelope and returns false.
func parseListParams(c *gin.Context) (listParams, bool) {
	p := listParams{
		sortBy:   "sno",
		page:     1,
		pageSize: defaultPageSize,
	}
	fields := map[string]string{}

	p.filter.SubDivision = strings.TrimSpace(c.Query("sub_division"))

	if code := strings.TrimSpace(c.Query("account_code")); code != "" {
		if !tasks.ValidAccountCode(code) {
			fields["account_code"] = "must be one of: " + strings.Join(tasks.AccountCodes, ", ")
		} else {
			p.filter.AccountCode = code
		}
	}

	if v := strings.TrimSpace(c.Query("date_from")); v != "" {
		if ts, ok := query.ParseDateBound(v, false); ok {
			p.filter.DateFrom = &ts
		} else {
			fields["date_from"] = "unrecognized date format"
		}
	}
	if v := strings.TrimSpace(c.Query("date_to")); v != "" {
		if ts, ok := query.ParseDateBound(v, true); ok {
			p.filter.DateTo = &ts
		} else {
			fields["date_to"] = "unrecognized date format"
		}
	}

	if v := c.Query("sort_by"); v != "" {
		p.sortBy = v
	}
	switch order := c.DefaultQuery("order", "asc"); order {
	case "asc":
	case "desc":
		p.descending = true
	default:
		fields["order"] = "must be asc or desc"
	}

	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fields["page"] = "must be a positive integer"
		} else {
			p.page = n
		}
	}
	if v := c.Query("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			fields["page_size"] = "must be between 1 and 500"
		} else {
			p.pageSize = n
		}
	}

	if len(fields) > 0 {
		RespondFieldErrors(c, "invalid query parameters", fields)
		return listParams{}, false
	}
	return p, true
}

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/capworks/cmd/server/internal/audit"
	"github.com/houzhh15/capworks/cmd/server/internal/query"
	"github.com/houzhh15/capworks/cmd/server/internal/tasks"
	"github.com/houzhh15/capworks/cmd/server/internal/users"
	"github.com/houzhh15/capworks/pkg/logger"
)

// taskRequest carries the nine caller-editable fields. Derived fields are
// never accepted from clients.
type taskRequest struct {
	SubDivision        string  `json:"sub_division" binding:"required"`
	AccountCode        string  `json:"account_code" binding:"required"`
	NumberOfWorks      int     `json:"number_of_works" binding:"min=0"`
	EstimateAmount     float64 `json:"estimate_amount" binding:"min=0"`
	AgreementAmount    float64 `json:"agreement_amount" binding:"min=0"`
	ExpUpto31032025    float64 `json:"exp_upto_31_03_2025" binding:"min=0"`
	ExpUptoLastMonth   float64 `json:"exp_upto_last_month" binding:"min=0"`
	ExpDuringThisMonth float64 `json:"exp_during_this_month" binding:"min=0"`
	WorksCompleted     int     `json:"works_completed" binding:"min=0"`
}

func (r taskRequest) draft() tasks.Draft {
	return tasks.Draft{
		SubDivision:        r.SubDivision,
		AccountCode:        r.AccountCode,
		NumberOfWorks:      r.NumberOfWorks,
		EstimateAmount:     r.EstimateAmount,
		AgreementAmount:    r.AgreementAmount,
		ExpUpto31032025:    r.ExpUpto31032025,
		ExpUptoLastMonth:   r.ExpUptoLastMonth,
		ExpDuringThisMonth: r.ExpDuringThisMonth,
		WorksCompleted:     r.WorksCompleted,
	}
}

type taskCreateResponse struct {
	Status    string        `json:"status"`
	Sno       int           `json:"sno"`
	CreatedAt string        `json:"created_at"`
	Computed  tasks.Derived `json:"computed"`
}

type taskDeleteResponse struct {
	Status string `json:"status"`
	Sno    int    `json:"sno"`
}

type taskListResponse struct {
	Items      []tasks.Task `json:"items"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalItems int          `json:"total_items"`
	TotalPages int          `json:"total_pages"`
}

// respondTaskError maps repository and validation errors onto the envelope.
func respondTaskError(c *gin.Context, err error) {
	var verr *tasks.ValidationError
	switch {
	case errors.As(err, &verr):
		RespondFieldErrors(c, verr.Message, verr.Fields)
	case errors.Is(err, tasks.ErrNotFound):
		RespondError(c, http.StatusNotFound, CodeValidation, "Task not found.")
	default:
		logger.L().Error("task operation failed", "trace_id", TraceID(c), "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func parseSnoParam(c *gin.Context) (int, bool) {
	sno, err := strconv.Atoi(c.Param("sno"))
	if err != nil || sno < 1 {
		RespondFieldErrors(c, "invalid sequence number", map[string]string{"sno": "must be a positive integer"})
		return 0, false
	}
	return sno, true
}

// HandleCreateTask appends a new record for the caller.
func HandleCreateTask(repo *tasks.Repository, auditLog audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req taskRequest
		if !bindJSON(c, &req) {
			return
		}
		username, role := currentUser(c)
		traceID, ip, userAgent := requestMeta(c)

		createdAt := time.Now().UTC().Format(time.RFC3339)
		created, err := repo.Append(c.Request.Context(), req.draft(), username, createdAt)
		if err != nil {
			auditLog.Log(audit.Event{
				Action:    "tasks.create_failed",
				Actor:     username,
				Role:      role,
				Status:    "failed",
				Metadata:  map[string]interface{}{"reason": err.Error()},
				TraceID:   traceID,
				IP:        ip,
				UserAgent: userAgent,
			})
			respondTaskError(c, err)
			return
		}

		auditLog.Log(audit.Event{
			Action:    "tasks.create_success",
			Actor:     username,
			Role:      role,
			Status:    "success",
			Metadata:  map[string]interface{}{"sno": created.Sno},
			TraceID:   traceID,
			IP:        ip,
			UserAgent: userAgent,
		})
		c.JSON(http.StatusOK, taskCreateResponse{
			Status:    "success",
			Sno:       created.Sno,
			CreatedAt: created.CreatedAt,
			Computed: tasks.Derived{
				BalanceAmount:      created.BalanceAmount,
				TotalExpDuringYear: created.TotalExpDuringYear,
				TotalValueWorkDone: created.TotalValueWorkDone,
				BalanceWorks:       created.BalanceWorks,
			},
		})
	}
}

// listRecords runs the shared filter/sort/paginate pipeline and writes the
// page response.
func listRecords(c *gin.Context, records []tasks.Task, p listParams) {
	filtered := query.Apply(records, p.filter)
	if err := query.SortRecords(filtered, p.sortBy, p.descending); err != nil {
		RespondFieldErrors(c, "invalid sort field", map[string]string{"sort_by": err.Error()})
		return
	}
	page := query.Paginate(filtered, p.page, p.pageSize)
	c.JSON(http.StatusOK, taskListResponse{
		Items:      page.Items,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalItems: page.TotalItems,
		TotalPages: page.TotalPages,
	})
}

// HandleListTasks lists records visible to the caller: everything for
// admins, own records otherwise.
func HandleListTasks(repo *tasks.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := parseListParams(c)
		if !ok {
			return
		}
		username, role := currentUser(c)

		records, err := repo.ListAll(c.Request.Context())
		if err != nil {
			respondTaskError(c, err)
			return
		}
		if role != users.RoleAdmin {
			own := records[:0]
			for _, rec := range records {
				if rec.CreatedBy == username {
					own = append(own, rec)
				}
			}
			records = own
		}
		listRecords(c, records, p)
	}
}

// canTouch reports whether the caller may modify the record.
func canTouch(role, username string, rec tasks.Task) bool {
	return role == users.RoleAdmin || rec.CreatedBy == username
}

// HandleUpdateTask re-derives and rewrites a record, owner or admin only.
func HandleUpdateTask(repo *tasks.Repository, auditLog audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sno, ok := parseSnoParam(c)
		if !ok {
			return
		}
		var req taskRequest
		if !bindJSON(c, &req) {
			return
		}
		username, role := currentUser(c)
		traceID, ip, userAgent := requestMeta(c)

		existing, err := repo.Get(c.Request.Context(), sno)
		if err != nil {
			respondTaskError(c, err)
			return
		}
		if !canTouch(role, username, existing) {
			RespondError(c, http.StatusForbidden, CodeNotAuthorized, "Not allowed to edit this task.")
			return
		}

		updated, err := repo.Update(c.Request.Context(), sno, req.draft())
		if err != nil {
			auditLog.Log(audit.Event{
				Action:    "tasks.update_failed",
				Actor:     username,
				Role:      role,
				Status:    "failed",
				Metadata:  map[string]interface{}{"sno": sno},
				TraceID:   traceID,
				IP:        ip,
				UserAgent: userAgent,
			})
			respondTaskError(c, err)
			return
		}

		auditLog.Log(audit.Event{
			Action:    "tasks.update_success",
			Actor:     username,
			Role:      role,
			Status:    "success",
			Metadata:  map[string]interface{}{"sno": sno},
			TraceID:   traceID,
			IP:        ip,
			UserAgent: userAgent,
		})
		c.JSON(http.StatusOK, updated)
	}
}

// HandleDeleteTask removes a record, owner or admin only. The sequence
// number is never reused.
func HandleDeleteTask(repo *tasks.Repository, auditLog audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sno, ok := parseSnoParam(c)
		if !ok {
			return
		}
		username, role := currentUser(c)
		traceID, ip, userAgent := requestMeta(c)

		existing, err := repo.Get(c.Request.Context(), sno)
		if err != nil {
			respondTaskError(c, err)
			return
		}
		if !canTouch(role, username, existing) {
			RespondError(c, http.StatusForbidden, CodeNotAuthorized, "Not allowed to delete this task.")
			return
		}

		if err := repo.Delete(c.Request.Context(), sno); err != nil {
			auditLog.Log(audit.Event{
				Action:    "tasks.delete_failed",
				Actor:     username,
				Role:      role,
				Status:    "failed",
				Metadata:  map[string]interface{}{"sno": sno},
				TraceID:   traceID,
				IP:        ip,
				UserAgent: userAgent,
			})
			respondTaskError(c, err)
			return
		}

		auditLog.Log(audit.Event{
			Action:    "tasks.delete_success",
			Actor:     username,
			Role:      role,
			Status:    "success",
			Metadata:  map[string]interface{}{"sno": sno},
			TraceID:   traceID,
			IP:        ip,
			UserAgent: userAgent,
		})
		c.JSON(http.StatusOK, taskDeleteResponse{Status: "success", Sno: sno})
	}
}

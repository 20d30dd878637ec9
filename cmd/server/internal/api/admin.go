package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/capworks/cmd/server/internal/audit"
	"github.com/houzhh15/capworks/cmd/server/internal/backup"
	"github.com/houzhh15/capworks/cmd/server/internal/export"
	"github.com/houzhh15/capworks/cmd/server/internal/query"
	"github.com/houzhh15/capworks/cmd/server/internal/tasks"
	"github.com/houzhh15/capworks/cmd/server/internal/users"
	"github.com/houzhh15/capworks/pkg/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// HandleAdminListTasks lists every record with the full filter, sort and
// pagination pipeline.
func HandleAdminListTasks(repo *tasks.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := parseListParams(c)
		if !ok {
			return
		}
		records, err := repo.ListAll(c.Request.Context())
		if err != nil {
			respondTaskError(c, err)
			return
		}
		listRecords(c, records, p)
	}
}

// HandleAdminSummary aggregates the filtered records: grand totals plus the
// per-sub-division breakdown.
func HandleAdminSummary(repo *tasks.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := parseListParams(c)
		if !ok {
			return
		}
		records, err := repo.ListAll(c.Request.Context())
		if err != nil {
			respondTaskError(c, err)
			return
		}
		filtered := query.Apply(records, p.filter)
		summary := query.Summarize(filtered)
		c.JSON(http.StatusOK, gin.H{
			"grand_totals":    summary.GrandTotals,
			"by_sub_division": summary.BySubDivision,
			"total_items":     len(filtered),
		})
	}
}

// HandleAdminExport streams the filtered records as an xlsx attachment. A
// snapshot of the task workbook is taken first so the exported state is
// recoverable.
func HandleAdminExport(repo *tasks.Repository, backups *backup.Service, auditLog audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := parseListParams(c)
		if !ok {
			return
		}
		username, role := currentUser(c)
		traceID, ip, userAgent := requestMeta(c)

		if _, err := backups.PreExport(c.Request.Context()); err != nil {
			logger.L().Error("pre-export backup failed", "trace_id", traceID, "error", err)
			auditLog.Log(audit.Event{
				Action:    "admin.export_failed",
				Actor:     username,
				Role:      role,
				Status:    "error",
				Metadata:  map[string]interface{}{"error": err.Error()},
				TraceID:   traceID,
				IP:        ip,
				UserAgent: userAgent,
			})
			RespondError(c, http.StatusInternalServerError, CodeInternal, "Backup failed before export.")
			return
		}

		records, err := repo.ListAll(c.Request.Context())
		if err != nil {
			respondTaskError(c, err)
			return
		}
		filtered := query.Apply(records, p.filter)
		if err := query.SortRecords(filtered, p.sortBy, p.descending); err != nil {
			RespondFieldErrors(c, "invalid sort field", map[string]string{"sort_by": err.Error()})
			return
		}

		out, err := export.Build(filtered)
		if err != nil {
			logger.L().Error("export build failed", "trace_id", traceID, "error", err)
			auditLog.Log(audit.Event{
				Action:    "admin.export_failed",
				Actor:     username,
				Role:      role,
				Status:    "error",
				Metadata:  map[string]interface{}{"error": err.Error()},
				TraceID:   traceID,
				IP:        ip,
				UserAgent: userAgent,
			})
			RespondError(c, http.StatusInternalServerError, CodeInternal, "internal error")
			return
		}

		auditLog.Log(audit.Event{
			Action:    "admin.export_success",
			Actor:     username,
			Role:      role,
			Status:    "success",
			Metadata:  map[string]interface{}{"total_items": len(filtered)},
			TraceID:   traceID,
			IP:        ip,
			UserAgent: userAgent,
		})
		filename := "tasks_export_" + time.Now().Format("20060102_150405") + ".xlsx"
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Data(http.StatusOK, xlsxContentType, out)
	}
}

type createUserRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required"`
}

type userStatusRequest struct {
	IsActive *int `json:"is_active" binding:"required"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// HandleAdminListUsers lists accounts with optional q, role and is_active
// filters.
func HandleAdminListUsers(mgr *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := map[string]string{}
		role := c.Query("role")
		if role != "" && !users.ValidRole(role) {
			fields["role"] = "must be admin or user"
		}
		var isActive *int
		if v := c.Query("is_active"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || (n != 0 && n != 1) {
				fields["is_active"] = "must be 0 or 1"
			} else {
				isActive = &n
			}
		}
		if len(fields) > 0 {
			RespondFieldErrors(c, "invalid query parameters", fields)
			return
		}

		list, err := mgr.List(c.Request.Context(), c.Query("q"), role, isActive)
		if err != nil {
			logger.L().Error("user list failed", "trace_id", TraceID(c), "error", err)
			RespondError(c, http.StatusInternalServerError, CodeInternal, "internal error")
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": list, "total_items": len(list)})
	}
}

// HandleAdminCreateUser creates an account; duplicate usernames get 409.
func HandleAdminCreateUser(mgr *users.Manager, auditLog audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUserRequest
		if !bindJSON(c, &req) {
			return
		}
		if !users.ValidRole(req.Role) {
			RespondFieldErrors(c, "invalid role", map[string]string{"role": "must be admin or user"})
			return
		}
		username, role := currentUser(c)
		traceID, ip, userAgent := requestMeta(c)

		created, err := mgr.Create(c.Request.Context(), req.Username, req.Password, req.Role)
		if errors.Is(err, users.ErrUsernameTaken) {
			RespondError(c, http.StatusConflict, CodeValidation, "Username already exists.")
			return
		}
		if err != nil {
			logger.L().Error("user create failed", "trace_id", traceID, "error", err)
			RespondError(c, http.StatusInternalServerError, CodeInternal, "internal error")
			return
		}

		auditLog.Log(audit.Event{
			Action:    "admin.user_created",
			Actor:     username,
			Role:      role,
			Status:    "success",
			Metadata:  map[string]interface{}{"target_username": created.Username, "target_role": created.Role},
			TraceID:   traceID,
			IP:        ip,
			UserAgent: userAgent,
		})
		c.JSON(http.StatusOK, created)
	}
}

// HandleAdminSetUserStatus enables or disables an account.
func HandleAdminSetUserStatus(mgr *users.Manager, auditLog audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req userStatusRequest
		if !bindJSON(c, &req) {
			return
		}
		if *req.IsActive != 0 && *req.IsActive != 1 {
			RespondFieldErrors(c, "invalid status", map[string]string{"is_active": "must be 0 or 1"})
			return
		}
		target := c.Param("username")
		username, role := currentUser(c)
		traceID, ip, userAgent := requestMeta(c)

		err := mgr.SetActive(c.Request.Context(), target, *req.IsActive)
		if errors.Is(err, users.ErrNotFound) {
			RespondError(c, http.StatusNotFound, CodeValidation, "User not found.")
			return
		}
		if err != nil {
			logger.L().Error("user status change failed", "trace_id", traceID, "error", err)
			RespondError(c, http.StatusInternalServerError, CodeInternal, "internal error")
			return
		}

		auditLog.Log(audit.Event{
			Action:    "admin.user_status_changed",
			Actor:     username,
			Role:      role,
			Status:    "success",
			Metadata:  map[string]interface{}{"target_username": target, "is_active": *req.IsActive},
			TraceID:   traceID,
			IP:        ip,
			UserAgent: userAgent,
		})
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

// HandleAdminResetPassword replaces an account's password.
func HandleAdminResetPassword(mgr *users.Manager, auditLog audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resetPasswordRequest
		if !bindJSON(c, &req) {
			return
		}
		target := c.Param("username")
		username, role := currentUser(c)
		traceID, ip, userAgent := requestMeta(c)

		err := mgr.ResetPassword(c.Request.Context(), target, req.NewPassword)
		if errors.Is(err, users.ErrNotFound) {
			RespondError(c, http.StatusNotFound, CodeValidation, "User not found.")
			return
		}
		if err != nil {
			logger.L().Error("password reset failed", "trace_id", traceID, "error", err)
			RespondError(c, http.StatusInternalServerError, CodeInternal, "internal error")
			return
		}

		auditLog.Log(audit.Event{
			Action:    "admin.user_password_reset",
			Actor:     username,
			Role:      role,
			Status:    "success",
			Metadata:  map[string]interface{}{"target_username": target},
			TraceID:   traceID,
			IP:        ip,
			UserAgent: userAgent,
		})
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

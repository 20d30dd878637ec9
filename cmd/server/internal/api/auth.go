package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/capworks/cmd/server/internal/audit"
	"github.com/houzhh15/capworks/cmd/server/internal/ratelimit"
	"github.com/houzhh15/capworks/cmd/server/internal/users"
	"github.com/houzhh15/capworks/pkg/logger"
	"github.com/houzhh15/capworks/pkg/metrics"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        string `json:"role"`
	Username    string `json:"username"`
}

// HandleLogin authenticates a user and issues a bearer token. Throttled
// attempts are rejected before the password is checked and are not counted
// against the caller's quota.
func HandleLogin(mgr *users.Manager, limiter *ratelimit.Limiter, auditLog audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if !bindJSON(c, &req) {
			return
		}
		traceID, ip, userAgent := requestMeta(c)

		if ok, reason := limiter.Allow(req.Username, ip); !ok {
			metrics.RecordLoginAttempt("rate_limited")
			auditLog.Log(audit.Event{
				Action:    "auth.login_failed",
				Actor:     req.Username,
				Status:    "rate_limited",
				Metadata:  map[string]interface{}{"reason": string(reason)},
				TraceID:   traceID,
				IP:        ip,
				UserAgent: userAgent,
			})
			RespondError(c, http.StatusTooManyRequests, CodeRateLimited,
				"too many login attempts, try again later")
			return
		}

		u, err := mgr.Authenticate(c.Request.Context(), req.Username, req.Password)
		if errors.Is(err, users.ErrInvalidCredentials) {
			metrics.RecordLoginAttempt("invalid_credentials")
			auditLog.Log(audit.Event{
				Action:    "auth.login_failed",
				Actor:     req.Username,
				Status:    "invalid_credentials",
				TraceID:   traceID,
				IP:        ip,
				UserAgent: userAgent,
			})
			RespondError(c, http.StatusUnauthorized, CodeAuthFailed, "incorrect username or password")
			return
		}
		if err != nil {
			logger.L().Error("login lookup failed", "trace_id", traceID, "error", err)
			RespondError(c, http.StatusInternalServerError, CodeInternal, "internal error")
			return
		}
		if u.IsActive != 1 {
			metrics.RecordLoginAttempt("inactive")
			auditLog.Log(audit.Event{
				Action:    "auth.login_failed",
				Actor:     u.Username,
				Role:      u.Role,
				Status:    "inactive",
				TraceID:   traceID,
				IP:        ip,
				UserAgent: userAgent,
			})
			RespondError(c, http.StatusForbidden, CodeNotAuthorized, "account is disabled")
			return
		}

		token, err := mgr.GenerateToken(u)
		if err != nil {
			logger.L().Error("token signing failed", "trace_id", traceID, "error", err)
			RespondError(c, http.StatusInternalServerError, CodeInternal, "internal error")
			return
		}

		now := time.Now().UTC().Format(time.RFC3339)
		if err := mgr.UpdateLastLogin(c.Request.Context(), u.Username, now); err != nil {
			logger.L().Warn("last login stamp failed", "trace_id", traceID, "user", u.Username, "error", err)
		}
		limiter.Reset(u.Username)

		metrics.RecordLoginAttempt("success")
		auditLog.Log(audit.Event{
			Action:    "auth.login_success",
			Actor:     u.Username,
			Role:      u.Role,
			Status:    "success",
			TraceID:   traceID,
			IP:        ip,
			UserAgent: userAgent,
		})
		c.JSON(http.StatusOK, loginResponse{
			AccessToken: token,
			TokenType:   "bearer",
			Role:        u.Role,
			Username:    u.Username,
		})
	}
}

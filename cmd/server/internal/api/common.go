// Package api implements the HTTP surface: authentication, task record
// CRUD, admin reporting and user management. Every error response uses one
// envelope shape so clients can parse failures uniformly.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/houzhh15/capworks/cmd/server/internal/users"
)

// Stable machine-readable error codes.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeAuthFailed    = "AUTH_FAILED"
	CodeNotAuthorized = "NOT_AUTHORIZED"
	CodeRateLimited   = "RATE_LIMITED"
	CodeInternal      = "INTERNAL_ERROR"
)

// ErrorBody is the inner error object of the envelope.
type ErrorBody struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// ErrorEnvelope is the uniform error response shape.
type ErrorEnvelope struct {
	TraceID string    `json:"trace_id"`
	Error   ErrorBody `json:"error"`
}

// TraceID returns the request's trace id set by the logging middleware.
func TraceID(c *gin.Context) string {
	return c.GetString("trace_id")
}

// RespondError writes the error envelope with the given status.
func RespondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorEnvelope{
		TraceID: TraceID(c),
		Error:   ErrorBody{Code: code, Message: message},
	})
}

// RespondFieldErrors writes a 400 validation envelope with per-field detail.
func RespondFieldErrors(c *gin.Context, message string, fields map[string]string) {
	c.JSON(http.StatusBadRequest, ErrorEnvelope{
		TraceID: TraceID(c),
		Error:   ErrorBody{Code: CodeValidation, Message: message, FieldErrors: fields},
	})
}

// AbortError writes the envelope and stops the handler chain.
func AbortError(c *gin.Context, status int, code, message string) {
	RespondError(c, status, code, message)
	c.Abort()
}

// bindJSON binds the request body into dst, translating binding failures
// into the validation envelope. It reports whether binding succeeded.
func bindJSON(c *gin.Context, dst interface{}) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[strings.ToLower(fe.Field())] = "failed validation: " + fe.Tag()
		}
		RespondFieldErrors(c, "request validation failed", fields)
		return false
	}
	RespondError(c, http.StatusBadRequest, CodeValidation, "malformed request body: "+err.Error())
	return false
}

// requestMeta gathers the per-request audit fields.
func requestMeta(c *gin.Context) (traceID, ip, userAgent string) {
	return TraceID(c), c.ClientIP(), c.Request.UserAgent()
}

// currentUser returns the authenticated username and role set by RequireAuth.
func currentUser(c *gin.Context) (username, role string) {
	return c.GetString("username"), c.GetString("role")
}

// RequireAuth verifies the bearer token and stores the caller's identity in
// the request context.
func RequireAuth(mgr *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			AbortError(c, http.StatusUnauthorized, CodeAuthFailed, "missing bearer token")
			return
		}
		claims, err := mgr.ParseToken(strings.TrimSpace(token))
		if err != nil {
			AbortError(c, http.StatusUnauthorized, CodeAuthFailed, "invalid or expired token")
			return
		}
		c.Set("username", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireAdmin rejects callers whose token does not carry the admin role.
// It must run after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != users.RoleAdmin {
			AbortError(c, http.StatusForbidden, CodeNotAuthorized, "admin role required")
			return
		}
		c.Next()
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/capworks/cmd/server/internal/audit"
	"github.com/houzhh15/capworks/cmd/server/internal/backup"
	"github.com/houzhh15/capworks/cmd/server/internal/ratelimit"
	"github.com/houzhh15/capworks/cmd/server/internal/tasks"
	"github.com/houzhh15/capworks/cmd/server/internal/users"
	"github.com/houzhh15/capworks/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if _, err := logger.Init(logger.Config{Level: "error"}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type testServer struct {
	router     *gin.Engine
	repo       *tasks.Repository
	mgr        *users.Manager
	limiter    *ratelimit.Limiter
	backupsDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dataDir := t.TempDir()
	backupsDir := filepath.Join(dataDir, "backups")

	repo := tasks.NewRepository(dataDir, 10*time.Second)
	require.NoError(t, repo.EnsureFile())
	mgr, err := users.NewManager(dataDir, []byte("0123456789abcdef0123456789abcdef"), time.Hour, 10*time.Second)
	require.NoError(t, err)
	limiter := ratelimit.New(5, 20, 300*time.Second)
	backups := backup.New(repo, mgr, "", backupsDir, 7, slog.Default())
	auditLog := audit.Nop{}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("trace_id", "test-trace")
		c.Next()
	})
	router.POST("/auth/login", HandleLogin(mgr, limiter, auditLog))

	authed := router.Group("/", RequireAuth(mgr))
	authed.POST("/tasks", HandleCreateTask(repo, auditLog))
	authed.GET("/tasks", HandleListTasks(repo))
	authed.PATCH("/tasks/:sno", HandleUpdateTask(repo, auditLog))
	authed.DELETE("/tasks/:sno", HandleDeleteTask(repo, auditLog))

	admin := router.Group("/admin", RequireAuth(mgr), RequireAdmin())
	admin.GET("/tasks", HandleAdminListTasks(repo))
	admin.GET("/summary", HandleAdminSummary(repo))
	admin.GET("/export", HandleAdminExport(repo, backups, auditLog))
	admin.GET("/users", HandleAdminListUsers(mgr))
	admin.POST("/users", HandleAdminCreateUser(mgr, auditLog))
	admin.PATCH("/users/:username/status", HandleAdminSetUserStatus(mgr, auditLog))
	admin.POST("/users/:username/reset-password", HandleAdminResetPassword(mgr, auditLog))

	return &testServer{router: router, repo: repo, mgr: mgr, limiter: limiter, backupsDir: backupsDir}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createUser(t *testing.T, username, password, role string) string {
	t.Helper()
	_, err := s.mgr.Create(context.Background(), username, password, role)
	require.NoError(t, err)
	return s.login(t, username, password)
}

func (s *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": username, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func validTaskBody() gin.H {
	return gin.H{
		"sub_division":          "North",
		"account_code":          "Spill",
		"number_of_works":       4,
		"estimate_amount":       200.0,
		"agreement_amount":      185.0,
		"exp_upto_31_03_2025":   50.0,
		"exp_upto_last_month":   15.0,
		"exp_during_this_month": 5.0,
		"works_completed":       1,
	}
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestLoginFlow(t *testing.T) {
	s := newTestServer(t)
	_, err := s.mgr.Create(context.Background(), "alice", "s3cret-pass", users.RoleUser)
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "alice", "password": "s3cret-pass"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		Role        string `json:"role"`
		Username    string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, users.RoleUser, resp.Role)
	assert.Equal(t, "alice", resp.Username)

	u, err := s.mgr.Find(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, u.LastLoginAt, "successful login stamps last_login_at")
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t)
	_, err := s.mgr.Create(context.Background(), "alice", "s3cret-pass", users.RoleUser)
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, CodeAuthFailed, env.Error.Code)
	assert.Equal(t, "test-trace", env.TraceID)
}

func TestLoginInactiveAccount(t *testing.T) {
	s := newTestServer(t)
	_, err := s.mgr.Create(context.Background(), "alice", "s3cret-pass", users.RoleUser)
	require.NoError(t, err)
	require.NoError(t, s.mgr.SetActive(context.Background(), "alice", 0))

	w := s.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "alice", "password": "s3cret-pass"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeNotAuthorized, decodeEnvelope(t, w).Error.Code)
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestServer(t)
	_, err := s.mgr.Create(context.Background(), "alice", "s3cret-pass", users.RoleUser)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		w := s.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "alice", "password": "wrong"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := s.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "alice", "password": "s3cret-pass"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, CodeRateLimited, decodeEnvelope(t, w).Error.Code)
}

func TestSuccessfulLoginResetsUsernameBucket(t *testing.T) {
	s := newTestServer(t)
	_, err := s.mgr.Create(context.Background(), "alice", "s3cret-pass", users.RoleUser)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		s.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "alice", "password": "wrong"})
	}
	s.login(t, "alice", "s3cret-pass")

	// quota is fresh again after the success
	for i := 0; i < 4; i++ {
		w := s.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "alice", "password": "wrong"})
		require.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i)
	}
}

func TestTasksRequireAuth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/tasks", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeAuthFailed, decodeEnvelope(t, w).Error.Code)
}

func TestCreateTaskComputesDerivedFields(t *testing.T) {
	s := newTestServer(t)
	token := s.createUser(t, "alice", "s3cret-pass", users.RoleUser)

	w := s.do(t, http.MethodPost, "/tasks", token, validTaskBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Status    string `json:"status"`
		Sno       int    `json:"sno"`
		CreatedAt string `json:"created_at"`
		Computed  struct {
			BalanceAmount      float64 `json:"balance_amount_as_on_01_04_2025"`
			TotalExpDuringYear float64 `json:"total_exp_during_year"`
			TotalValueWorkDone float64 `json:"total_value_work_done_from_beginning"`
			BalanceWorks       int     `json:"balance_works"`
		} `json:"computed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 1, resp.Sno)
	assert.NotEmpty(t, resp.CreatedAt)
	assert.Equal(t, 135.0, resp.Computed.BalanceAmount)
	assert.Equal(t, 20.0, resp.Computed.TotalExpDuringYear)
	assert.Equal(t, 70.0, resp.Computed.TotalValueWorkDone)
	assert.Equal(t, 3, resp.Computed.BalanceWorks)
}

func TestCreateTaskValidationEnvelope(t *testing.T) {
	s := newTestServer(t)
	token := s.createUser(t, "alice", "s3cret-pass", users.RoleUser)

	body := validTaskBody()
	body["works_completed"] = 10
	w := s.do(t, http.MethodPost, "/tasks", token, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, CodeValidation, env.Error.Code)
	assert.Contains(t, env.Error.FieldErrors, "works_completed")

	body = validTaskBody()
	body["account_code"] = "Bogus"
	w = s.do(t, http.MethodPost, "/tasks", token, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeEnvelope(t, w).Error.FieldErrors, "account_code")
}

func TestListTasksOwnerScoped(t *testing.T) {
	s := newTestServer(t)
	aliceTok := s.createUser(t, "alice", "s3cret-pass", users.RoleUser)
	bobTok := s.createUser(t, "bob", "s3cret-pass", users.RoleUser)
	adminTok := s.createUser(t, "boss", "s3cret-pass", users.RoleAdmin)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/tasks", aliceTok, validTaskBody()).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/tasks", bobTok, validTaskBody()).Code)

	var page struct {
		Items      []tasks.Task `json:"items"`
		TotalItems int          `json:"total_items"`
	}

	w := s.do(t, http.MethodGet, "/tasks", aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "alice", page.Items[0].CreatedBy)

	w = s.do(t, http.MethodGet, "/tasks", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.TotalItems)
}

func TestListTasksBadParams(t *testing.T) {
	s := newTestServer(t)
	token := s.createUser(t, "alice", "s3cret-pass", users.RoleUser)

	w := s.do(t, http.MethodGet, "/tasks?account_code=Bogus&order=sideways&page_size=9999", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.Contains(t, env.Error.FieldErrors, "account_code")
	assert.Contains(t, env.Error.FieldErrors, "order")
	assert.Contains(t, env.Error.FieldErrors, "page_size")

	w = s.do(t, http.MethodGet, "/tasks?sort_by=no_such_column", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeEnvelope(t, w).Error.FieldErrors, "sort_by")
}

func TestUpdateTaskOwnership(t *testing.T) {
	s := newTestServer(t)
	aliceTok := s.createUser(t, "alice", "s3cret-pass", users.RoleUser)
	bobTok := s.createUser(t, "bob", "s3cret-pass", users.RoleUser)
	adminTok := s.createUser(t, "boss", "s3cret-pass", users.RoleAdmin)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/tasks", aliceTok, validTaskBody()).Code)

	body := validTaskBody()
	body["works_completed"] = 2

	w := s.do(t, http.MethodPatch, "/tasks/1", bobTok, body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeNotAuthorized, decodeEnvelope(t, w).Error.Code)

	w = s.do(t, http.MethodPatch, "/tasks/1", adminTok, body)
	require.Equal(t, http.StatusOK, w.Code)
	var updated tasks.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, 2, updated.WorksCompleted)
	assert.Equal(t, "alice", updated.CreatedBy, "update preserves the creator")

	w = s.do(t, http.MethodPatch, "/tasks/99", aliceTok, body)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeValidation, decodeEnvelope(t, w).Error.Code)
}

func TestDeleteTask(t *testing.T) {
	s := newTestServer(t)
	aliceTok := s.createUser(t, "alice", "s3cret-pass", users.RoleUser)
	bobTok := s.createUser(t, "bob", "s3cret-pass", users.RoleUser)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/tasks", aliceTok, validTaskBody()).Code)

	w := s.do(t, http.MethodDelete, "/tasks/1", bobTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, "/tasks/1", aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status string `json:"status"`
		Sno    int    `json:"sno"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 1, resp.Sno)

	w = s.do(t, http.MethodDelete, "/tasks/1", aliceTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	s := newTestServer(t)
	userTok := s.createUser(t, "alice", "s3cret-pass", users.RoleUser)

	for _, path := range []string{"/admin/tasks", "/admin/summary", "/admin/export", "/admin/users"} {
		w := s.do(t, http.MethodGet, path, userTok, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
		assert.Equal(t, CodeNotAuthorized, decodeEnvelope(t, w).Error.Code, path)
	}
}

func TestAdminSummary(t *testing.T) {
	s := newTestServer(t)
	adminTok := s.createUser(t, "boss", "s3cret-pass", users.RoleAdmin)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/tasks", adminTok, validTaskBody()).Code)
	other := validTaskBody()
	other["sub_division"] = "South"
	other["account_code"] = "New"
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/tasks", adminTok, other).Code)

	w := s.do(t, http.MethodGet, "/admin/summary", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		GrandTotals struct {
			NumberOfWorks int `json:"number_of_works"`
		} `json:"grand_totals"`
		BySubDivision []struct {
			SubDivision string `json:"sub_division"`
		} `json:"by_sub_division"`
		TotalItems int `json:"total_items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 8, resp.GrandTotals.NumberOfWorks)
	require.Len(t, resp.BySubDivision, 2)
	assert.Equal(t, "North", resp.BySubDivision[0].SubDivision)
	assert.Equal(t, 2, resp.TotalItems)

	w = s.do(t, http.MethodGet, "/admin/summary?sub_division=north", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalItems)
}

func TestAdminExport(t *testing.T) {
	s := newTestServer(t)
	adminTok := s.createUser(t, "boss", "s3cret-pass", users.RoleAdmin)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/tasks", adminTok, validTaskBody()).Code)

	w := s.do(t, http.MethodGet, "/admin/export", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "tasks_export_")
	assert.NotEmpty(t, w.Body.Bytes())

	// a pre-export snapshot must exist
	entries, err := os.ReadDir(s.backupsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Contains(t, entries[0].Name(), "_pre_export")
}

func TestAdminUserManagement(t *testing.T) {
	s := newTestServer(t)
	adminTok := s.createUser(t, "boss", "s3cret-pass", users.RoleAdmin)

	w := s.do(t, http.MethodPost, "/admin/users", adminTok, gin.H{
		"username": "carol", "password": "s3cret-pass", "role": "user",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created users.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "carol", created.Username)
	assert.Equal(t, 1, created.IsActive)

	// duplicate username
	w = s.do(t, http.MethodPost, "/admin/users", adminTok, gin.H{
		"username": "carol", "password": "s3cret-pass", "role": "user",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// invalid role
	w = s.do(t, http.MethodPost, "/admin/users", adminTok, gin.H{
		"username": "dave", "password": "s3cret-pass", "role": "root",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// list with filters
	var list struct {
		Items      []users.User `json:"items"`
		TotalItems int          `json:"total_items"`
	}
	w = s.do(t, http.MethodGet, "/admin/users?role=user", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "carol", list.Items[0].Username)

	// disable and verify login rejected
	w = s.do(t, http.MethodPatch, "/admin/users/carol/status", adminTok, gin.H{"is_active": 0})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/auth/login", "", gin.H{"username": "carol", "password": "s3cret-pass"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// reset password and verify new one works after re-enable
	w = s.do(t, http.MethodPatch, "/admin/users/carol/status", adminTok, gin.H{"is_active": 1})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/admin/users/carol/reset-password", adminTok, gin.H{"new_password": "new-password-1"})
	require.Equal(t, http.StatusOK, w.Code)
	s.login(t, "carol", "new-password-1")

	// unknown user
	w = s.do(t, http.MethodPost, "/admin/users/ghost/reset-password", adminTok, gin.H{"new_password": "new-password-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaginationClamp(t *testing.T) {
	s := newTestServer(t)
	adminTok := s.createUser(t, "boss", "s3cret-pass", users.RoleAdmin)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/tasks", adminTok, validTaskBody()).Code)
	}

	w := s.do(t, http.MethodGet, fmt.Sprintf("/admin/tasks?page=%d&page_size=2", 9), adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items      []tasks.Task `json:"items"`
		Page       int          `json:"page"`
		TotalPages int          `json:"total_pages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Page, "out-of-range page clamps to the last page")
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 1)
}

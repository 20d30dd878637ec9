package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), testSecret, 8*time.Hour, 10*time.Second)
	require.NoError(t, err)
	return m
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager(t.TempDir(), nil, time.Hour, time.Second)
	assert.Error(t, err)
}

func TestCreateAndAuthenticate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "alice", "s3cret-pass", RoleUser)
	require.NoError(t, err)
	assert.NotEmpty(t, created.UserID)
	assert.Empty(t, created.PasswordHash, "create response must not carry the hash")
	assert.Equal(t, 1, created.IsActive)

	u, err := m.Authenticate(ctx, "alice", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, u.Role)

	_, err = m.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = m.Authenticate(ctx, "nobody", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateDuplicateUsername(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "alice", "s3cret-pass", RoleUser)
	require.NoError(t, err)
	_, err = m.Create(ctx, "alice", "other-pass", RoleAdmin)
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestListFilters(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "alice", "password1", RoleAdmin)
	require.NoError(t, err)
	_, err = m.Create(ctx, "bob", "password2", RoleUser)
	require.NoError(t, err)
	require.NoError(t, m.SetActive(ctx, "bob", 0))

	all, err := m.List(ctx, "", "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	admins, err := m.List(ctx, "", RoleAdmin, nil)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "alice", admins[0].Username)

	inactive := 0
	disabled, err := m.List(ctx, "", "", &inactive)
	require.NoError(t, err)
	require.Len(t, disabled, 1)
	assert.Equal(t, "bob", disabled[0].Username)

	byName, err := m.List(ctx, "LIC", "", nil)
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "alice", byName[0].Username)
}

func TestSetActiveAndResetPassword(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "alice", "old-password", RoleUser)
	require.NoError(t, err)

	require.NoError(t, m.ResetPassword(ctx, "alice", "new-password"))
	_, err = m.Authenticate(ctx, "alice", "old-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = m.Authenticate(ctx, "alice", "new-password")
	assert.NoError(t, err)

	assert.ErrorIs(t, m.SetActive(ctx, "ghost", 0), ErrNotFound)
	assert.ErrorIs(t, m.ResetPassword(ctx, "ghost", "irrelevant1"), ErrNotFound)

	require.NoError(t, m.SetActive(ctx, "alice", 0))
	u, err := m.Find(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, u.IsActive)
}

func TestUpdateLastLogin(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "alice", "s3cret-pass", RoleUser)
	require.NoError(t, err)
	require.NoError(t, m.UpdateLastLogin(ctx, "alice", "2025-06-01T10:00:00Z"))

	u, err := m.Find(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01T10:00:00Z", u.LastLoginAt)
}

func TestEnsureDefaultAdmin(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.EnsureDefaultAdmin(ctx, "bootstrap-pass"))
	u, err := m.Authenticate(ctx, "admin", "bootstrap-pass")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)

	// second call is a no-op even with a different password
	require.NoError(t, m.EnsureDefaultAdmin(ctx, "other-pass"))
	_, err = m.Authenticate(ctx, "admin", "other-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// a populated store never gets a default admin
	m2 := newTestManager(t)
	_, err = m2.Create(ctx, "alice", "s3cret-pass", RoleUser)
	require.NoError(t, err)
	require.NoError(t, m2.EnsureDefaultAdmin(ctx, "bootstrap-pass"))
	_, err = m2.Find(ctx, "admin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokenRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "alice", "s3cret-pass", RoleUser)
	require.NoError(t, err)

	token, err := m.GenerateToken(created)
	require.NoError(t, err)

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestParseTokenRejectsGarbageAndWrongKey(t *testing.T) {
	m := newTestManager(t)

	_, err := m.ParseToken("not-a-token")
	assert.Error(t, err)

	other, err := NewManager(t.TempDir(), []byte("another-secret-another-secret-xx"), time.Hour, time.Second)
	require.NoError(t, err)
	u, err := other.Create(context.Background(), "mallory", "password1", RoleAdmin)
	require.NoError(t, err)
	token, err := other.GenerateToken(u)
	require.NoError(t, err)

	_, err = m.ParseToken(token)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	m, err := NewManager(t.TempDir(), testSecret, -time.Minute, time.Second)
	require.NoError(t, err)
	u, err := m.Create(context.Background(), "alice", "s3cret-pass", RoleUser)
	require.NoError(t, err)

	token, err := m.GenerateToken(u)
	require.NoError(t, err)
	_, err = m.ParseToken(token)
	assert.Error(t, err)
}

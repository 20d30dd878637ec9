// Package users manages the account workbook and JWT issuance. Accounts
// use the same storage pattern as task records: one xlsx sheet behind an
// exclusive sibling lock.
package users

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/houzhh15/capworks/cmd/server/internal/store"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const (
	fileName  = "users.xlsx"
	sheetName = "users"

	RoleAdmin = "admin"
	RoleUser  = "user"
)

var userColumns = []string{
	"user_id",
	"username",
	"password_hash",
	"role",
	"is_active",
	"created_at",
	"last_login_at",
}

// User is one account row. PasswordHash never serializes.
type User struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	IsActive     int    `json:"is_active"`
	CreatedAt    string `json:"created_at"`
	LastLoginAt  string `json:"last_login_at"`
}

// Claims are the bearer-token claims: subject is the username.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager owns the account workbook and signs/verifies bearer tokens.
type Manager struct {
	store    *store.Store
	secret   []byte
	tokenTTL time.Duration
}

// NewManager creates the manager and the workbook if absent.
func NewManager(dataDir string, secret []byte, tokenTTL, lockTimeout time.Duration) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret key required")
	}
	m := &Manager{
		store:    store.New(filepath.Join(dataDir, fileName), sheetName, userColumns, lockTimeout),
		secret:   secret,
		tokenTTL: tokenTTL,
	}
	if err := m.store.EnsureExists(); err != nil {
		return nil, err
	}
	return m, nil
}

// ValidRole reports whether role is a declared role.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// HashPassword hashes a password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func decodeUserRow(cells []string) User {
	active := 0
	if n, err := strconv.Atoi(cells[4]); err == nil {
		active = n
	}
	return User{
		UserID:       cells[0],
		Username:     cells[1],
		PasswordHash: cells[2],
		Role:         cells[3],
		IsActive:     active,
		CreatedAt:    cells[5],
		LastLoginAt:  cells[6],
	}
}

func (u User) rowValues() []interface{} {
	return []interface{}{u.UserID, u.Username, u.PasswordHash, u.Role, u.IsActive, u.CreatedAt, u.LastLoginAt}
}

// public strips the hash for listing responses.
func (u User) public() User {
	u.PasswordHash = ""
	return u
}

// Find returns the account with the given username, hash included.
func (m *Manager) Find(ctx context.Context, username string) (User, error) {
	var found *User
	err := m.store.View(ctx, func(f *excelize.File) error {
		rows, rerr := m.store.DataRows(f)
		if rerr != nil {
			return rerr
		}
		for _, row := range rows {
			if row.Cells[1] == username {
				u := decodeUserRow(row.Cells)
				found = &u
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	if found == nil {
		return User{}, ErrNotFound
	}
	return *found, nil
}

// List returns accounts (hashes stripped) matching the optional filters:
// case-insensitive username substring, exact role, active flag.
func (m *Manager) List(ctx context.Context, q, role string, isActive *int) ([]User, error) {
	needle := strings.ToLower(strings.TrimSpace(q))
	var out []User
	err := m.store.View(ctx, func(f *excelize.File) error {
		rows, rerr := m.store.DataRows(f)
		if rerr != nil {
			return rerr
		}
		out = make([]User, 0, len(rows))
		for _, row := range rows {
			u := decodeUserRow(row.Cells)
			if needle != "" && !strings.Contains(strings.ToLower(u.Username), needle) {
				continue
			}
			if role != "" && u.Role != role {
				continue
			}
			if isActive != nil && u.IsActive != *isActive {
				continue
			}
			out = append(out, u.public())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Create appends a new active account. Usernames are unique.
func (m *Manager) Create(ctx context.Context, username, password, role string) (User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	u := User{
		UserID:       uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     1,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	err = m.store.Update(ctx, func(f *excelize.File) error {
		rows, rerr := m.store.DataRows(f)
		if rerr != nil {
			return rerr
		}
		for _, row := range rows {
			if row.Cells[1] == username {
				return ErrUsernameTaken
			}
		}
		return m.store.AppendRow(f, u.rowValues())
	})
	if err != nil {
		return User{}, err
	}
	return u.public(), nil
}

// updateRow rewrites the matching account row through mutate.
func (m *Manager) updateRow(ctx context.Context, username string, mutate func(*User)) error {
	return m.store.Update(ctx, func(f *excelize.File) error {
		rows, rerr := m.store.DataRows(f)
		if rerr != nil {
			return rerr
		}
		for _, row := range rows {
			if row.Cells[1] != username {
				continue
			}
			u := decodeUserRow(row.Cells)
			mutate(&u)
			return m.store.SetRow(f, row.Index, u.rowValues())
		}
		return ErrNotFound
	})
}

// SetActive flips the account's active flag.
func (m *Manager) SetActive(ctx context.Context, username string, active int) error {
	return m.updateRow(ctx, username, func(u *User) { u.IsActive = active })
}

// ResetPassword replaces the stored hash.
func (m *Manager) ResetPassword(ctx context.Context, username, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return m.updateRow(ctx, username, func(u *User) { u.PasswordHash = hash })
}

// UpdateLastLogin stamps the account's last successful login.
func (m *Manager) UpdateLastLogin(ctx context.Context, username, lastLoginAt string) error {
	return m.updateRow(ctx, username, func(u *User) { u.LastLoginAt = lastLoginAt })
}

// EnsureDefaultAdmin creates an active admin account when the store holds
// no users at all.
func (m *Manager) EnsureDefaultAdmin(ctx context.Context, password string) error {
	existing, err := m.List(ctx, "", "", nil)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	_, err = m.Create(ctx, "admin", password, RoleAdmin)
	if errors.Is(err, ErrUsernameTaken) {
		return nil
	}
	return err
}

// Authenticate verifies the password against the stored hash. It does not
// check the active flag; callers decide how to surface inactive accounts.
func (m *Manager) Authenticate(ctx context.Context, username, password string) (User, error) {
	u, err := m.Find(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// GenerateToken signs a bearer token for the account.
func (m *Manager) GenerateToken(u User) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ParseToken verifies a bearer token and returns its claims.
func (m *Manager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{},
		func(t *jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" || !ValidRole(claims.Role) {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// SnapshotTo copies the workbook to dst under the lock, for backups.
func (m *Manager) SnapshotTo(ctx context.Context, dst string) error {
	return m.store.SnapshotTo(ctx, dst)
}

// FilePath returns the workbook path, for backup naming.
func (m *Manager) FilePath() string { return m.store.Path() }

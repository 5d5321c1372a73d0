package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/gosuda/domus/internal/domain"
)

// Sentinel errors for the auth package.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserAlreadyExists  = errors.New("auth: user already exists")
)

// argon2id parameters following OWASP recommendations.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// DefaultRole is assigned to self-registered users.
const DefaultRole = "member"

// Recorder receives failed login attempts as security events.
type Recorder interface {
	Record(ctx context.Context, e *domain.SecurityEvent)
}

// Service issues tokens for a tenant's users.
type Service struct {
	users      domain.UserRepository
	jwtSecret  string
	accessTTL  time.Duration
	refreshTTL time.Duration
	recorder   Recorder
	now        func() time.Time
}

type Option func(*Service)

// WithRecorder records failed logins against the tenant they targeted.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func NewService(users domain.UserRepository, jwtSecret string, accessTTL, refreshTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		users:      users,
		jwtSecret:  jwtSecret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a member of tenantID. The password is stored as an
// argon2id hash.
func (s *Service) Register(ctx context.Context, tenantID uuid.UUID, email, password, name string) (*domain.User, error) {
	email = NormalizeEmail(email)

	if _, err := s.users.GetByEmail(ctx, tenantID, email); err == nil {
		return nil, fmt.Errorf("auth.Register: %w", ErrUserAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("auth.Register: %w", err)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("auth.Register: %w", err)
	}

	now := s.now()
	user := &domain.User{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(name),
		Roles:        []string{DefaultRole},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		// Lost a race with a concurrent registration of the same email.
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("auth.Register: %w", ErrUserAlreadyExists)
		}
		return nil, fmt.Errorf("auth.Register: %w", err)
	}

	return user, nil
}

// Login checks the credentials and returns an access and a refresh token.
// Unknown emails and wrong passwords fail identically and take the same
// hashing work.
func (s *Service) Login(ctx context.Context, tenantID uuid.UUID, email, password string) (accessToken, refreshToken string, err error) {
	user, err := s.users.GetByEmail(ctx, tenantID, NormalizeEmail(email))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		verifyPassword(password, dummyHash())
		s.loginFailed(ctx, tenantID, uuid.Nil, "unknown_user")
		return "", "", fmt.Errorf("auth.Login: %w", ErrInvalidCredentials)
	case err != nil:
		return "", "", fmt.Errorf("auth.Login: %w", err)
	}

	if !verifyPassword(password, user.PasswordHash) {
		s.loginFailed(ctx, tenantID, user.ID, "bad_password")
		return "", "", fmt.Errorf("auth.Login: %w", ErrInvalidCredentials)
	}

	accessToken, err = IssueAccessToken(s.jwtSecret, user.TenantID, user.ID, user.Roles, s.accessTTL)
	if err != nil {
		return "", "", fmt.Errorf("auth.Login: %w", err)
	}

	refreshToken, err = IssueRefreshToken(s.jwtSecret, user.TenantID, user.ID, user.Roles, s.refreshTTL)
	if err != nil {
		return "", "", fmt.Errorf("auth.Login: %w", err)
	}

	return accessToken, refreshToken, nil
}

func (s *Service) loginFailed(ctx context.Context, tenantID, userID uuid.UUID, reason string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, &domain.SecurityEvent{
		EventType: domain.EventUnauthenticated,
		TenantID:  tenantID,
		UserID:    userID,
		Severity:  domain.SeverityWarning,
		Details:   map[string]any{"reason": reason, "operation": "login"},
	})
}

// RefreshToken exchanges a refresh token for a new access token. The roles
// are reloaded so a demotion takes effect on the next refresh.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	claims, err := ValidateToken(s.jwtSecret, refreshToken)
	if err != nil {
		return "", fmt.Errorf("auth.RefreshToken: %w", err)
	}

	if claims.TokenType != TokenTypeRefresh {
		return "", fmt.Errorf("auth.RefreshToken: %w", ErrInvalidToken)
	}

	tenantID, userID, err := claims.ParseIDs()
	if err != nil {
		return "", fmt.Errorf("auth.RefreshToken: %w", err)
	}

	user, err := s.users.GetByID(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("auth.RefreshToken: %w", ErrInvalidToken)
		}
		return "", fmt.Errorf("auth.RefreshToken: %w", err)
	}

	newAccess, err := IssueAccessToken(s.jwtSecret, user.TenantID, user.ID, user.Roles, s.accessTTL)
	if err != nil {
		return "", fmt.Errorf("auth.RefreshToken: %w", err)
	}

	return newAccess, nil
}

// hashPassword returns a PHC-style argon2id string:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyPassword checks password against a hashPassword string, honoring
// the parameters recorded in it.
func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	if memory == 0 || iterations == 0 || threads == 0 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(expected))) //nolint:gosec // key length is at most a few dozen bytes

	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// dummyHash is verified against for unknown users.
//
//nolint:gochecknoglobals // computed once
var dummyHash = sync.OnceValue(func() string {
	h, err := hashPassword("domus-dummy-password")
	if err != nil {
		return ""
	}
	return h
})

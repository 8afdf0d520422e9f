package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/WestWindsorForward/Pinpoint-311/models"
)

// ErrInvalidCredentials is returned for a wrong email/password combination
// and for disabled accounts, without distinguishing the two to the caller.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService authenticates staff accounts and issues access tokens.
// Every login attempt, success or failure, lands in the audit trail.
type AuthService struct {
	db       *gorm.DB
	audit    *AuditService
	jwtKey   []byte
	tokenTTL time.Duration
}

// NewAuthService creates a new auth service instance
func NewAuthService(db *gorm.DB, audit *AuditService, jwtKey []byte, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &AuthService{db: db, audit: audit, jwtKey: jwtKey, tokenTTL: tokenTTL}
}

// Claims is the JWT claim set issued to staff sessions.
type Claims struct {
	Email string          `json:"email"`
	Role  models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Login verifies credentials and returns a signed access token. The audit
// entry is written before the token is returned; an audit storage failure
// fails the login, since an unrecorded authentication event defeats the
// point of the trail.
func (s *AuthService) Login(ctx context.Context, email, password, ipAddress, userAgent string) (string, *models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if _, auditErr := s.audit.LogLoginFailed(ctx, email, ipAddress, userAgent, "unknown user"); auditErr != nil {
			return "", nil, auditErr
		}
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to load user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		if _, auditErr := s.audit.LogLoginFailed(ctx, email, ipAddress, userAgent, "bad password"); auditErr != nil {
			return "", nil, auditErr
		}
		return "", nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		if _, auditErr := s.audit.LogLoginFailed(ctx, email, ipAddress, userAgent, "account disabled"); auditErr != nil {
			return "", nil, auditErr
		}
		return "", nil, ErrInvalidCredentials
	}

	sessionID := uuid.NewString()
	token, err := s.issueToken(&user, sessionID)
	if err != nil {
		return "", nil, err
	}

	if _, err := s.audit.LogLoginSuccess(ctx, &user, ipAddress, userAgent, sessionID); err != nil {
		return "", nil, err
	}

	return token, &user, nil
}

// Logout records a logout event for the session.
func (s *AuthService) Logout(ctx context.Context, user *models.User, ipAddress, sessionID string) error {
	_, err := s.audit.LogLogout(ctx, user, ipAddress, sessionID)
	return err
}

// UpdateRole changes a staff account's role and records the change.
func (s *AuthService) UpdateRole(ctx context.Context, userID uuid.UUID, newRole models.UserRole, changedBy, ipAddress string) (*models.User, error) {
	if !newRole.Valid() {
		return nil, fmt.Errorf("%w: invalid role %q", ErrValidation, newRole)
	}

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	oldRole := user.Role
	if oldRole == newRole {
		return &user, nil
	}

	if err := s.db.WithContext(ctx).Model(&user).Update("role", newRole).Error; err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	user.Role = newRole

	if _, err := s.audit.LogRoleChange(ctx, &user, oldRole, newRole, changedBy, ipAddress); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUser loads one staff account by ID.
func (s *AuthService) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// HashPassword returns the bcrypt hash for a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (s *AuthService) issueToken(user *models.User, sessionID string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

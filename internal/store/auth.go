package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/backend"
	"storefront/internal/models"
)

// claims are carried by access tokens. Role is fixed at issue time; a role
// change takes effect on the next sign-in.
type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type authUser struct {
	ID           string `db:"id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	Role         string `db:"role"`
}

// SignUp creates the auth user and its customer profile in one transaction.
func (s *Store) SignUp(ctx context.Context, creds backend.Credentials) (*backend.Session, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if email == "" || creds.Password == "" {
		return nil, backend.NewError(http.StatusBadRequest, backend.CodeBadRequest, "email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.GetContext(ctx, &id,
		"INSERT INTO auth_users (email, password_hash) VALUES ($1, $2) RETURNING id",
		email, string(hash))
	if err != nil {
		mapped := mapError(err)
		if backend.IsConflict(mapped) {
			return nil, backend.NewError(http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		}
		return nil, mapped
	}

	var fullName *string
	if name := strings.TrimSpace(creds.FullName); name != "" {
		fullName = &name
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO profiles (id, email, full_name, role) VALUES ($1, $2, $3, $4)",
		id, email, fullName, string(models.RoleCustomer))
	if err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sign-up: %w", err)
	}

	s.logger.Info("user signed up", zap.String("user_id", id))
	return s.issue(authUser{ID: id, Email: email, Role: string(models.RoleCustomer)})
}

// SignIn checks the password and issues an access token.
func (s *Store) SignIn(ctx context.Context, creds backend.Credentials) (*backend.Session, error) {
	var u authUser
	err := s.db.GetContext(ctx, &u, `
		SELECT u.id, u.email, u.password_hash, COALESCE(p.role, 'customer') AS role
		FROM auth_users u
		LEFT JOIN profiles p ON p.id = u.id
		WHERE u.email = $1`,
		strings.ToLower(strings.TrimSpace(creds.Email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, invalidCredentials()
	}
	if err != nil {
		return nil, mapError(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(creds.Password)) != nil {
		return nil, invalidCredentials()
	}
	return s.issue(u)
}

// SignOut validates the token. Tokens are stateless and expire on their own;
// the caller forgets it.
func (s *Store) SignOut(_ context.Context, accessToken string) error {
	_, err := s.parse(accessToken)
	return err
}

// GetUser resolves a token to its user.
func (s *Store) GetUser(ctx context.Context, accessToken string) (*backend.User, error) {
	c, err := s.parse(accessToken)
	if err != nil {
		return nil, err
	}
	var email string
	err = s.db.GetContext(ctx, &email, "SELECT email FROM auth_users WHERE id = $1", c.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, invalidToken()
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &backend.User{ID: c.Subject, Email: email}, nil
}

func (s *Store) issue(u authUser) (*backend.Session, error) {
	now := s.now()
	expires := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: u.Email,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &backend.Session{
		AccessToken: signed,
		ExpiresAt:   expires,
		User:        backend.User{ID: u.ID, Email: u.Email},
	}, nil
}

func (s *Store) parse(accessToken string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(accessToken, c, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || c.Subject == "" {
		return nil, invalidToken()
	}
	return c, nil
}

func invalidCredentials() error {
	return backend.NewError(http.StatusBadRequest, backend.CodeInvalidCredentials, "Invalid login credentials")
}

func invalidToken() error {
	return backend.NewError(http.StatusUnauthorized, backend.CodeInvalidToken, "JWT expired or invalid")
}

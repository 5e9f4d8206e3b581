package memory

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/backend"
)

const tokenTTL = time.Hour

type account struct {
	id           string
	email        string
	passwordHash []byte
}

func invalidCredentials() error {
	return backend.NewError(http.StatusBadRequest, backend.CodeInvalidCredentials, "Invalid login credentials")
}

func (b *Backend) SignUp(ctx context.Context, creds backend.Credentials) (*backend.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if email == "" || creds.Password == "" {
		return nil, backend.NewError(http.StatusBadRequest, backend.CodeBadRequest, "email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.users[email]; exists {
		return nil, backend.NewError(http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
	}

	acct := &account{id: uuid.New().String(), email: email, passwordHash: hash}
	b.users[email] = acct

	// Mirrors the profile trigger of the hosted backend.
	now := b.stamp()
	var fullName any
	if creds.FullName != "" {
		fullName = creds.FullName
	}
	b.tables["profiles"] = append(b.tables["profiles"], map[string]any{
		"id":         acct.id,
		"email":      email,
		"full_name":  fullName,
		"role":       "customer",
		"created_at": now,
		"updated_at": now,
	})

	return b.issue(acct), nil
}

func (b *Backend) SignIn(ctx context.Context, creds backend.Credentials) (*backend.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(creds.Email))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["sign_in:auth"]++
	acct, ok := b.users[email]
	if !ok {
		return nil, invalidCredentials()
	}
	if err := bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(creds.Password)); err != nil {
		return nil, invalidCredentials()
	}
	return b.issue(acct), nil
}

func (b *Backend) SignOut(ctx context.Context, accessToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("sign_out", "auth"); err != nil {
		return err
	}
	if _, ok := b.tokens[accessToken]; !ok {
		return backend.NewError(http.StatusUnauthorized, backend.CodeInvalidToken, "JWT expired or invalid")
	}
	delete(b.tokens, accessToken)
	return nil
}

func (b *Backend) GetUser(ctx context.Context, accessToken string) (*backend.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	userID, ok := b.tokens[accessToken]
	if !ok {
		return nil, backend.NewError(http.StatusUnauthorized, backend.CodeInvalidToken, "JWT expired or invalid")
	}
	for _, acct := range b.users {
		if acct.id == userID {
			return &backend.User{ID: acct.id, Email: acct.email}, nil
		}
	}
	return nil, backend.NewError(http.StatusUnauthorized, backend.CodeInvalidToken, "user no longer exists")
}

// issue mints a session for acct. Caller holds mu.
func (b *Backend) issue(acct *account) *backend.Session {
	token := uuid.New().String()
	b.tokens[token] = acct.id
	return &backend.Session{
		AccessToken: token,
		ExpiresAt:   b.now().Add(tokenTTL),
		User:        backend.User{ID: acct.id, Email: acct.email},
	}
}

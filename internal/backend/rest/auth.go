package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"storefront/internal/backend"
)

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	User         backend.User `json:"user"`
}

func (t tokenResponse) session() *backend.Session {
	s := &backend.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		User:         t.User,
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return s
}

func (c *Client) SignIn(ctx context.Context, creds backend.Credentials) (*backend.Session, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	body, err := c.do(ctx, "sign_in", "auth", http.MethodPost,
		c.authPrefix+"/token?grant_type=password", payload, nil)
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response carried no access token")
	}
	return tr.session(), nil
}

// SignUp registers the account. Backends that require email confirmation
// return a user without a session; the returned Session then has an empty
// AccessToken.
func (c *Client) SignUp(ctx context.Context, creds backend.Credentials) (*backend.Session, error) {
	req := map[string]any{
		"email":    creds.Email,
		"password": creds.Password,
	}
	if creds.FullName != "" {
		req["data"] = map[string]string{"full_name": creds.FullName}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	body, err := c.do(ctx, "sign_up", "auth", http.MethodPost, c.authPrefix+"/signup", payload, nil)
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode sign-up response: %w", err)
	}
	if tr.AccessToken == "" {
		// Confirmation pending: the body is the bare user.
		var u backend.User
		if err := json.Unmarshal(body, &u); err != nil {
			return nil, fmt.Errorf("failed to decode sign-up user: %w", err)
		}
		return &backend.Session{User: u}, nil
	}
	return tr.session(), nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	authed := c.WithToken(accessToken).(*Client)
	_, err := authed.do(ctx, "sign_out", "auth", http.MethodPost, c.authPrefix+"/logout", nil, nil)
	return err
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*backend.User, error) {
	authed := c.WithToken(accessToken).(*Client)
	body, err := authed.do(ctx, "get_user", "auth", http.MethodGet, c.authPrefix+"/user", nil, nil)
	if err != nil {
		return nil, err
	}

	var u backend.User
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &u, nil
}

var _ backend.Client = (*Client)(nil)

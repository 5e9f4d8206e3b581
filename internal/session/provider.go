// Package session holds the authenticated identity of one storefront client
// and notifies dependents whenever it changes.
package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"storefront/internal/backend"
	"storefront/internal/models"
	"storefront/internal/util"
)

// Listener is notified synchronously after every identity transition.
// A nil identity means signed out.
type Listener interface {
	IdentityChanged(ctx context.Context, identity *models.Identity) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, identity *models.Identity) error

func (f ListenerFunc) IdentityChanged(ctx context.Context, identity *models.Identity) error {
	return f(ctx, identity)
}

// ProfileUpdate carries the account fields a user may edit. Nil fields are left alone.
type ProfileUpdate struct {
	FullName   *string `json:"full_name"`
	Phone      *string `json:"phone"`
	Address    *string `json:"address"`
	City       *string `json:"city"`
	PostalCode *string `json:"postal_code"`
	Country    *string `json:"country"`
}

func (u ProfileUpdate) patch() map[string]any {
	patch := make(map[string]any)
	set := func(col string, v *string) {
		if v != nil {
			patch[col] = *v
		}
	}
	set("full_name", u.FullName)
	set("phone", u.Phone)
	set("address", u.Address)
	set("city", u.City)
	set("postal_code", u.PostalCode)
	set("country", u.Country)
	return patch
}

// Provider owns the identity of a single client session.
type Provider struct {
	client backend.Client
	logger *zap.Logger

	mu        sync.RWMutex
	identity  *models.Identity
	profile   *models.Profile
	token     string
	listeners []subscription
	nextSub   int
}

type subscription struct {
	id int
	l  Listener
}

func NewProvider(client backend.Client, logger *zap.Logger) *Provider {
	return &Provider{
		client: client,
		logger: logger,
	}
}

// CurrentIdentity returns a copy of the identity, or nil when signed out.
func (p *Provider) CurrentIdentity() *models.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.identity == nil {
		return nil
	}
	id := *p.identity
	return &id
}

// Profile returns a copy of the profile, or nil when unknown.
func (p *Provider) Profile() *models.Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.profile == nil {
		return nil
	}
	prof := *p.profile
	return &prof
}

// Token returns the access token of the current session.
func (p *Provider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// Data returns the data service scoped to the current session.
func (p *Provider) Data() backend.DataService {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" {
		return p.client
	}
	return p.client.WithToken(p.token)
}

// Subscribe registers l and returns a function removing it again.
func (p *Provider) Subscribe(l Listener) func() {
	p.mu.Lock()
	p.nextSub++
	id := p.nextSub
	p.listeners = append(p.listeners, subscription{id: id, l: l})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, existing := range p.listeners {
			if existing.id == id {
				p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

func (p *Provider) SignIn(ctx context.Context, creds backend.Credentials) (*models.Identity, error) {
	ctx, span := util.StartSpan(ctx, "SessionProvider.SignIn")
	defer span.End()

	sess, err := p.client.SignIn(ctx, creds)
	if err != nil {
		authErr := classify("sign in", err)
		util.SignInsTotal.WithLabelValues(authErr.Kind.String()).Inc()
		p.logger.Warn("sign in failed", zap.String("kind", authErr.Kind.String()), zap.Error(err))
		return nil, authErr
	}
	util.SignInsTotal.WithLabelValues("ok").Inc()
	return p.establish(ctx, sess.AccessToken, sess.User), nil
}

// SignUp creates the account and signs it in. When the backend withholds the
// session until the email is confirmed, ErrConfirmationPending is returned and
// the provider stays signed out.
func (p *Provider) SignUp(ctx context.Context, creds backend.Credentials) (*models.Identity, error) {
	ctx, span := util.StartSpan(ctx, "SessionProvider.SignUp")
	defer span.End()

	sess, err := p.client.SignUp(ctx, creds)
	if err != nil {
		p.logger.Warn("sign up failed", zap.String("email", creds.Email), zap.Error(err))
		return nil, classify("sign up", err)
	}
	if sess.AccessToken == "" {
		p.logger.Info("sign up awaiting confirmation", zap.String("user_id", sess.User.ID))
		return nil, ErrConfirmationPending
	}
	return p.establish(ctx, sess.AccessToken, sess.User), nil
}

// Restore re-establishes a session from a previously issued access token.
func (p *Provider) Restore(ctx context.Context, accessToken string) (*models.Identity, error) {
	ctx, span := util.StartSpan(ctx, "SessionProvider.Restore")
	defer span.End()

	user, err := p.client.GetUser(ctx, accessToken)
	if err != nil {
		return nil, classify("restore session", err)
	}
	return p.establish(ctx, accessToken, *user), nil
}

// SignOut drops the local identity even when the remote logout fails; that
// failure is still returned.
func (p *Provider) SignOut(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "SessionProvider.SignOut")
	defer span.End()

	p.mu.Lock()
	token := p.token
	wasSignedIn := p.identity != nil
	p.identity, p.profile, p.token = nil, nil, ""
	p.mu.Unlock()

	var remoteErr error
	if token != "" {
		if err := p.client.SignOut(ctx, token); err != nil {
			p.logger.Error("remote sign out failed", zap.Error(err))
			remoteErr = classify("sign out", err)
		}
	}
	if wasSignedIn {
		p.notify(ctx, nil)
	}
	return remoteErr
}

// UpdateProfile writes the given account fields and reloads the profile.
func (p *Provider) UpdateProfile(ctx context.Context, update ProfileUpdate) (*models.Profile, error) {
	ctx, span := util.StartSpan(ctx, "SessionProvider.UpdateProfile")
	defer span.End()

	identity := p.CurrentIdentity()
	if identity == nil {
		return nil, models.ErrUnauthenticated
	}
	patch := update.patch()
	if len(patch) > 0 {
		err := p.Data().Update(ctx, models.TableProfiles, patch,
			[]backend.Filter{backend.Eq("id", identity.ID)})
		if err != nil {
			return nil, &models.RemoteError{Op: "update profile", Err: err}
		}
	}

	profile, err := p.loadProfile(ctx, p.Data(), identity.ID)
	if err != nil {
		return nil, &models.RemoteError{Op: "load profile", Err: err}
	}
	p.mu.Lock()
	if p.identity != nil && p.identity.ID == identity.ID {
		p.profile = profile
	}
	p.mu.Unlock()
	return profile, nil
}

// establish installs the session for user and notifies listeners before returning.
func (p *Provider) establish(ctx context.Context, token string, user backend.User) *models.Identity {
	identity := &models.Identity{ID: user.ID, Email: user.Email, Role: models.RoleCustomer}

	profile, err := p.loadProfile(ctx, p.client.WithToken(token), user.ID)
	if err != nil {
		p.logger.Warn("profile unavailable, defaulting to customer role",
			zap.String("user_id", user.ID), zap.Error(err))
	} else if profile.Role == models.RoleAdmin {
		identity.Role = models.RoleAdmin
	}

	p.mu.Lock()
	p.identity = identity
	p.profile = profile
	p.token = token
	p.mu.Unlock()

	p.logger.Info("identity established",
		zap.String("user_id", identity.ID),
		zap.String("role", string(identity.Role)),
	)

	out := *identity
	p.notify(ctx, &out)
	return &out
}

func (p *Provider) loadProfile(ctx context.Context, data backend.DataService, userID string) (*models.Profile, error) {
	var rows []models.Profile
	err := data.Select(ctx, backend.Query{
		Table:   models.TableProfiles,
		Filters: []backend.Filter{backend.Eq("id", userID)},
		Limit:   1,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("profile %s: %w", userID, models.ErrNotFound)
	}
	return &rows[0], nil
}

func (p *Provider) notify(ctx context.Context, identity *models.Identity) {
	p.mu.RLock()
	listeners := append([]subscription(nil), p.listeners...)
	p.mu.RUnlock()

	for _, sub := range listeners {
		var arg *models.Identity
		if identity != nil {
			cp := *identity
			arg = &cp
		}
		if err := sub.l.IdentityChanged(ctx, arg); err != nil {
			p.logger.Error("identity listener failed", zap.Error(err))
		}
	}
}

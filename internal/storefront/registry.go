package storefront

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront/internal/backend"
	"storefront/internal/checkout"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/session"
	"storefront/internal/util"
)

// TokenStore persists the backend access token of each session id, so any
// instance can rebuild a storefront after a restart.
type TokenStore interface {
	SaveSession(ctx context.Context, sessionID, accessToken string, ttl time.Duration) error
	// LoadSession returns redisclient.ErrSessionNotFound for unknown ids.
	LoadSession(ctx context.Context, sessionID string) (string, error)
	// TouchSession slides the expiry; ErrSessionNotFound when already gone.
	TouchSession(ctx context.Context, sessionID string, ttl time.Duration) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// touchInterval bounds how often a busy session refreshes its token expiry.
const touchInterval = time.Minute

type entry struct {
	front    *Storefront
	lastUsed time.Time
	touched  time.Time
}

// Registry maps session ids to live storefronts.
type Registry struct {
	client backend.Client
	tokens TokenStore
	ttl    time.Duration
	logger *zap.Logger
	opts   []checkout.Option
	now    func() time.Time

	mu   sync.Mutex
	live map[string]*entry
}

func NewRegistry(client backend.Client, tokens TokenStore, ttl time.Duration, logger *zap.Logger, opts ...checkout.Option) *Registry {
	return &Registry{
		client: client,
		tokens: tokens,
		ttl:    ttl,
		logger: logger,
		opts:   opts,
		now:    time.Now,
		live:   make(map[string]*entry),
	}
}

// SignIn signs a new storefront in and returns its session id.
func (r *Registry) SignIn(ctx context.Context, creds backend.Credentials) (string, *Storefront, error) {
	front := New(r.client, r.logger, r.opts...)
	if _, err := front.Session.SignIn(ctx, creds); err != nil {
		front.Close()
		return "", nil, err
	}
	return r.register(ctx, front)
}

// SignUp registers a new account. With email confirmation pending there is
// no session and session.ErrConfirmationPending is returned.
func (r *Registry) SignUp(ctx context.Context, creds backend.Credentials) (string, *Storefront, error) {
	front := New(r.client, r.logger, r.opts...)
	if _, err := front.Session.SignUp(ctx, creds); err != nil {
		front.Close()
		return "", nil, err
	}
	return r.register(ctx, front)
}

// Get returns the live storefront of id, restoring it from the token store
// when this instance has not seen it yet. Unknown or expired sessions are
// models.ErrUnauthenticated.
func (r *Registry) Get(ctx context.Context, id string) (*Storefront, error) {
	if id == "" {
		return nil, models.ErrUnauthenticated
	}

	r.mu.Lock()
	if e, ok := r.live[id]; ok {
		now := r.now()
		e.lastUsed = now
		due := now.Sub(e.touched) >= touchInterval
		if due {
			e.touched = now
		}
		r.mu.Unlock()
		if due {
			if err := r.touch(ctx, id); err != nil {
				return nil, err
			}
		}
		return e.front, nil
	}
	r.mu.Unlock()

	token, err := r.tokens.LoadSession(ctx, id)
	if errors.Is(err, redisclient.ErrSessionNotFound) {
		return nil, models.ErrUnauthenticated
	}
	if err != nil {
		return nil, &models.RemoteError{Op: "load session", Err: err}
	}

	front := New(r.client, r.logger, r.opts...)
	if _, err := front.Session.Restore(ctx, token); err != nil {
		front.Close()
		if session.IsInvalidCredentials(err) {
			r.forget(ctx, id)
			return nil, models.ErrUnauthenticated
		}
		return nil, err
	}
	if err := r.touch(ctx, id); err != nil {
		front.Close()
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.live[id]; ok {
		// restored concurrently
		front.Close()
		e.lastUsed = r.now()
		return e.front, nil
	}
	r.live[id] = &entry{front: front, lastUsed: r.now(), touched: r.now()}
	util.ActiveSessions.Inc()
	return front, nil
}

// SignOut signs the session out and forgets it. The local session is dropped
// even when the remote logout fails; that failure is returned.
func (r *Registry) SignOut(ctx context.Context, id string) error {
	front, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	signOutErr := front.Session.SignOut(ctx)
	r.drop(id)
	r.forget(ctx, id)
	return signOutErr
}

// Prune drops storefronts idle for longer than the session TTL. Their tokens
// stay in the token store until it expires them.
func (r *Registry) Prune() int {
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for id, e := range r.live {
		if e.lastUsed.Before(cutoff) {
			e.front.Close()
			delete(r.live, id)
			util.ActiveSessions.Dec()
			pruned++
		}
	}
	return pruned
}

// Len is the number of live storefronts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Registry) register(ctx context.Context, front *Storefront) (string, *Storefront, error) {
	id := uuid.NewString()
	if err := r.tokens.SaveSession(ctx, id, front.Session.Token(), r.ttl); err != nil {
		front.Close()
		return "", nil, &models.RemoteError{Op: "save session", Err: fmt.Errorf("token store: %w", err)}
	}

	r.mu.Lock()
	r.live[id] = &entry{front: front, lastUsed: r.now(), touched: r.now()}
	r.mu.Unlock()
	util.ActiveSessions.Inc()

	return id, front, nil
}

// touch slides the token expiry of id. A token missing from the store means
// the session ended on another instance.
func (r *Registry) touch(ctx context.Context, id string) error {
	err := r.tokens.TouchSession(ctx, id, r.ttl)
	if errors.Is(err, redisclient.ErrSessionNotFound) {
		r.drop(id)
		return models.ErrUnauthenticated
	}
	if err != nil {
		r.logger.Warn("failed to refresh session expiry", zap.String("session_id", id), zap.Error(err))
	}
	return nil
}

func (r *Registry) drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.live[id]; ok {
		e.front.Close()
		delete(r.live, id)
		util.ActiveSessions.Dec()
	}
}

func (r *Registry) forget(ctx context.Context, id string) {
	if err := r.tokens.DeleteSession(ctx, id); err != nil {
		r.logger.Warn("failed to delete session token", zap.String("session_id", id), zap.Error(err))
	}
}

// Package store is a self-hosted backend on PostgreSQL. It implements the
// same table and auth contract as the remote data service, with row-level
// rules applied in Go, so the storefront can run without a hosted backend.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"storefront/internal/backend"
)

const defaultTokenTTL = time.Hour

type Store struct {
	db       *sqlx.DB
	secret   []byte
	tokenTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewStore creates a new database store
func NewStore(databaseURL, jwtSecret string, logger *zap.Logger) (*Store, error) {
	if jwtSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreWithDB(db, jwtSecret, logger), nil
}

// NewStoreWithDB wraps an open connection
func NewStoreWithDB(db *sqlx.DB, jwtSecret string, logger *zap.Logger) *Store {
	return &Store{
		db:       db,
		secret:   []byte(jwtSecret),
		tokenTTL: defaultTokenTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithToken returns a view acting as the token's user.
func (s *Store) WithToken(accessToken string) backend.DataService {
	return &view{s: s, token: accessToken}
}

// Service returns a view that bypasses row-level rules. Background jobs use it.
func (s *Store) Service() backend.DataService {
	return &view{s: s, service: true}
}

func (s *Store) Select(ctx context.Context, q backend.Query, dest any) error {
	return (&view{s: s}).Select(ctx, q, dest)
}

func (s *Store) Insert(ctx context.Context, table string, rows any, dest any) error {
	return (&view{s: s}).Insert(ctx, table, rows, dest)
}

func (s *Store) Update(ctx context.Context, table string, patch map[string]any, filters []backend.Filter) error {
	return (&view{s: s}).Update(ctx, table, patch, filters)
}

func (s *Store) Delete(ctx context.Context, table string, filters []backend.Filter) error {
	return (&view{s: s}).Delete(ctx, table, filters)
}

var _ backend.Client = (*Store)(nil)

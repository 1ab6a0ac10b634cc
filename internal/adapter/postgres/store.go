package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orgdash/dashboard-worker/internal/domain"
	"github.com/orgdash/dashboard-worker/internal/domain/user"
	"github.com/orgdash/dashboard-worker/internal/resilience"
)

var functionName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool        *pgxpool.Pool
	breaker     *resilience.Breaker
	impersonate bool
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithBreaker routes every dashboard read through b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(s *Store) { s.breaker = b }
}

// WithImpersonation runs reads as the calling user so row-level security applies.
func WithImpersonation(enabled bool) Option {
	return func(s *Store) { s.impersonate = enabled }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// guard runs fn through the circuit breaker when one is configured.
func (s *Store) guard(fn func() error) error {
	if s.breaker == nil {
		return fn()
	}
	return s.breaker.Execute(fn)
}

// read runs fn against the pool, or inside a read-only transaction carrying
// the caller's JWT claims when impersonation is enabled.
func (s *Store) read(ctx context.Context, fn func(q querier) error) error {
	return s.guard(func() error {
		claims := user.FromContext(ctx)
		if !s.impersonate || claims == nil {
			return fn(s.pool)
		}

		raw, err := json.Marshal(claims)
		if err != nil {
			return fmt.Errorf("marshal claims: %w", err)
		}
		return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx,
				`SELECT set_config('request.jwt.claims', $1, true), set_config('role', 'authenticated', true)`,
				string(raw)); err != nil {
				return fmt.Errorf("impersonate: %w", err)
			}
			return fn(tx)
		})
	})
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RefreshView calls public.<function>(). Missing functions or views are
// reported as domain.ErrNotProvisioned. Refreshes bypass the read breaker:
// a failing or slow refresh must not take dashboard reads offline, and the
// next scheduled tick is the retry.
func (s *Store) RefreshView(ctx context.Context, function string) error {
	if !functionName.MatchString(function) {
		return fmt.Errorf("refresh %q: %w: invalid function name", function, domain.ErrValidation)
	}
	sql := "SELECT " + pgx.Identifier{"public", function}.Sanitize() + "()"

	start := s.now()
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return wrapErr(err, "refresh %s", function)
	}
	s.logger.Debug("refresh function executed", "function", function, "duration", s.now().Sub(start))
	return nil
}

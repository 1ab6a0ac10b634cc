package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"

	"github.com/orgdash/dashboard-worker/internal/adapter/otel"
	"github.com/orgdash/dashboard-worker/internal/cachekey"
	"github.com/orgdash/dashboard-worker/internal/domain/dashboard"
	"github.com/orgdash/dashboard-worker/internal/domain/user"
	"github.com/orgdash/dashboard-worker/internal/port/cache"
	"github.com/orgdash/dashboard-worker/internal/port/database"
)

// Cache key prefixes, one per endpoint.
const (
	PrefixDashboard     = "dashboard"
	PrefixProjects      = "projects"
	PrefixEmployers     = "employers"
	PrefixPatchProjects = "patch-projects"
)

// anonymousScope is used when no caller identity is present in the context.
const anonymousScope = "anonymous"

// BackgroundRefresher starts a refresh action without waiting for it.
type BackgroundRefresher interface {
	TriggerBackground(name string) bool
}

// DashboardTTLs sets the cache lifetime of each endpoint.
type DashboardTTLs struct {
	Dashboard time.Duration
	Lists     time.Duration
}

// DashboardService serves caller-scoped, cached dashboard reads.
type DashboardService struct {
	store     database.Store
	cache     cache.Cache
	refresher BackgroundRefresher
	ttls      DashboardTTLs
	metrics   *otel.Metrics
	logger    *slog.Logger
	clock     clockwork.Clock
}

// DashboardOption configures a DashboardService.
type DashboardOption func(*DashboardService)

// WithRefresher sets the refresher poked when a read had to use a fallback path.
func WithRefresher(r BackgroundRefresher) DashboardOption {
	return func(s *DashboardService) { s.refresher = r }
}

// WithMetrics records cache lookups on m.
func WithMetrics(m *otel.Metrics) DashboardOption {
	return func(s *DashboardService) { s.metrics = m }
}

// WithDashboardLogger sets the service logger.
func WithDashboardLogger(l *slog.Logger) DashboardOption {
	return func(s *DashboardService) { s.logger = l }
}

// WithDashboardClock sets the clock used for query timings.
func WithDashboardClock(c clockwork.Clock) DashboardOption {
	return func(s *DashboardService) { s.clock = c }
}

// NewDashboardService creates a DashboardService reading from store through c.
func NewDashboardService(store database.Store, c cache.Cache, ttls DashboardTTLs, opts ...DashboardOption) *DashboardService {
	s := &DashboardService{
		store:  store,
		cache:  c,
		ttls:   ttls,
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dashboard returns summary metrics.
func (s *DashboardService) Dashboard(ctx context.Context, p dashboard.DashboardParams) (*dashboard.Metrics, dashboard.Debug, error) {
	if err := dashboard.Validate(p); err != nil {
		return nil, dashboard.Debug{}, err
	}
	return cachedQuery(ctx, s, PrefixDashboard, p, s.ttls.Dashboard, func(ctx context.Context) (*dashboard.Metrics, error) {
		return s.store.DashboardMetrics(ctx, p)
	})
}

// Projects returns a page of projects.
func (s *DashboardService) Projects(ctx context.Context, p dashboard.ProjectListParams) (*dashboard.ProjectList, dashboard.Debug, error) {
	p.Normalize()
	if err := dashboard.Validate(p); err != nil {
		return nil, dashboard.Debug{}, err
	}
	return cachedQuery(ctx, s, PrefixProjects, p, s.ttls.Lists, func(ctx context.Context) (*dashboard.ProjectList, error) {
		return s.store.ListProjects(ctx, p)
	})
}

// Employers returns a page of employers.
func (s *DashboardService) Employers(ctx context.Context, p dashboard.EmployerListParams) (*dashboard.EmployerList, dashboard.Debug, error) {
	p.Normalize()
	if err := dashboard.Validate(p); err != nil {
		return nil, dashboard.Debug{}, err
	}
	return cachedQuery(ctx, s, PrefixEmployers, p, s.ttls.Lists, func(ctx context.Context) (*dashboard.EmployerList, error) {
		return s.store.ListEmployers(ctx, p)
	})
}

// PatchProjects returns a page of the projects in a patch. When the mapping
// view could not serve the read, a background refresh of it is requested.
func (s *DashboardService) PatchProjects(ctx context.Context, p dashboard.PatchProjectsParams) (*dashboard.PatchProjects, dashboard.Debug, error) {
	p.Normalize()
	if err := dashboard.Validate(p); err != nil {
		return nil, dashboard.Debug{}, err
	}
	return cachedQuery(ctx, s, PrefixPatchProjects, p, s.ttls.Lists, func(ctx context.Context) (*dashboard.PatchProjects, error) {
		res, err := s.store.PatchProjects(ctx, p)
		if err != nil {
			return nil, err
		}
		if res.Source == dashboard.SourceFallback && s.refresher != nil {
			if s.refresher.TriggerBackground(PatchMappingAction) {
				s.logger.Info("patch mapping stale, refresh requested", "patch_id", p.PatchID)
			}
		}
		return res, nil
	})
}

// PatchMappingAction is the refresh action rebuilt when patch reads fall back.
const PatchMappingAction = "patch_project_mapping"

// scopeOf derives the cache scope of the caller in ctx.
func scopeOf(ctx context.Context) string {
	if c := user.FromContext(ctx); c != nil && c.Subject != "" {
		return cachekey.Scope(c.Subject)
	}
	return anonymousScope
}

// cachedQuery serves a read through the response cache. Cache faults are
// logged and treated as misses; only query errors reach the caller.
func cachedQuery[T any](ctx context.Context, s *DashboardService, prefix string, params any, ttl time.Duration, query func(context.Context) (T, error)) (T, dashboard.Debug, error) {
	ctx, span := otel.StartQuerySpan(ctx, prefix)
	defer span.End()

	start := s.clock.Now()
	key := cachekey.Make(prefix, scopeOf(ctx), params)
	log := s.logger.With("cache_key_prefix", prefix)

	var zero T
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn("cache get failed", "error", err)
		ok = false
	}
	if ok {
		var v T
		err := json.Unmarshal(data, &v)
		if err == nil {
			d := s.clock.Since(start)
			s.metrics.RecordLookup(ctx, prefix, true, d)
			return v, dashboard.Debug{CacheHit: true, QueryTimeMs: d.Milliseconds()}, nil
		}
		log.Warn("cached payload undecodable, dropping", "error", err)
		if err := s.cache.Delete(ctx, key); err != nil {
			log.Warn("cache delete failed", "error", err)
		}
	}

	v, err := query(ctx)
	if err != nil {
		return zero, dashboard.Debug{}, err
	}
	if data, err := json.Marshal(v); err != nil {
		log.Warn("response not cacheable", "error", err)
	} else if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		log.Warn("cache set failed", "error", err)
	}

	d := s.clock.Since(start)
	s.metrics.RecordLookup(ctx, prefix, false, d)
	return v, dashboard.Debug{CacheHit: false, QueryTimeMs: d.Milliseconds()}, nil
}

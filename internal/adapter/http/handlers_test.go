package http_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	cfhttp "github.com/orgdash/dashboard-worker/internal/adapter/http"
	"github.com/orgdash/dashboard-worker/internal/adapter/ttlcache"
	"github.com/orgdash/dashboard-worker/internal/cachekey"
	"github.com/orgdash/dashboard-worker/internal/domain/dashboard"
	"github.com/orgdash/dashboard-worker/internal/domain/user"
	"github.com/orgdash/dashboard-worker/internal/middleware"
	"github.com/orgdash/dashboard-worker/internal/resilience"
	"github.com/orgdash/dashboard-worker/internal/service"
)

// mockStore implements database.Store for testing.
type mockStore struct {
	reads   atomic.Int32
	err     error
	pingErr error
}

func (m *mockStore) DashboardMetrics(_ context.Context, _ dashboard.DashboardParams) (*dashboard.Metrics, error) {
	m.reads.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return &dashboard.Metrics{TotalProjects: 12, ActiveProjects: 4}, nil
}

func (m *mockStore) ListProjects(_ context.Context, p dashboard.ProjectListParams) (*dashboard.ProjectList, error) {
	m.reads.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return &dashboard.ProjectList{
		Projects:   []dashboard.Project{{ID: "p1", Name: "Harbour Tower", PatchNames: []string{}}},
		Pagination: dashboard.NewPagination(p.Page, p.PageSize, 1),
	}, nil
}

func (m *mockStore) ListEmployers(_ context.Context, p dashboard.EmployerListParams) (*dashboard.EmployerList, error) {
	m.reads.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return &dashboard.EmployerList{
		Employers:  []dashboard.Employer{{ID: "e1", Name: "Acme Formwork", EBAStatus: "active"}},
		Pagination: dashboard.NewPagination(p.Page, p.PageSize, 1),
	}, nil
}

func (m *mockStore) PatchProjects(_ context.Context, p dashboard.PatchProjectsParams) (*dashboard.PatchProjects, error) {
	m.reads.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return &dashboard.PatchProjects{
		PatchID:    p.PatchID,
		Projects:   []dashboard.PatchProject{},
		Pagination: dashboard.NewPagination(p.Page, p.PageSize, 0),
		Source:     dashboard.SourceView,
	}, nil
}

func (m *mockStore) RefreshView(context.Context, string) error { return nil }

func (m *mockStore) Ping(context.Context) error { return m.pingErr }

type testEnv struct {
	router http.Handler
	store  *mockStore
	cache  *ttlcache.Store
}

func newTestEnv(t *testing.T, auth func(http.Handler) http.Handler) *testEnv {
	t.Helper()
	store := &mockStore{}
	c := ttlcache.NewStore(ttlcache.DefaultConfig())
	ttls := service.DashboardTTLs{Dashboard: 30 * time.Second, Lists: 30 * time.Second}

	refresh := service.NewRefreshService(time.Second)
	if err := refresh.Schedule("*/10 * * * *", []service.Action{
		{Name: "project_list", Run: func(context.Context) error { return nil }},
	}); err != nil {
		t.Fatal(err)
	}

	h := &cfhttp.Handlers{
		Dashboard: service.NewDashboardService(store, c, ttls, service.WithRefresher(refresh)),
		Refresh:   refresh,
		Cache:     c.Cache(),
		DB:        store,
	}

	if auth == nil {
		auth = middleware.Auth(nil, false)
	}
	r := chi.NewRouter()
	r.Use(auth)
	cfhttp.MountRoutes(r, h)
	return &testEnv{router: r, store: store, cache: c}
}

func (e *testEnv) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Debug dashboard.Debug `json:"debug"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestDashboardMissThenHit(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/v1/dashboard")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("first X-Cache = %q, want MISS", got)
	}
	if decodeEnvelope(t, rec).Debug.CacheHit {
		t.Error("first debug.cacheHit should be false")
	}

	rec = env.do(http.MethodGet, "/v1/dashboard")
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("second X-Cache = %q, want HIT", got)
	}
	if !decodeEnvelope(t, rec).Debug.CacheHit {
		t.Error("second debug.cacheHit should be true")
	}
	if got := env.store.reads.Load(); got != 1 {
		t.Errorf("store reads = %d, want 1", got)
	}
}

func TestDashboardSeededEntryServedAsHit(t *testing.T) {
	env := newTestEnv(t, nil)

	key := cachekey.Make(service.PrefixDashboard, cachekey.Scope(middleware.DevUserID), nil)
	if err := env.cache.Set(context.Background(), key, []byte(`{"totalProjects":5}`), 30*time.Second); err != nil {
		t.Fatal(err)
	}

	rec := env.do(http.MethodGet, "/v1/dashboard")
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Fatalf("X-Cache = %q, want HIT", got)
	}
	var m dashboard.Metrics
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &m); err != nil {
		t.Fatal(err)
	}
	if m.TotalProjects != 5 {
		t.Errorf("totalProjects = %d, want 5", m.TotalProjects)
	}
	if env.store.reads.Load() != 0 {
		t.Error("seeded hit must not query the store")
	}
}

func TestListEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		path string
		want string
	}{
		{"/v1/projects?page=1&pageSize=10&sort=value&dir=desc&q=tower", `"Harbour Tower"`},
		{"/v1/projects?since=2026-01-01T00:00:00Z", `"Harbour Tower"`},
		{"/v1/employers?ebaStatus=active", `"Acme Formwork"`},
		{"/v1/patches/7f0c1f8e-8b43-4a7e-9d8c-3f1e2b8f6a10/projects", `"source":"view"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.do(http.MethodGet, tt.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body %s does not contain %s", rec.Body, tt.want)
			}
			if rec.Header().Get("X-Cache") != "MISS" {
				t.Errorf("X-Cache = %q", rec.Header().Get("X-Cache"))
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{
		"/v1/projects?page=abc",
		"/v1/projects?pageSize=1000",
		"/v1/projects?sort=password",
		"/v1/projects?since=yesterday",
		"/v1/employers?ebaStatus=pending",
		"/v1/dashboard?tier=tier_9",
		"/v1/patches/not-a-uuid/projects",
	} {
		rec := env.do(http.MethodGet, path)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400 (body %s)", path, rec.Code, rec.Body)
		}
	}
	if got := env.store.reads.Load(); got != 0 {
		t.Errorf("invalid requests reached the store %d times", got)
	}
}

func TestStoreErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"circuit open", fmt.Errorf("list projects: %w", resilience.ErrCircuitOpen), http.StatusServiceUnavailable},
		{"timeout", fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"unexpected", errors.New("connection reset by peer"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.store.err = tt.err

			rec := env.do(http.MethodGet, "/v1/projects")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if strings.Contains(rec.Body.String(), "connection reset") {
				t.Error("internal error detail leaked to client")
			}
		})
	}
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/v1/admin/refresh/project_list")
	if rec.Code != http.StatusAccepted {
		t.Errorf("refresh: status = %d, want 202", rec.Code)
	}

	rec = env.do(http.MethodPost, "/v1/admin/refresh/unknown")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown refresh: status = %d, want 404", rec.Code)
	}

	rec = env.do(http.MethodGet, "/v1/admin/refresh")
	if !strings.Contains(rec.Body.String(), `"project_list"`) {
		t.Errorf("actions body = %s", rec.Body)
	}

	env.do(http.MethodGet, "/v1/dashboard")
	rec = env.do(http.MethodGet, "/v1/admin/cache")
	var stats ttlcache.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 {
		t.Errorf("cache entries = %d, want 1", stats.Entries)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	asViewer := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := &user.Claims{AppMetadata: user.AppMetadata{Role: user.RoleViewer}}
			c.Subject = "viewer-1"
			next.ServeHTTP(w, r.WithContext(user.NewContext(r.Context(), c)))
		})
	}
	env := newTestEnv(t, asViewer)

	if rec := env.do(http.MethodPost, "/v1/admin/refresh/project_list"); rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/v1/dashboard"); rec.Code != http.StatusOK {
		t.Errorf("viewer dashboard status = %d, want 200", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.do(http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/health/ready"); rec.Code != http.StatusOK {
		t.Errorf("ready = %d", rec.Code)
	}

	env.store.pingErr = errors.New("dial tcp: connection refused")
	rec := env.do(http.MethodGet, "/health/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with db down = %d, want 503", rec.Code)
	}
}

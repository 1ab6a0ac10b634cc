package http

import (
	"context"
	"net/http"

	"github.com/orgdash/dashboard-worker/internal/adapter/ttlcache"
	"github.com/orgdash/dashboard-worker/internal/domain/dashboard"
	"github.com/orgdash/dashboard-worker/internal/service"
)

// Pinger checks the data store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheStatser exposes response cache counters.
type CacheStatser interface {
	Stats() ttlcache.Stats
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Dashboard *service.DashboardService
	Refresh   *service.RefreshService
	Cache     CacheStatser
	DB        Pinger
}

// GetDashboard handles GET /v1/dashboard.
func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := dashboard.DashboardParams{
		PatchID: q.Get("patchId"),
		Tier:    q.Get("tier"),
		Stage:   q.Get("stage"),
	}
	m, dbg, err := h.Dashboard.Dashboard(r.Context(), p)
	if err != nil {
		writeDomainError(w, err, "dashboard not found")
		return
	}
	writeCached(w, m, dbg)
}

// ListProjects handles GET /v1/projects.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	since, err := queryTime(r, "since")
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	q := r.URL.Query()
	p := dashboard.ProjectListParams{
		Page:     page,
		PageSize: size,
		Sort:     q.Get("sort"),
		Dir:      q.Get("dir"),
		Search:   q.Get("q"),
		Tier:     q.Get("tier"),
		Stage:    q.Get("stage"),
		PatchID:  q.Get("patchId"),
		Since:    since,
	}
	list, dbg, err := h.Dashboard.Projects(r.Context(), p)
	if err != nil {
		writeDomainError(w, err, "projects not found")
		return
	}
	writeCached(w, list, dbg)
}

// ListEmployers handles GET /v1/employers.
func (h *Handlers) ListEmployers(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	q := r.URL.Query()
	p := dashboard.EmployerListParams{
		Page:         page,
		PageSize:     size,
		Sort:         q.Get("sort"),
		Dir:          q.Get("dir"),
		Search:       q.Get("q"),
		EBAStatus:    q.Get("ebaStatus"),
		EmployerType: q.Get("employerType"),
	}
	list, dbg, err := h.Dashboard.Employers(r.Context(), p)
	if err != nil {
		writeDomainError(w, err, "employers not found")
		return
	}
	writeCached(w, list, dbg)
}

// ListPatchProjects handles GET /v1/patches/{id}/projects.
func (h *Handlers) ListPatchProjects(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	p := dashboard.PatchProjectsParams{
		PatchID:  urlParam(r, "id"),
		Page:     page,
		PageSize: size,
	}
	res, dbg, err := h.Dashboard.PatchProjects(r.Context(), p)
	if err != nil {
		writeDomainError(w, err, "patch not found")
		return
	}
	writeCached(w, res, dbg)
}

type refreshAccepted struct {
	Action string `json:"action"`
	Status string `json:"status"`
}

// TriggerRefresh handles POST /v1/admin/refresh/{name}. The refresh runs in
// the background; its outcome is only logged and broadcast.
func (h *Handlers) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	if !h.Refresh.TriggerBackground(name) {
		writeError(w, http.StatusNotFound, "unknown refresh action")
		return
	}
	writeJSON(w, http.StatusAccepted, refreshAccepted{Action: name, Status: "accepted"})
}

type refreshActions struct {
	Actions []string `json:"actions"`
}

// ListRefreshActions handles GET /v1/admin/refresh.
func (h *Handlers) ListRefreshActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, refreshActions{Actions: h.Refresh.Actions()})
}

// CacheStats handles GET /v1/admin/cache.
func (h *Handlers) CacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

type healthStatus struct {
	Status   string `json:"status"`
	Postgres string `json:"postgres,omitempty"`
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "ok"})
}

// Ready handles GET /health/ready.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthStatus{Status: "unavailable", Postgres: "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, healthStatus{Status: "ok", Postgres: "ok"})
}

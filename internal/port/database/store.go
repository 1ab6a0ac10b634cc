// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/orgdash/dashboard-worker/internal/domain/dashboard"
)

// Store is the port interface for the dashboard's Postgres reads and view refreshes.
type Store interface {
	// Reads
	DashboardMetrics(ctx context.Context, p dashboard.DashboardParams) (*dashboard.Metrics, error)
	ListProjects(ctx context.Context, p dashboard.ProjectListParams) (*dashboard.ProjectList, error)
	ListEmployers(ctx context.Context, p dashboard.EmployerListParams) (*dashboard.EmployerList, error)
	// PatchProjects reads the patch mapping view, falling back to base tables
	// when the view is missing or has no rows for the patch. The result's
	// Source reports which path served it.
	PatchProjects(ctx context.Context, p dashboard.PatchProjectsParams) (*dashboard.PatchProjects, error)

	// RefreshView calls the named refresh function. A missing function or
	// view is reported as domain.ErrNotProvisioned.
	RefreshView(ctx context.Context, function string) error

	Ping(ctx context.Context) error
}

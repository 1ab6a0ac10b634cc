package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/orgdash/dashboard-worker/internal/domain/dashboard"
)

// ActiveStage is the project stage counted as active on the dashboard.
const ActiveStage = "construction"

var projectSortColumns = map[string]string{
	"name":           "name",
	"value":          "value",
	"tier":           "tier",
	"updated_at":     "updated_at",
	"employer_count": "employer_count",
}

var employerSortColumns = map[string]string{
	"name":                   "name",
	"estimated_worker_count": "estimated_worker_count",
	"project_count":          "project_count",
}

func projectFilter(tier, stage, patchID string) *filter {
	f := &filter{}
	if tier != "" {
		f.add("tier = ?", tier)
	}
	if stage != "" {
		f.add("stage = ?", stage)
	}
	if patchID != "" {
		f.add("? = ANY(patch_ids)", patchID)
	}
	return f
}

// DashboardMetrics aggregates project and employer counts in one round trip.
func (s *Store) DashboardMetrics(ctx context.Context, p dashboard.DashboardParams) (*dashboard.Metrics, error) {
	f := projectFilter(p.Tier, p.Stage, p.PatchID)
	where := f.where()

	m := &dashboard.Metrics{
		ProjectsByTier:  map[string]int{},
		ProjectsByStage: map[string]int{},
		GeneratedAt:     s.now().UTC(),
	}

	err := s.read(ctx, func(q querier) error {
		batch := &pgx.Batch{}
		batch.Queue(`SELECT count(*), count(*) FILTER (WHERE stage = '`+ActiveStage+`'), coalesce(sum(value), 0)::float8
			FROM project_list_comprehensive_view`+where, f.args...).
			QueryRow(func(row pgx.Row) error {
				return row.Scan(&m.TotalProjects, &m.ActiveProjects, &m.TotalEstimatedValue)
			})
		batch.Queue(`SELECT coalesce(tier, 'unassigned'), count(*) FROM project_list_comprehensive_view`+where+` GROUP BY 1`, f.args...).
			Query(func(rows pgx.Rows) error {
				return scanCounts(rows, m.ProjectsByTier)
			})
		batch.Queue(`SELECT coalesce(stage, 'unknown'), count(*) FROM project_list_comprehensive_view`+where+` GROUP BY 1`, f.args...).
			Query(func(rows pgx.Rows) error {
				return scanCounts(rows, m.ProjectsByStage)
			})
		batch.Queue(`SELECT count(*), count(*) FILTER (WHERE eba_status = 'active') FROM employer_list_view`).
			QueryRow(func(row pgx.Row) error {
				return row.Scan(&m.TotalEmployers, &m.EmployersWithEBA)
			})
		return q.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return nil, wrapErr(err, "dashboard metrics")
	}

	if m.TotalEmployers > 0 {
		m.EBACoveragePercent = float64(m.EmployersWithEBA) * 100 / float64(m.TotalEmployers)
	}
	return m, nil
}

func scanCounts(rows pgx.Rows, dst map[string]int) error {
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		dst[k] = n
	}
	return rows.Err()
}

// ListProjects returns a filtered, sorted page of project_list_comprehensive_view.
func (s *Store) ListProjects(ctx context.Context, p dashboard.ProjectListParams) (*dashboard.ProjectList, error) {
	f := projectFilter(p.Tier, p.Stage, p.PatchID)
	if p.Search != "" {
		f.add("name ILIKE ?", "%"+p.Search+"%")
	}
	if p.Since != nil {
		f.add("updated_at >= ?", *p.Since)
	}

	sql := `SELECT id, name, coalesce(tier, ''), coalesce(stage, ''), value, coalesce(builder_name, ''),
			coalesce(patch_names, '{}'), employer_count, eba_employer_count, worker_count, delegate_count,
			updated_at, count(*) OVER()
		FROM project_list_comprehensive_view` + f.where() +
		orderBy(projectSortColumns, p.Sort, p.Dir)
	sql += " LIMIT " + f.next(p.PageSize) + " OFFSET " + f.next(dashboard.Offset(p.Page, p.PageSize))

	var (
		projects []dashboard.Project
		total    int
	)
	err := s.read(ctx, func(q querier) error {
		projects, total = nil, 0
		rows, err := q.Query(ctx, sql, f.args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			pr, n, err := scanProject(rows)
			if err != nil {
				return err
			}
			total = n
			projects = append(projects, pr)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr(err, "list projects")
	}

	return &dashboard.ProjectList{
		Projects:   orEmpty(projects),
		Pagination: dashboard.NewPagination(p.Page, p.PageSize, total),
	}, nil
}

func scanProject(row scannable) (dashboard.Project, int, error) {
	var (
		p     dashboard.Project
		total int
	)
	err := row.Scan(&p.ID, &p.Name, &p.Tier, &p.Stage, &p.Value, &p.BuilderName,
		&p.PatchNames, &p.EmployerCount, &p.EBAEmployerCount, &p.WorkerCount, &p.DelegateCount,
		&p.UpdatedAt, &total)
	if err != nil {
		return p, 0, fmt.Errorf("scan project: %w", err)
	}
	p.PatchNames = orEmpty(p.PatchNames)
	return p, total, nil
}

// ListEmployers returns a filtered, sorted page of employer_list_view.
func (s *Store) ListEmployers(ctx context.Context, p dashboard.EmployerListParams) (*dashboard.EmployerList, error) {
	f := &filter{}
	if p.Search != "" {
		f.add("name ILIKE ?", "%"+p.Search+"%")
	}
	if p.EBAStatus != "" {
		f.add("eba_status = ?", p.EBAStatus)
	}
	if p.EmployerType != "" {
		f.add("employer_type = ?", p.EmployerType)
	}

	sql := `SELECT id, name, coalesce(employer_type, ''), coalesce(eba_status, 'none'),
			estimated_worker_count, project_count, updated_at, count(*) OVER()
		FROM employer_list_view` + f.where() +
		orderBy(employerSortColumns, p.Sort, p.Dir)
	sql += " LIMIT " + f.next(p.PageSize) + " OFFSET " + f.next(dashboard.Offset(p.Page, p.PageSize))

	var (
		employers []dashboard.Employer
		total     int
	)
	err := s.read(ctx, func(q querier) error {
		employers, total = nil, 0
		rows, err := q.Query(ctx, sql, f.args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e dashboard.Employer
			if err := rows.Scan(&e.ID, &e.Name, &e.EmployerType, &e.EBAStatus,
				&e.EstimatedWorkerCount, &e.ProjectCount, &e.UpdatedAt, &total); err != nil {
				return fmt.Errorf("scan employer: %w", err)
			}
			employers = append(employers, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapErr(err, "list employers")
	}

	return &dashboard.EmployerList{
		Employers:  orEmpty(employers),
		Pagination: dashboard.NewPagination(p.Page, p.PageSize, total),
	}, nil
}

const patchViewSQL = `SELECT project_id, project_name, coalesce(tier, ''), coalesce(stage, ''),
		job_site_id, coalesce(full_address, ''), count(*) OVER()
	FROM patch_project_mapping_view
	WHERE patch_id = $1
	ORDER BY project_name, job_site_id
	LIMIT $2 OFFSET $3`

const patchFallbackSQL = `SELECT p.id, p.name, coalesce(p.tier, ''), coalesce(p.stage, ''),
		js.id, coalesce(js.full_address, ''), count(*) OVER()
	FROM patch_job_sites pjs
	JOIN job_sites js ON js.id = pjs.job_site_id
	JOIN projects p ON p.id = js.project_id
	WHERE pjs.patch_id = $1 AND pjs.effective_to IS NULL
	ORDER BY p.name, js.id
	LIMIT $2 OFFSET $3`

// PatchProjects reads patch_project_mapping_view. When the view is missing,
// or has no rows for the patch, it falls back to joining the base tables and
// reports SourceFallback if that path found anything.
func (s *Store) PatchProjects(ctx context.Context, p dashboard.PatchProjectsParams) (*dashboard.PatchProjects, error) {
	args := []any{p.PatchID, p.PageSize, dashboard.Offset(p.Page, p.PageSize)}
	out := &dashboard.PatchProjects{PatchID: p.PatchID, Source: dashboard.SourceView}

	var (
		projects []dashboard.PatchProject
		total    int
	)
	err := s.read(ctx, func(q querier) error {
		var viewExists bool
		if err := q.QueryRow(ctx, `SELECT to_regclass('patch_project_mapping_view') IS NOT NULL`).Scan(&viewExists); err != nil {
			return err
		}
		if viewExists {
			var err error
			projects, total, err = queryPatchProjects(ctx, q, patchViewSQL, args)
			if err != nil {
				return err
			}
			if total > 0 || p.Page > 1 {
				return nil
			}
		}

		fallback, fallbackTotal, err := queryPatchProjects(ctx, q, patchFallbackSQL, args)
		if err != nil {
			return err
		}
		if !viewExists || fallbackTotal > 0 {
			projects, total = fallback, fallbackTotal
			out.Source = dashboard.SourceFallback
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr(err, "patch %s projects", p.PatchID)
	}

	out.Projects = orEmpty(projects)
	out.Pagination = dashboard.NewPagination(p.Page, p.PageSize, total)
	return out, nil
}

func queryPatchProjects(ctx context.Context, q querier, sql string, args []any) ([]dashboard.PatchProject, int, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		out   []dashboard.PatchProject
		total int
	)
	for rows.Next() {
		var pp dashboard.PatchProject
		if err := rows.Scan(&pp.ID, &pp.Name, &pp.Tier, &pp.Stage, &pp.JobSiteID, &pp.Address, &total); err != nil {
			return nil, 0, fmt.Errorf("scan patch project: %w", err)
		}
		out = append(out, pp)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

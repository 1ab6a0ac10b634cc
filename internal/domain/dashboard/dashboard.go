// Package dashboard defines the read models served by the dashboard worker
// and the query parameters that discriminate them.
package dashboard

import "time"

// Default paging bounds applied when a request omits them.
const (
	DefaultPage     = 1
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Debug carries per-response cache diagnostics.
type Debug struct {
	CacheHit    bool  `json:"cacheHit"`
	QueryTimeMs int64 `json:"queryTimeMs"`
}

// Pagination describes the page returned by a list query.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes TotalPages for the given totals.
func NewPagination(page, pageSize, total int) Pagination {
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return Pagination{Page: page, PageSize: pageSize, TotalCount: total, TotalPages: pages}
}

// Offset returns the row offset for page/pageSize.
func Offset(page, pageSize int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * pageSize
}

// Metrics is the organiser dashboard summary.
type Metrics struct {
	TotalProjects       int            `json:"totalProjects"`
	ActiveProjects      int            `json:"activeProjects"`
	TotalEmployers      int            `json:"totalEmployers"`
	EmployersWithEBA    int            `json:"employersWithEba"`
	EBACoveragePercent  float64        `json:"ebaCoveragePercent"`
	ProjectsByTier      map[string]int `json:"projectsByTier"`
	ProjectsByStage     map[string]int `json:"projectsByStage"`
	TotalEstimatedValue float64        `json:"totalEstimatedValue"`
	GeneratedAt         time.Time      `json:"generatedAt"`
}

// Project is one row of the comprehensive project list.
type Project struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Tier             string    `json:"tier,omitempty"`
	Stage            string    `json:"stage,omitempty"`
	Value            *float64  `json:"value,omitempty"`
	BuilderName      string    `json:"builderName,omitempty"`
	PatchNames       []string  `json:"patchNames"`
	EmployerCount    int       `json:"employerCount"`
	EBAEmployerCount int       `json:"ebaEmployerCount"`
	WorkerCount      int       `json:"workerCount"`
	DelegateCount    int       `json:"delegateCount"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ProjectList is a page of projects.
type ProjectList struct {
	Projects   []Project  `json:"projects"`
	Pagination Pagination `json:"pagination"`
}

// Employer is one row of the employer list.
type Employer struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	EmployerType         string    `json:"employerType,omitempty"`
	EBAStatus            string    `json:"ebaStatus"`
	EstimatedWorkerCount int       `json:"estimatedWorkerCount"`
	ProjectCount         int       `json:"projectCount"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// EmployerList is a page of employers.
type EmployerList struct {
	Employers  []Employer `json:"employers"`
	Pagination Pagination `json:"pagination"`
}

// Source values for PatchProjects.
const (
	SourceView     = "view"
	SourceFallback = "fallback"
)

// PatchProject is a project mapped to a patch.
type PatchProject struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Tier      string `json:"tier,omitempty"`
	Stage     string `json:"stage,omitempty"`
	JobSiteID string `json:"jobSiteId"`
	Address   string `json:"address,omitempty"`
}

// PatchProjects lists the projects in a patch. Source reports whether the
// mapping view or the slower base-table path served the read.
type PatchProjects struct {
	PatchID    string         `json:"patchId"`
	Projects   []PatchProject `json:"projects"`
	Pagination Pagination     `json:"pagination"`
	Source     string         `json:"source"`
}

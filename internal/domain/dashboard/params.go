package dashboard

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/orgdash/dashboard-worker/internal/domain"
)

var validate = sync.OnceValue(func() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
})

// DashboardParams filters the dashboard summary.
type DashboardParams struct {
	PatchID string `json:"patchId,omitempty" validate:"omitempty,uuid"`
	Tier    string `json:"tier,omitempty" validate:"omitempty,oneof=tier_1 tier_2 tier_3"`
	Stage   string `json:"stage,omitempty" validate:"omitempty,max=64"`
}

// ProjectListParams filters, sorts and pages the project list.
type ProjectListParams struct {
	Page     int        `json:"page" validate:"min=1"`
	PageSize int        `json:"pageSize" validate:"min=1,max=200"`
	Sort     string     `json:"sort" validate:"oneof=name value tier updated_at employer_count"`
	Dir      string     `json:"dir" validate:"oneof=asc desc"`
	Search   string     `json:"q,omitempty" validate:"max=200"`
	Tier     string     `json:"tier,omitempty" validate:"omitempty,oneof=tier_1 tier_2 tier_3"`
	Stage    string     `json:"stage,omitempty" validate:"omitempty,max=64"`
	PatchID  string     `json:"patchId,omitempty" validate:"omitempty,uuid"`
	Since    *time.Time `json:"since,omitempty"`
}

// EmployerListParams filters, sorts and pages the employer list.
type EmployerListParams struct {
	Page         int    `json:"page" validate:"min=1"`
	PageSize     int    `json:"pageSize" validate:"min=1,max=200"`
	Sort         string `json:"sort" validate:"oneof=name estimated_worker_count project_count"`
	Dir          string `json:"dir" validate:"oneof=asc desc"`
	Search       string `json:"q,omitempty" validate:"max=200"`
	EBAStatus    string `json:"ebaStatus,omitempty" validate:"omitempty,oneof=active expired none"`
	EmployerType string `json:"employerType,omitempty" validate:"omitempty,max=64"`
}

// PatchProjectsParams pages the projects of a single patch.
type PatchProjectsParams struct {
	PatchID  string `json:"patchId" validate:"required,uuid"`
	Page     int    `json:"page" validate:"min=1"`
	PageSize int    `json:"pageSize" validate:"min=1,max=200"`
}

// Normalize fills defaults for omitted fields.
func (p *ProjectListParams) Normalize() {
	normalizePage(&p.Page, &p.PageSize)
	if p.Sort == "" {
		p.Sort = "name"
	}
	p.Dir = normalizeDir(p.Dir)
	p.Search = strings.TrimSpace(p.Search)
}

// Normalize fills defaults for omitted fields.
func (p *EmployerListParams) Normalize() {
	normalizePage(&p.Page, &p.PageSize)
	if p.Sort == "" {
		p.Sort = "name"
	}
	p.Dir = normalizeDir(p.Dir)
	p.Search = strings.TrimSpace(p.Search)
}

// Normalize fills defaults for omitted fields.
func (p *PatchProjectsParams) Normalize() {
	normalizePage(&p.Page, &p.PageSize)
}

func normalizePage(page, size *int) {
	if *page == 0 {
		*page = DefaultPage
	}
	if *size == 0 {
		*size = DefaultPageSize
	}
}

func normalizeDir(dir string) string {
	if dir == "" {
		return "asc"
	}
	return strings.ToLower(dir)
}

// Validate checks p against its struct tags. Failures wrap domain.ErrValidation.
func Validate(p any) error {
	err := validate().Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "uuid":
		return fe.Field() + " must be a UUID"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// Package refresh defines materialized view refresh outcomes.
package refresh

import (
	"errors"
	"strings"
	"time"

	"github.com/orgdash/dashboard-worker/internal/domain"
)

// Status is the outcome class of a single refresh action.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped" // target not provisioned
	StatusFailed    Status = "failed"
)

// Trigger identifies what started a refresh.
type Trigger string

const (
	TriggerCron   Trigger = "cron"
	TriggerDemand Trigger = "on_demand"
)

// Outcome records one refresh action run.
type Outcome struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Trigger    Trigger       `json:"trigger"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"durationMs"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
}

// Classify maps an action error to a Status. A nil error succeeded; a missing
// view or function is skipped; anything else failed.
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusSucceeded
	case IsNotProvisioned(err):
		return StatusSkipped
	default:
		return StatusFailed
	}
}

// IsNotProvisioned reports whether err means the refresh target does not exist yet.
func IsNotProvisioned(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrNotProvisioned) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

// Event is broadcast after a scheduled tick or an on-demand refresh completes.
type Event struct {
	Trigger  Trigger   `json:"trigger"`
	Outcomes []Outcome `json:"outcomes"`
}

// EventType is the broadcast event name for Event.
const EventType = "views.refreshed"

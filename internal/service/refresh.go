package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/orgdash/dashboard-worker/internal/adapter/otel"
	"github.com/orgdash/dashboard-worker/internal/config"
	"github.com/orgdash/dashboard-worker/internal/domain/refresh"
	"github.com/orgdash/dashboard-worker/internal/port/broadcast"
	"github.com/orgdash/dashboard-worker/internal/port/messagequeue"
)

const publishTimeout = 5 * time.Second

// Action is a named, independently failing refresh step.
type Action struct {
	Name string
	Run  func(ctx context.Context) error
}

// ViewRefresher calls a Postgres refresh function.
type ViewRefresher interface {
	RefreshView(ctx context.Context, function string) error
}

// ViewActions binds refresh targets to the functions that rebuild them.
func ViewActions(r ViewRefresher, targets []config.RefreshTarget) []Action {
	out := make([]Action, 0, len(targets))
	for _, t := range targets {
		fn := t.Function
		out = append(out, Action{
			Name: t.Name,
			Run:  func(ctx context.Context) error { return r.RefreshView(ctx, fn) },
		})
	}
	return out
}

// RefreshService keeps materialized views fresh on cron schedules and on demand.
type RefreshService struct {
	cron        *cron.Cron
	warmTimeout time.Duration
	broadcaster broadcast.Broadcaster
	metrics     *otel.Metrics
	logger      *slog.Logger
	clock       clockwork.Clock

	mu      sync.Mutex
	order   []Action
	byName  map[string]Action
	closed  bool
	flights singleflight.Group
	wg      sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// RefreshOption configures a RefreshService.
type RefreshOption func(*RefreshService)

// WithBroadcaster publishes a refresh event after every run.
func WithBroadcaster(b broadcast.Broadcaster) RefreshOption {
	return func(s *RefreshService) { s.broadcaster = b }
}

// WithRefreshMetrics records refresh outcomes on m.
func WithRefreshMetrics(m *otel.Metrics) RefreshOption {
	return func(s *RefreshService) { s.metrics = m }
}

// WithRefreshLogger sets the service logger.
func WithRefreshLogger(l *slog.Logger) RefreshOption {
	return func(s *RefreshService) { s.logger = l }
}

// WithRefreshClock sets the clock used for outcome timings.
func WithRefreshClock(c clockwork.Clock) RefreshOption {
	return func(s *RefreshService) { s.clock = c }
}

// NewRefreshService creates a RefreshService. On-demand refreshes are
// abandoned after warmTimeout.
func NewRefreshService(warmTimeout time.Duration, opts ...RefreshOption) *RefreshService {
	s := &RefreshService{
		warmTimeout: warmTimeout,
		logger:      slog.Default(),
		clock:       clockwork.NewRealClock(),
		byName:      make(map[string]Action),
	}
	for _, o := range opts {
		o(s)
	}
	cl := cronLogger{l: s.logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Schedule runs actions in order whenever cronExpr fires. Standard five
// field expressions and descriptors such as "@every 10m" are accepted.
// Scheduled actions are also registered for on-demand runs.
func (s *RefreshService) Schedule(cronExpr string, actions []Action) error {
	if err := checkActions(actions); err != nil {
		return err
	}
	tick := append([]Action(nil), actions...)
	if _, err := s.cron.AddFunc(cronExpr, func() {
		s.run(s.baseCtx, tick, refresh.TriggerCron)
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", cronExpr, err)
	}
	s.register(tick)
	s.logger.Info("refresh scheduled", "cron", cronExpr, "actions", len(tick))
	return nil
}

// Register makes actions available to RunAll and TriggerBackground without
// scheduling them. The first registration of a name wins.
func (s *RefreshService) Register(actions []Action) error {
	if err := checkActions(actions); err != nil {
		return err
	}
	s.register(actions)
	return nil
}

func (s *RefreshService) register(actions []Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range actions {
		if _, ok := s.byName[a.Name]; ok {
			continue
		}
		s.byName[a.Name] = a
		s.order = append(s.order, a)
	}
}

func checkActions(actions []Action) error {
	for _, a := range actions {
		if a.Name == "" || a.Run == nil {
			return errors.New("refresh action needs a name and a run func")
		}
	}
	return nil
}

// Actions returns the names of all scheduled actions in registration order.
func (s *RefreshService) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.order))
	for i, a := range s.order {
		names[i] = a.Name
	}
	return names
}

// RunAll runs every scheduled action once, in order, and returns the outcomes.
func (s *RefreshService) RunAll(ctx context.Context) []refresh.Outcome {
	s.mu.Lock()
	actions := append([]Action(nil), s.order...)
	s.mu.Unlock()
	return s.run(ctx, actions, refresh.TriggerCron)
}

// TriggerBackground starts the named action on a detached goroutine and
// returns immediately. Concurrent triggers of one action share a single run.
// It reports false for unknown actions and after shutdown.
func (s *RefreshService) TriggerBackground(name string) bool {
	s.mu.Lock()
	a, ok := s.byName[name]
	if !ok || s.closed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		_, _, shared := s.flights.Do(name, func() (any, error) {
			ctx, cancel := context.WithTimeout(s.baseCtx, s.warmTimeout)
			defer cancel()
			o := s.runOne(ctx, a, refresh.TriggerDemand)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				s.logger.Warn("on-demand refresh timed out", "action", name, "timeout", s.warmTimeout)
			}
			s.publish(ctx, refresh.Event{Trigger: refresh.TriggerDemand, Outcomes: []refresh.Outcome{o}})
			return nil, nil
		})
		if shared {
			s.logger.Debug("on-demand refresh coalesced", "action", name)
		}
	}()
	return true
}

// Serve runs the cron schedules until ctx is cancelled, then stops them and
// cancels and waits for in-flight refreshes.
func (s *RefreshService) Serve(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("refresh scheduler started", "actions", len(s.Actions()))

	<-ctx.Done()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.wg.Wait()
	s.logger.Info("refresh scheduler stopped")
	return ctx.Err()
}

// StartRefreshSubscriber triggers on-demand refreshes requested on
// dashboard.refresh.{action}. Unknown actions are acknowledged and dropped.
func (s *RefreshService) StartRefreshSubscriber(ctx context.Context, q messagequeue.Queue) (func(), error) {
	return q.Subscribe(ctx, messagequeue.SubjectRefresh+".>", s.handleRefreshRequest)
}

func (s *RefreshService) handleRefreshRequest(_ context.Context, subject string, data []byte) error {
	var req messagequeue.RefreshRequestPayload
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("decode refresh request: %w", err)
	}
	name := messagequeue.RefreshAction(subject, req)
	if !s.TriggerBackground(name) {
		s.logger.Warn("refresh request ignored", "action", name, "requested_by", req.RequestedBy)
		return nil
	}
	s.logger.Info("refresh requested", "action", name, "requested_by", req.RequestedBy)
	return nil
}

func (s *RefreshService) run(ctx context.Context, actions []Action, trigger refresh.Trigger) []refresh.Outcome {
	outcomes := make([]refresh.Outcome, 0, len(actions))
	for _, a := range actions {
		outcomes = append(outcomes, s.runOne(ctx, a, trigger))
	}
	s.publish(ctx, refresh.Event{Trigger: trigger, Outcomes: outcomes})
	return outcomes
}

func (s *RefreshService) runOne(ctx context.Context, a Action, trigger refresh.Trigger) refresh.Outcome {
	ctx, span := otel.StartRefreshSpan(ctx, a.Name, string(trigger))
	defer span.End()

	start := s.clock.Now()
	err := safeRun(ctx, a)
	d := s.clock.Since(start)

	o := refresh.Outcome{
		Name:       a.Name,
		Status:     refresh.Classify(err),
		Trigger:    trigger,
		Duration:   d,
		DurationMs: d.Milliseconds(),
		StartedAt:  start,
	}
	log := s.logger.With("action", a.Name, "trigger", string(trigger), "duration_ms", o.DurationMs)
	switch o.Status {
	case refresh.StatusSucceeded:
		log.Info("refresh succeeded")
	case refresh.StatusSkipped:
		o.Error = err.Error()
		log.Info("refresh skipped, target not provisioned", "error", err)
	default:
		o.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, o.Error)
		log.Warn("refresh failed", "error", err)
	}
	s.metrics.RecordRefresh(ctx, o)
	return o
}

func (s *RefreshService) publish(ctx context.Context, ev refresh.Event) {
	if s.broadcaster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	s.broadcaster.BroadcastEvent(ctx, refresh.EventType, ev)
}

// safeRun converts a panicking action into an error.
func safeRun(ctx context.Context, a Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh %s panicked: %v", a.Name, r)
		}
	}()
	return a.Run(ctx)
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

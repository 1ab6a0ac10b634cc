package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/orgdash/dashboard-worker/internal/config"
	"github.com/orgdash/dashboard-worker/internal/domain"
	"github.com/orgdash/dashboard-worker/internal/domain/refresh"
	"github.com/orgdash/dashboard-worker/internal/port/messagequeue"
)

// recordingHandler captures log records for assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &attrHandler{parent: h, attrs: attrs}
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

// find returns the first record with msg whose action attribute is action.
func (h *recordingHandler) find(msg, action string) (slog.Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Message != msg {
			continue
		}
		found := false
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "action" && a.Value.String() == action {
				found = true
				return false
			}
			return true
		})
		if found {
			return r, true
		}
	}
	return slog.Record{}, false
}

// attrHandler carries With attributes onto recorded records.
type attrHandler struct {
	parent *recordingHandler
	attrs  []slog.Attr
}

func (h *attrHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *attrHandler) Handle(ctx context.Context, r slog.Record) error {
	r = r.Clone()
	r.AddAttrs(h.attrs...)
	return h.parent.Handle(ctx, r)
}

func (h *attrHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &attrHandler{parent: h.parent, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *attrHandler) WithGroup(string) slog.Handler { return h }

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []refresh.Event
	got    chan struct{}
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{got: make(chan struct{}, 16)}
}

func (b *recordingBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	if eventType != refresh.EventType {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, payload.(refresh.Event))
	b.mu.Unlock()
	b.got <- struct{}{}
}

func TestRunAllIsolatesFailures(t *testing.T) {
	h := &recordingHandler{}
	svc := NewRefreshService(time.Second, WithRefreshLogger(slog.New(h)))

	var ran []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		ran = append(ran, name)
		mu.Unlock()
	}
	actions := []Action{
		{Name: "first", Run: func(context.Context) error { record("first"); return nil }},
		{Name: "second", Run: func(context.Context) error {
			record("second")
			return errors.New(`relation "patch_project_mapping_view" does not exist`)
		}},
		{Name: "third", Run: func(context.Context) error { record("third"); return nil }},
	}
	if err := svc.Schedule("*/10 * * * *", actions); err != nil {
		t.Fatal(err)
	}

	outcomes := svc.RunAll(context.Background())

	if len(ran) != 3 {
		t.Fatalf("ran = %v, want all three", ran)
	}
	want := []refresh.Status{refresh.StatusSucceeded, refresh.StatusSkipped, refresh.StatusSucceeded}
	for i, o := range outcomes {
		if o.Status != want[i] {
			t.Errorf("outcome %s = %s, want %s", o.Name, o.Status, want[i])
		}
		if o.Trigger != refresh.TriggerCron {
			t.Errorf("outcome %s trigger = %s", o.Name, o.Trigger)
		}
	}

	for _, name := range []string{"first", "third"} {
		if _, ok := h.find("refresh succeeded", name); !ok {
			t.Errorf("no success log for %s", name)
		}
	}
	r, ok := h.find("refresh skipped, target not provisioned", "second")
	if !ok {
		t.Fatal("no skipped log for second")
	}
	if r.Level >= slog.LevelWarn {
		t.Errorf("skipped action logged at %s, want below WARN", r.Level)
	}
}

func TestRunAllFailureAndPanic(t *testing.T) {
	h := &recordingHandler{}
	svc := NewRefreshService(time.Second, WithRefreshLogger(slog.New(h)))

	ran := false
	actions := []Action{
		{Name: "broken", Run: func(context.Context) error { return errors.New("deadlock detected") }},
		{Name: "panics", Run: func(context.Context) error { panic("boom") }},
		{Name: "last", Run: func(context.Context) error { ran = true; return nil }},
	}
	if err := svc.Schedule("@every 1h", actions); err != nil {
		t.Fatal(err)
	}

	outcomes := svc.RunAll(context.Background())
	if !ran {
		t.Fatal("action after a failure and a panic did not run")
	}
	if outcomes[0].Status != refresh.StatusFailed || outcomes[1].Status != refresh.StatusFailed {
		t.Errorf("statuses = %s, %s", outcomes[0].Status, outcomes[1].Status)
	}
	if outcomes[1].Error == "" {
		t.Error("panic outcome should carry an error message")
	}
	r, ok := h.find("refresh failed", "broken")
	if !ok || r.Level != slog.LevelWarn {
		t.Errorf("failed action log = %v (found %v), want WARN", r.Level, ok)
	}
}

func TestRunAllNotProvisionedSentinel(t *testing.T) {
	svc := NewRefreshService(time.Second)
	actions := []Action{{Name: "snapshot", Run: func(context.Context) error {
		return errors.Join(domain.ErrNotProvisioned, errors.New("42883"))
	}}}
	if err := svc.Schedule("0 3 * * *", actions); err != nil {
		t.Fatal(err)
	}
	if got := svc.RunAll(context.Background())[0].Status; got != refresh.StatusSkipped {
		t.Errorf("status = %s, want skipped", got)
	}
}

func TestRunAllBroadcastsEvent(t *testing.T) {
	b := newRecordingBroadcaster()
	svc := NewRefreshService(time.Second, WithBroadcaster(b))
	if err := svc.Schedule("*/10 * * * *", []Action{{Name: "a", Run: func(context.Context) error { return nil }}}); err != nil {
		t.Fatal(err)
	}

	svc.RunAll(context.Background())

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) != 1 || len(b.events[0].Outcomes) != 1 || b.events[0].Outcomes[0].Name != "a" {
		t.Errorf("events = %+v", b.events)
	}
}

func TestScheduleRejectsBadInput(t *testing.T) {
	svc := NewRefreshService(time.Second)
	if err := svc.Schedule("every ten minutes", []Action{{Name: "a", Run: func(context.Context) error { return nil }}}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if err := svc.Schedule("*/10 * * * *", []Action{{Name: "a"}}); err == nil {
		t.Error("expected error for action without run func")
	}
	if len(svc.Actions()) != 0 {
		t.Errorf("rejected schedules registered actions: %v", svc.Actions())
	}
}

func TestScheduleDeduplicatesActions(t *testing.T) {
	svc := NewRefreshService(time.Second)
	noop := func(context.Context) error { return nil }
	_ = svc.Schedule("*/10 * * * *", []Action{{Name: "a", Run: noop}, {Name: "b", Run: noop}})
	_ = svc.Schedule("0 3 * * *", []Action{{Name: "b", Run: noop}, {Name: "c", Run: noop}})

	got := svc.Actions()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Actions() = %v", got)
	}
}

func TestTriggerBackground(t *testing.T) {
	b := newRecordingBroadcaster()
	svc := NewRefreshService(50*time.Millisecond, WithBroadcaster(b))

	deadlineSet := make(chan bool, 1)
	actions := []Action{{Name: "slow", Run: func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		deadlineSet <- ok
		<-ctx.Done()
		return ctx.Err()
	}}}
	if err := svc.Schedule("*/10 * * * *", actions); err != nil {
		t.Fatal(err)
	}

	if svc.TriggerBackground("unknown") {
		t.Error("unknown action should not be triggered")
	}
	if !svc.TriggerBackground("slow") {
		t.Fatal("expected trigger to start")
	}

	select {
	case ok := <-deadlineSet:
		if !ok {
			t.Error("on-demand refresh should run with a deadline")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("action did not start")
	}

	select {
	case <-b.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no event after timed out refresh")
	}
	b.mu.Lock()
	o := b.events[0].Outcomes[0]
	b.mu.Unlock()
	if o.Trigger != refresh.TriggerDemand || o.Status != refresh.StatusFailed {
		t.Errorf("outcome = %+v", o)
	}
}

func TestServeStopsBackgroundWork(t *testing.T) {
	svc := NewRefreshService(time.Hour)

	started := make(chan struct{})
	actions := []Action{{Name: "blocking", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}}
	if err := svc.Schedule("0 3 * * *", actions); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	if !svc.TriggerBackground("blocking") {
		t.Fatal("expected trigger to start")
	}
	<-started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if svc.TriggerBackground("blocking") {
		t.Error("trigger after shutdown should be refused")
	}
}

func TestViewActions(t *testing.T) {
	store := &fakeStore{refreshErr: map[string]error{
		"refresh_employer_list_view": domain.ErrNotProvisioned,
	}}
	targets := []config.RefreshTarget{
		{Name: "project_list", Function: "refresh_project_list_comprehensive_view"},
		{Name: "employer_list", Function: "refresh_employer_list_view"},
	}
	svc := NewRefreshService(time.Second)
	if err := svc.Schedule("*/10 * * * *", ViewActions(store, targets)); err != nil {
		t.Fatal(err)
	}

	outcomes := svc.RunAll(context.Background())
	if outcomes[0].Status != refresh.StatusSucceeded || outcomes[1].Status != refresh.StatusSkipped {
		t.Errorf("outcomes = %+v", outcomes)
	}
	if len(store.refreshed) != 2 || store.refreshed[1] != "refresh_employer_list_view" {
		t.Errorf("refreshed = %v", store.refreshed)
	}
}

type fakeQueue struct {
	subject string
	handler messagequeue.Handler
}

func (q *fakeQueue) Publish(context.Context, string, []byte) error { return nil }

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.subject = subject
	q.handler = h
	return func() {}, nil
}

func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func TestRegisterWithoutSchedule(t *testing.T) {
	svc := NewRefreshService(time.Second)
	ran := make(chan struct{}, 1)
	if err := svc.Register([]Action{{Name: "employer_list", Run: func(context.Context) error {
		ran <- struct{}{}
		return nil
	}}}); err != nil {
		t.Fatal(err)
	}

	if !svc.TriggerBackground("employer_list") {
		t.Fatal("registered action should be triggerable")
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("registered action did not run")
	}
}

func TestRefreshSubscriber(t *testing.T) {
	svc := NewRefreshService(time.Second)
	ran := make(chan string, 2)
	noopNamed := func(name string) Action {
		return Action{Name: name, Run: func(context.Context) error { ran <- name; return nil }}
	}
	if err := svc.Register([]Action{noopNamed("project_list"), noopNamed("employer_list")}); err != nil {
		t.Fatal(err)
	}

	q := &fakeQueue{}
	cancel, err := svc.StartRefreshSubscriber(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()
	if q.subject != "dashboard.refresh.>" {
		t.Errorf("subscribed to %q", q.subject)
	}

	// Subject suffix names the action.
	if err := q.handler(context.Background(), "dashboard.refresh.employer_list", []byte(`{"name":"project_list"}`)); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ran:
		if got != "employer_list" {
			t.Errorf("ran %q, want employer_list", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("requested refresh did not run")
	}

	// Unknown actions are acknowledged, not redelivered.
	if err := q.handler(context.Background(), "dashboard.refresh.nope", []byte(`{}`)); err != nil {
		t.Errorf("unknown action returned %v", err)
	}
	if err := q.handler(context.Background(), "dashboard.refresh.x", []byte(`not json`)); err == nil {
		t.Error("expected decode error")
	}
}

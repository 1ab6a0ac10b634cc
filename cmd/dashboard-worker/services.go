package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// serviceFunc adapts a blocking function to suture.Service.
type serviceFunc struct {
	name  string
	serve func(ctx context.Context) error
}

func (s serviceFunc) Serve(ctx context.Context) error { return s.serve(ctx) }
func (s serviceFunc) String() string                  { return s.name }

// httpService runs an http.Server until the supervisor stops it.
type httpService struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

func (s *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return suture.ErrDoNotRestart
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *httpService) String() string { return "http-server" }

// subscriberService holds a queue subscription open for the supervisor's lifetime.
type subscriberService struct {
	name      string
	subscribe func(ctx context.Context) (func(), error)
}

func (s subscriberService) Serve(ctx context.Context) error {
	cancel, err := s.subscribe(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	<-ctx.Done()
	return ctx.Err()
}

func (s subscriberService) String() string { return s.name }

// newSupervisor creates the root supervisor with slog event logging.
func newSupervisor(logger *slog.Logger, shutdownTimeout time.Duration) *suture.Supervisor {
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()
	return suture.New("dashboard-worker", suture.Spec{
		EventHook:        hook,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}

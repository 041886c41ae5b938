// Package server runs the relay's long-lived services: it starts them together,
// waits for a termination signal or a failure, and stops them in reverse order.
package server

import (
	"context"
	"fmt"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service is a long-running component. Start blocks until the service stops or
// fails; Stop makes a running Start return.
type Service interface {
	Start() error
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// Periodic is a Service that calls Fn every Interval until stopped.
type Periodic struct {
	Interval time.Duration
	Fn       func()

	once sync.Once
	quit chan struct{}
}

// NewPeriodic creates a Periodic service.
//
// Precondition: interval must be positive; fn must be non-nil.
func NewPeriodic(interval time.Duration, fn func()) *Periodic {
	return &Periodic{Interval: interval, Fn: fn, quit: make(chan struct{})}
}

// Start runs the tick loop until Stop is called.
func (p *Periodic) Start() error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Fn()
		case <-p.quit:
			return nil
		}
	}
}

// Stop ends the tick loop. It is idempotent.
func (p *Periodic) Stop() {
	p.once.Do(func() { close(p.quit) })
}

// Lifecycle runs a set of named services.
type Lifecycle struct {
	logger   *zap.Logger
	services []namedService
	mu       sync.Mutex
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle creates a new Lifecycle manager.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers a named service. Services start together and stop in the reverse
// order of registration.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts every service and blocks until ctx is cancelled, SIGINT or SIGTERM
// arrives, a service fails, or every service has returned on its own.
//
// Postcondition: Every service was stopped. The first service failure is returned.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	l.mu.Lock()
	services := slices.Clone(l.services)
	l.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ns := range services {
		g.Go(func() error {
			l.logger.Info("starting service", zap.String("service", ns.name))
			svcStart := time.Now()
			if err := ns.service.Start(); err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				return fmt.Errorf("service %s: %w", ns.name, err)
			}
			return nil
		})
	}

	l.logger.Info("all services started",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	finished := make(chan error, 1)
	go func() { finished <- g.Wait() }()

	var runErr error
	select {
	case <-gctx.Done():
		if ctx.Err() != nil {
			l.logger.Info("shutdown requested", zap.Error(context.Cause(ctx)))
		} else {
			l.logger.Error("service error, shutting down")
		}
		l.shutdown(services)
		runErr = <-finished
	case runErr = <-finished:
		l.logger.Info("all services returned")
		l.shutdown(services)
	}

	l.logger.Info("shutdown complete", zap.Duration("total_uptime", time.Since(start)))
	return runErr
}

func (l *Lifecycle) shutdown(services []namedService) {
	shutdownStart := time.Now()
	for _, ns := range slices.Backward(services) {
		svcStart := time.Now()
		l.logger.Info("stopping service", zap.String("service", ns.name))
		ns.service.Stop()
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(svcStart)),
		)
	}
	l.logger.Info("all services stopped",
		zap.Duration("shutdown_elapsed", time.Since(shutdownStart)),
	)
}

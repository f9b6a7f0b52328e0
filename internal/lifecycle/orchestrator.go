package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/launcher"
	"github.com/picklr-io/apphost/internal/metrics"
	"github.com/picklr-io/apphost/internal/model"
)

// Orchestrator runs the lifecycle phases of a model in run mode.
type Orchestrator struct {
	Allocator Allocator
	Launcher  launcher.Launcher
	// Hooks run in registration order within each phase.
	Hooks   []Hook
	Logger  *slog.Logger
	Metrics *metrics.Collector
	// Parallelism bounds concurrent starts within one wave. Zero means no
	// bound.
	Parallelism int
	// StartTimeout bounds each resource start.
	StartTimeout time.Duration
}

// Session holds the resources started by one run.
type Session struct {
	launcher launcher.Launcher
	logger   *slog.Logger

	mu      sync.Mutex
	handles []launcher.Handle
}

func (s *Session) add(h launcher.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = append(s.handles, h)
}

// Handles returns the started resources in start order.
func (s *Session) Handles() []launcher.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]launcher.Handle(nil), s.handles...)
}

// Stop stops every started resource in reverse start order.
func (s *Session) Stop(ctx context.Context) error {
	handles := s.Handles()
	var errs []error
	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		if err := s.launcher.Stop(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", h.Name, err))
			continue
		}
		s.logger.Debug("resource stopped", "resource", h.Name)
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Prepare runs the phases that precede resource starts: BeforeStart hooks,
// endpoint allocation and AfterEndpointsAllocated hooks.
func (o *Orchestrator) Prepare(ctx context.Context, m *Model) error {
	if err := o.phase(ctx, PhaseBeforeStart, func() error {
		return runBeforeStart(ctx, o.Hooks, m)
	}); err != nil {
		return err
	}
	alloc := o.Allocator
	if alloc == nil {
		alloc = NewPortAllocator()
	}
	if err := o.phase(ctx, PhaseAllocate, func() error {
		return AllocateEndpoints(ctx, m, alloc, o.Metrics)
	}); err != nil {
		return err
	}
	for _, r := range m.Resources {
		for _, ep := range model.Endpoints(r) {
			a, _ := ep.Allocated()
			o.logger().Debug("endpoint allocated", "resource", r.Name(), "endpoint", ep.Name, "port", a.Port)
		}
	}
	return o.phase(ctx, PhaseAfterEndpointsAllocated, func() error {
		return runAfterEndpointsAllocated(ctx, o.Hooks, m)
	})
}

// BeforePublish runs the BeforeStart hooks only. Publish mode allocates
// nothing and starts nothing.
func (o *Orchestrator) BeforePublish(ctx context.Context, m *Model) error {
	if m.Execution == nil || !m.Execution.IsPublishMode() {
		return fmt.Errorf("before publish requires publish mode")
	}
	return o.phase(ctx, PhaseBeforeStart, func() error {
		return runBeforeStart(ctx, o.Hooks, m)
	})
}

// Start runs every phase. On a start failure the resources already started
// are stopped again before the error is returned.
func (o *Orchestrator) Start(ctx context.Context, m *Model) (*Session, error) {
	if o.Launcher == nil {
		return nil, fmt.Errorf("no launcher configured")
	}
	if err := o.Prepare(ctx, m); err != nil {
		return nil, err
	}

	dag, err := BuildDAG(m.Resources)
	if err != nil {
		return nil, err
	}

	session := &Session{launcher: o.Launcher, logger: o.logger()}
	err = o.phase(ctx, PhaseStart, func() error {
		return o.startWaves(ctx, m, dag, session)
	})
	if err != nil {
		if stopErr := session.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
		return nil, err
	}

	if err := o.phase(ctx, PhaseAfterResourcesCreated, func() error {
		return runAfterResourcesCreated(ctx, o.Hooks, m)
	}); err != nil {
		return session, err
	}
	return session, nil
}

func (o *Orchestrator) startWaves(ctx context.Context, m *Model, dag *DAG, session *Session) error {
	for _, wave := range dag.Waves() {
		g, gctx := errgroup.WithContext(ctx)
		if o.Parallelism > 0 {
			g.SetLimit(o.Parallelism)
		}
		for _, name := range wave {
			r, _ := m.Find(name)
			g.Go(func() error {
				return o.startResource(gctx, m, r, session)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) startResource(ctx context.Context, m *Model, r model.Resource, session *Session) error {
	ctx, cancel := launcher.WithTimeout(ctx, o.StartTimeout)
	defer cancel()

	var (
		h    launcher.Handle
		kind string
		err  error
	)
	switch {
	case isContainer(r):
		kind = launcher.KindContainer
		var spec launcher.ContainerSpec
		spec, err = BuildContainerSpec(ctx, m.Execution, r, o.Metrics)
		if err == nil {
			h, err = o.Launcher.StartContainer(ctx, spec)
		}
	case isExecutable(r):
		kind = launcher.KindExecutable
		var spec launcher.ExecutableSpec
		spec, err = BuildExecutableSpec(ctx, m.Execution, r, o.Metrics)
		if err == nil {
			h, err = o.Launcher.StartExecutable(ctx, spec)
		}
	default:
		// Parameters and cloud resources have nothing to start.
		return nil
	}
	o.Metrics.RecordStart(kind, err)
	if err != nil {
		if expr.IsMissingValue(err) {
			return fmt.Errorf("resource %s referenced a value that is not ready after allocation: %w", r.Name(), err)
		}
		return fmt.Errorf("failed to start %s: %w", r.Name(), err)
	}
	session.add(h)
	o.logger().Info("resource started", "resource", r.Name(), "kind", kind)
	return nil
}

func (o *Orchestrator) phase(ctx context.Context, p Phase, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	o.logger().Debug("lifecycle phase started", "phase", string(p))
	err := fn()
	o.Metrics.ObservePhase(string(p), time.Since(start))
	if err != nil {
		o.logger().Error("lifecycle phase failed", "phase", string(p), "error", err)
		return err
	}
	return nil
}

func isContainer(r model.Resource) bool {
	_, ok := model.AsContainer(r)
	return ok
}

func isExecutable(r model.Resource) bool {
	_, ok := model.AsExecutable(r)
	return ok
}

package hosting

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/picklr-io/apphost/internal/lifecycle"
	"github.com/picklr-io/apphost/internal/manifest"
	"github.com/picklr-io/apphost/internal/metrics"
	"github.com/picklr-io/apphost/internal/model"
)

// DefaultStopTimeout bounds shutdown after Run's context ends.
const DefaultStopTimeout = 30 * time.Second

// Application is a built, frozen model.
type Application struct {
	exec         *model.ExecutionContext
	resources    []model.Resource
	logger       *slog.Logger
	metrics      *metrics.Collector
	orchestrator *lifecycle.Orchestrator

	mu    sync.Mutex
	model *lifecycle.Model
}

// Execution returns the execution context.
func (a *Application) Execution() *model.ExecutionContext { return a.exec }

// Resources returns the resources in registration order.
func (a *Application) Resources() []model.Resource {
	return append([]model.Resource(nil), a.resources...)
}

// Metrics returns the collector the application records into, or nil.
func (a *Application) Metrics() *metrics.Collector { return a.metrics }

// Find returns the resource called name.
func (a *Application) Find(name string) (model.Resource, bool) {
	for _, r := range a.resources {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// Model returns the lifecycle model. It is created once, so endpoints are
// allocated at most once per application.
func (a *Application) Model() *lifecycle.Model {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model == nil {
		a.model = lifecycle.NewModel(a.exec, a.resources)
	}
	return a.model
}

// Start allocates endpoints and starts every resource. Calling it twice
// fails with *model.AllocationReuseError.
func (a *Application) Start(ctx context.Context) (*lifecycle.Session, error) {
	if !a.exec.IsRunMode() {
		return nil, fmt.Errorf("start requires run mode")
	}
	return a.orchestrator.Start(ctx, a.Model())
}

// Run starts the application and blocks until ctx is done, then stops it.
func (a *Application) Run(ctx context.Context) error {
	session, err := a.Start(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("application started", "resources", len(session.Handles()))

	<-ctx.Done()
	a.logger.Info("stopping application")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultStopTimeout)
	defer cancel()
	if err := session.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}
	return nil
}

// Publish runs the BeforeStart hooks and writes the manifest to w. Relative
// paths are computed against outputDir.
func (a *Application) Publish(ctx context.Context, w io.Writer, outputDir string) error {
	if err := a.beforePublish(ctx); err != nil {
		return err
	}
	return (&manifest.Publisher{OutputDir: outputDir}).Write(ctx, a.exec, a.resources, w)
}

// PublishFile writes the manifest to path.
func (a *Application) PublishFile(ctx context.Context, path string) error {
	if err := a.beforePublish(ctx); err != nil {
		return err
	}
	if err := (&manifest.Publisher{}).WriteFile(ctx, a.exec, a.resources, path); err != nil {
		return err
	}
	a.logger.Info("manifest written", "path", path)
	return nil
}

func (a *Application) beforePublish(ctx context.Context) error {
	if !a.exec.IsPublishMode() {
		return fmt.Errorf("publish requires publish mode")
	}
	return a.orchestrator.BeforePublish(ctx, a.Model())
}

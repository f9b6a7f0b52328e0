// Package hosting is the fluent construction API for an application model.
//
// A Builder collects resources and their annotations. Build freezes them
// into an Application that either runs the resources locally or publishes
// a deployment manifest, depending on the execution context chosen when the
// builder was created.
package hosting

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/launcher"
	"github.com/picklr-io/apphost/internal/lifecycle"
	"github.com/picklr-io/apphost/internal/logging"
	"github.com/picklr-io/apphost/internal/metrics"
	"github.com/picklr-io/apphost/internal/model"
)

// ErrBuilt is returned when the builder is used after Build.
var ErrBuilt = errors.New("application already built")

// Option configures a Builder.
type Option func(*Builder)

// WithExecutionContext selects run or publish mode. The default is run.
func WithExecutionContext(exec *model.ExecutionContext) Option {
	return func(b *Builder) { b.exec = exec }
}

// WithParameterStore sets where parameter values are looked up.
func WithParameterStore(s model.ValueSource) Option {
	return func(b *Builder) { b.source = s }
}

// WithValueSaver sets where generated parameter values are persisted.
func WithValueSaver(s model.ValueSaver) Option {
	return func(b *Builder) { b.saver = s }
}

// WithAllocator replaces the endpoint allocator used in run mode.
func WithAllocator(a lifecycle.Allocator) Option {
	return func(b *Builder) { b.allocator = a }
}

// WithLauncher sets the container and process launcher used in run mode.
func WithLauncher(l launcher.Launcher) Option {
	return func(b *Builder) { b.launcher = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithParallelism bounds concurrent resource starts.
func WithParallelism(n int) Option {
	return func(b *Builder) { b.parallelism = n }
}

// Builder assembles the resources of an application.
type Builder struct {
	exec        *model.ExecutionContext
	source      model.ValueSource
	saver       model.ValueSaver
	allocator   lifecycle.Allocator
	launcher    launcher.Launcher
	logger      *slog.Logger
	metrics     *metrics.Collector
	parallelism int

	resources []model.Resource
	hooks     []lifecycle.Hook
	errs      []error
	built     bool
}

// New returns a builder. The execution context is fixed from here on.
func New(opts ...Option) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	if b.exec == nil {
		b.exec = model.NewExecutionContext(model.Run)
	}
	if b.logger == nil {
		b.logger = logging.For("hosting")
	}
	return b
}

// Execution returns the execution context.
func (b *Builder) Execution() *model.ExecutionContext { return b.exec }

// Logger returns the builder's logger.
func (b *Builder) Logger() *slog.Logger { return b.logger }

// Resources returns the registered resources in registration order.
func (b *Builder) Resources() []model.Resource {
	return append([]model.Resource(nil), b.resources...)
}

// Find returns the first resource registered under name.
func (b *Builder) Find(name string) (model.Resource, bool) {
	for _, r := range b.resources {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// AddLifecycleHook registers a hook. Hooks run in registration order ahead
// of resources that observe the lifecycle themselves.
func (b *Builder) AddLifecycleHook(h lifecycle.Hook) {
	if b.built {
		b.fail(ErrBuilt)
		return
	}
	if err := lifecycle.ValidateHook(h); err != nil {
		b.fail(err)
		return
	}
	b.hooks = append(b.hooks, h)
}

// Err returns the errors recorded by fluent calls so far.
func (b *Builder) Err() error {
	return errors.Join(b.errs...)
}

func (b *Builder) fail(err error) {
	b.errs = append(b.errs, err)
}

func (b *Builder) register(r model.Resource) {
	if b.built {
		b.fail(fmt.Errorf("cannot add %s: %w", r.Name(), ErrBuilt))
		return
	}
	if !expr.ValidName(r.Name()) {
		b.fail(&model.InvalidNameError{Name: r.Name()})
	}
	if p, ok := r.(*model.ParameterResource); ok {
		p.Bind(b.source, b.saver)
	}
	b.resources = append(b.resources, r)
}

// Build validates the model, freezes every annotation store and returns the
// application. Every recorded problem is reported, not just the first.
func (b *Builder) Build() (*Application, error) {
	if b.built {
		return nil, ErrBuilt
	}

	var errs []error
	if dup := duplicateNames(b.resources); len(dup) > 0 {
		errs = append(errs, &model.DuplicateNameError{Names: dup})
	}
	errs = append(errs, b.errs...)
	errs = append(errs, b.danglingReferences()...)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	b.built = true
	for _, r := range b.resources {
		r.Annotations().Freeze()
	}
	b.logger.Debug("application model built", "resources", len(b.resources), "mode", b.exec.Operation().String())

	return &Application{
		exec:      b.exec,
		resources: b.Resources(),
		logger:    b.logger,
		metrics:   b.metrics,
		orchestrator: &lifecycle.Orchestrator{
			Allocator:   b.allocator,
			Launcher:    b.launcher,
			Hooks:       append([]lifecycle.Hook(nil), b.hooks...),
			Logger:      b.logger,
			Metrics:     b.metrics,
			Parallelism: b.parallelism,
		},
	}, nil
}

// duplicateNames returns every name registered more than once, in the order
// the names first appear.
func duplicateNames(resources []model.Resource) []string {
	count := make(map[string]int, len(resources))
	var order []string
	for _, r := range resources {
		if count[r.Name()] == 0 {
			order = append(order, r.Name())
		}
		count[r.Name()]++
	}
	var dup []string
	for _, name := range order {
		if count[name] > 1 {
			dup = append(dup, name)
		}
	}
	return dup
}

// danglingReferences reports references and waits on resources that were
// never added to this builder.
func (b *Builder) danglingReferences() []error {
	known := make(map[model.Resource]bool, len(b.resources))
	for _, r := range b.resources {
		known[r] = true
	}
	var errs []error
	for _, r := range b.resources {
		if p := r.Parent(); p != nil && !known[p] {
			errs = append(errs, fmt.Errorf("resource %s has parent %s which is not part of the application", r.Name(), p.Name()))
		}
		for _, d := range model.Dependencies(r) {
			if !known[d] {
				errs = append(errs, fmt.Errorf("resource %s references %s which is not part of the application", r.Name(), d.Name()))
			}
		}
	}
	return errs
}

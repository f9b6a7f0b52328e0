// Package lifecycle runs the ordered phases of an application run: hooks,
// endpoint allocation and dependency-ordered resource starts.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/picklr-io/apphost/internal/model"
)

// Phase names a lifecycle phase.
type Phase string

const (
	PhaseBeforeStart             Phase = "before-start"
	PhaseAllocate                Phase = "allocate"
	PhaseAfterEndpointsAllocated Phase = "after-endpoints-allocated"
	PhaseStart                   Phase = "start"
	PhaseAfterResourcesCreated   Phase = "after-resources-created"
)

// Model is the frozen application graph handed to hooks.
type Model struct {
	Execution *model.ExecutionContext
	// Resources are in registration order.
	Resources []model.Resource

	allocated bool
}

// NewModel returns a model over resources.
func NewModel(exec *model.ExecutionContext, resources []model.Resource) *Model {
	return &Model{Execution: exec, Resources: resources}
}

// Find returns the resource called name.
func (m *Model) Find(name string) (model.Resource, bool) {
	for _, r := range m.Resources {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// Allocated reports whether the allocation phase has run.
func (m *Model) Allocated() bool { return m.allocated }

// ResourcesOf returns the resources of type T in registration order.
func ResourcesOf[T model.Resource](m *Model) []T {
	var out []T
	for _, r := range m.Resources {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// BeforeStartHook runs before endpoints are allocated.
type BeforeStartHook interface {
	BeforeStart(ctx context.Context, m *Model) error
}

// AfterEndpointsAllocatedHook runs once every endpoint is allocated.
type AfterEndpointsAllocatedHook interface {
	AfterEndpointsAllocated(ctx context.Context, m *Model) error
}

// AfterResourcesCreatedHook runs once every resource has started.
type AfterResourcesCreatedHook interface {
	AfterResourcesCreated(ctx context.Context, m *Model) error
}

// Hook is a value implementing at least one of the phase interfaces.
type Hook any

// ValidateHook rejects values that implement no phase interface.
func ValidateHook(h Hook) error {
	switch h.(type) {
	case BeforeStartHook, AfterEndpointsAllocatedHook, AfterResourcesCreatedHook:
		return nil
	}
	return fmt.Errorf("lifecycle hook %T implements no phase", h)
}

// phaseHooks returns the hooks for phase: registered hooks first in
// registration order, then resources acting as hooks in resource
// registration order.
func phaseHooks(hooks []Hook, m *Model) []Hook {
	out := make([]Hook, 0, len(hooks))
	out = append(out, hooks...)
	for _, r := range m.Resources {
		out = append(out, r)
	}
	return out
}

func runBeforeStart(ctx context.Context, hooks []Hook, m *Model) error {
	for _, h := range phaseHooks(hooks, m) {
		if hk, ok := h.(BeforeStartHook); ok {
			if err := hk.BeforeStart(ctx, m); err != nil {
				return fmt.Errorf("before start hook %T failed: %w", h, err)
			}
		}
	}
	return nil
}

func runAfterEndpointsAllocated(ctx context.Context, hooks []Hook, m *Model) error {
	for _, h := range phaseHooks(hooks, m) {
		if hk, ok := h.(AfterEndpointsAllocatedHook); ok {
			if err := hk.AfterEndpointsAllocated(ctx, m); err != nil {
				return fmt.Errorf("after endpoints allocated hook %T failed: %w", h, err)
			}
		}
	}
	return nil
}

func runAfterResourcesCreated(ctx context.Context, hooks []Hook, m *Model) error {
	for _, h := range phaseHooks(hooks, m) {
		if hk, ok := h.(AfterResourcesCreatedHook); ok {
			if err := hk.AfterResourcesCreated(ctx, m); err != nil {
				return fmt.Errorf("after resources created hook %T failed: %w", h, err)
			}
		}
	}
	return nil
}

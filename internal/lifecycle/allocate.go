package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/picklr-io/apphost/internal/metrics"
	"github.com/picklr-io/apphost/internal/model"
)

const (
	// DefaultAddress is the host name clients on the host use.
	DefaultAddress = "localhost"
	// DefaultContainerHost is how containers reach the host.
	DefaultContainerHost = "host.docker.internal"
)

// Allocator assigns a concrete binding to a declared endpoint.
type Allocator interface {
	Allocate(ctx context.Context, r model.Resource, ep *model.EndpointAnnotation) (model.AllocatedEndpoint, error)
}

// PortAllocator uses the requested host port when there is one and asks the
// operating system for a free port otherwise.
type PortAllocator struct {
	Address       string
	ContainerHost string

	mu   sync.Mutex
	used map[int]string
}

// NewPortAllocator returns an allocator with the default host names.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{Address: DefaultAddress, ContainerHost: DefaultContainerHost}
}

func (a *PortAllocator) Allocate(ctx context.Context, r model.Resource, ep *model.EndpointAnnotation) (model.AllocatedEndpoint, error) {
	if err := ctx.Err(); err != nil {
		return model.AllocatedEndpoint{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.used == nil {
		a.used = make(map[int]string)
	}
	owner := r.Name() + "/" + ep.Name

	var port int
	if ep.Port != nil {
		port = *ep.Port
		if prev, ok := a.used[port]; ok {
			return model.AllocatedEndpoint{}, fmt.Errorf("port %d requested by %s is already used by %s", port, owner, prev)
		}
	} else {
		for {
			p, err := freePort()
			if err != nil {
				return model.AllocatedEndpoint{}, fmt.Errorf("failed to find a free port for %s: %w", owner, err)
			}
			if _, ok := a.used[p]; !ok {
				port = p
				break
			}
		}
	}
	a.used[port] = owner

	return model.AllocatedEndpoint{
		Address:       orDefault(a.Address, DefaultAddress),
		Port:          port,
		ContainerHost: orDefault(a.ContainerHost, DefaultContainerHost),
	}, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// StaticAllocator hands out preconfigured bindings keyed by
// "resource/endpoint". Unlisted endpoints get sequential ports from Next.
type StaticAllocator struct {
	Bindings map[string]model.AllocatedEndpoint
	Next     int
}

func (a *StaticAllocator) Allocate(ctx context.Context, r model.Resource, ep *model.EndpointAnnotation) (model.AllocatedEndpoint, error) {
	if err := ctx.Err(); err != nil {
		return model.AllocatedEndpoint{}, err
	}
	if b, ok := a.Bindings[r.Name()+"/"+ep.Name]; ok {
		return b, nil
	}
	if ep.Port != nil {
		return model.AllocatedEndpoint{Address: DefaultAddress, Port: *ep.Port, ContainerHost: DefaultContainerHost}, nil
	}
	if a.Next == 0 {
		return model.AllocatedEndpoint{}, fmt.Errorf("no binding configured for %s/%s", r.Name(), ep.Name)
	}
	port := a.Next
	a.Next++
	return model.AllocatedEndpoint{Address: DefaultAddress, Port: port, ContainerHost: DefaultContainerHost}, nil
}

// AllocateEndpoints runs the allocation phase. Every endpoint of every
// resource is allocated before it returns; fixed endpoints take their
// preset binding. Running it twice on a model fails with an
// *model.AllocationReuseError.
func AllocateEndpoints(ctx context.Context, m *Model, alloc Allocator, mc *metrics.Collector) error {
	var errs []error
	for _, r := range m.Resources {
		for _, ep := range model.Endpoints(r) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if ep.State() == model.EndpointAllocated {
				errs = append(errs, &model.AllocationReuseError{Resource: r.Name(), Endpoint: ep.Name})
				continue
			}
			binding, err := bindingFor(ctx, alloc, r, ep)
			if err == nil {
				err = ep.Allocate(r, binding)
			}
			mc.RecordAllocation(r.Name(), err)
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to allocate %s/%s: %w", r.Name(), ep.Name, err))
			}
		}
	}
	m.allocated = true
	return errors.Join(errs...)
}

func bindingFor(ctx context.Context, alloc Allocator, r model.Resource, ep *model.EndpointAnnotation) (model.AllocatedEndpoint, error) {
	if ep.Fixed != nil {
		return *ep.Fixed, nil
	}
	return alloc.Allocate(ctx, r, ep)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

package model

import (
	"context"
	"fmt"
	"strconv"

	"github.com/picklr-io/apphost/internal/expr"
)

// EndpointState is the allocation state of an endpoint.
type EndpointState int

const (
	EndpointDeclared EndpointState = iota
	EndpointAllocated
)

// AllocatedEndpoint is the concrete binding assigned during allocation.
type AllocatedEndpoint struct {
	// Address is the host name clients on the host machine use.
	Address string
	Port    int
	// ContainerHost is the host name containers use to reach this endpoint.
	ContainerHost string
}

// EndpointAnnotation declares a named network binding of a resource.
type EndpointAnnotation struct {
	Name string
	// TargetPort is the port the process listens on.
	TargetPort int
	// Port is the requested host port. Nil lets the allocator choose.
	Port      *int
	Scheme    string
	Protocol  string
	Transport string
	External  bool
	// Fixed is an allocation decided outside the host, e.g. a service that is
	// already running. The allocator is not consulted for fixed endpoints.
	Fixed *AllocatedEndpoint

	allocated *AllocatedEndpoint
}

func (*EndpointAnnotation) Kind() Kind               { return KindEndpoint }
func (*EndpointAnnotation) Cardinality() Cardinality { return Multi }

// State reports whether the endpoint has been allocated.
func (e *EndpointAnnotation) State() EndpointState {
	if e.allocated != nil {
		return EndpointAllocated
	}
	return EndpointDeclared
}

// Allocated returns the allocation, if any.
func (e *EndpointAnnotation) Allocated() (AllocatedEndpoint, bool) {
	if e.allocated == nil {
		return AllocatedEndpoint{}, false
	}
	return *e.allocated, true
}

// Allocate moves the endpoint from Declared to Allocated. It fails with an
// *AllocationReuseError if it was already allocated.
func (e *EndpointAnnotation) Allocate(owner Resource, a AllocatedEndpoint) error {
	if e.allocated != nil {
		return &AllocationReuseError{Resource: owner.Name(), Endpoint: e.Name}
	}
	e.allocated = &a
	return nil
}

// Endpoints returns r's endpoint annotations in declaration order.
func Endpoints(r Resource) []*EndpointAnnotation {
	return All[*EndpointAnnotation](r)
}

// FindEndpoint returns r's endpoint called name.
func FindEndpoint(r Resource, name string) (*EndpointAnnotation, bool) {
	for _, ep := range Endpoints(r) {
		if ep.Name == name {
			return ep, true
		}
	}
	return nil, false
}

// EndpointReference points at a named endpoint of a resource. The endpoint may
// be declared after the reference is taken.
type EndpointReference struct {
	resource Resource
	name     string
}

// EndpointFor returns a reference to r's endpoint called name.
func EndpointFor(r Resource, name string) *EndpointReference {
	return &EndpointReference{resource: r, name: name}
}

// Resource returns the owning resource.
func (e *EndpointReference) Resource() Resource { return e.resource }

// Name returns the endpoint name.
func (e *EndpointReference) Name() string { return e.name }

// Exists reports whether the endpoint has been declared.
func (e *EndpointReference) Exists() bool {
	_, ok := FindEndpoint(e.resource, e.name)
	return ok
}

// Allocated returns the allocation or a *expr.MissingValueError.
func (e *EndpointReference) Allocated() (AllocatedEndpoint, error) {
	ep, ok := FindEndpoint(e.resource, e.name)
	if !ok {
		return AllocatedEndpoint{}, &expr.MissingValueError{
			Placeholder: e.Host().ValueExpression(),
			Reason:      fmt.Sprintf("resource %s has no endpoint named %s", e.resource.Name(), e.name),
		}
	}
	a, ok := ep.Allocated()
	if !ok {
		return AllocatedEndpoint{}, &expr.MissingValueError{
			Placeholder: e.Host().ValueExpression(),
			Reason:      "endpoint not allocated",
		}
	}
	return a, nil
}

// Host returns the host property.
func (e *EndpointReference) Host() *EndpointProperty {
	return &EndpointProperty{endpoint: e, kind: expr.KindEndpointHost}
}

// Port returns the port property.
func (e *EndpointReference) Port() *EndpointProperty {
	return &EndpointProperty{endpoint: e, kind: expr.KindEndpointPort}
}

// URL returns the scheme://host:port property.
func (e *EndpointReference) URL() *EndpointProperty {
	return &EndpointProperty{endpoint: e, kind: expr.KindEndpointURL}
}

// EndpointProperty is a single property of an endpoint as a ValueProvider.
type EndpointProperty struct {
	endpoint *EndpointReference
	kind     expr.PlaceholderKind
}

// Endpoint returns the referenced endpoint.
func (p *EndpointProperty) Endpoint() *EndpointReference { return p.endpoint }

// Resource returns the resource owning the endpoint.
func (p *EndpointProperty) Resource() Resource { return p.endpoint.resource }

func (p *EndpointProperty) ValueExpression() string {
	return expr.Placeholder{
		Resource: p.endpoint.resource.Name(),
		Kind:     p.kind,
		Endpoint: p.endpoint.name,
	}.String()
}

func (p *EndpointProperty) Value(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ep, ok := FindEndpoint(p.endpoint.resource, p.endpoint.name)
	if !ok {
		return "", &expr.MissingValueError{
			Placeholder: p.ValueExpression(),
			Reason:      fmt.Sprintf("resource %s has no endpoint named %s", p.endpoint.resource.Name(), p.endpoint.name),
		}
	}
	a, ok := ep.Allocated()
	if !ok {
		return "", &expr.MissingValueError{Placeholder: p.ValueExpression(), Reason: "endpoint not allocated"}
	}
	host := a.Address
	if consumedByContainer(ctx) && a.ContainerHost != "" {
		host = a.ContainerHost
	}
	switch p.kind {
	case expr.KindEndpointHost:
		return host, nil
	case expr.KindEndpointPort:
		return strconv.Itoa(a.Port), nil
	default:
		scheme := ep.Scheme
		if scheme == "" {
			scheme = "tcp"
		}
		return fmt.Sprintf("%s://%s:%d", scheme, host, a.Port), nil
	}
}

type containerConsumerKey struct{}

// ForContainer marks ctx as resolving values for a process running inside a
// container. Endpoint hosts then resolve to AllocatedEndpoint.ContainerHost.
func ForContainer(ctx context.Context) context.Context {
	return context.WithValue(ctx, containerConsumerKey{}, true)
}

func consumedByContainer(ctx context.Context) bool {
	v, _ := ctx.Value(containerConsumerKey{}).(bool)
	return v
}

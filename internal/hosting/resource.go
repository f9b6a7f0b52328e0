package hosting

import (
	"fmt"
	"strings"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/manifest"
	"github.com/picklr-io/apphost/internal/model"
)

// ResourceBuilder is the fluent handle returned by Add. Every method returns
// the same handle. Failures are recorded on the Builder and reported by
// Build.
type ResourceBuilder[T model.Resource] struct {
	builder  *Builder
	resource T
}

// Add registers r and returns its handle.
func Add[T model.Resource](b *Builder, r T) *ResourceBuilder[T] {
	b.register(r)
	return &ResourceBuilder[T]{builder: b, resource: r}
}

// Resource returns the underlying resource.
func (rb *ResourceBuilder[T]) Resource() T { return rb.resource }

// Builder returns the builder the resource belongs to.
func (rb *ResourceBuilder[T]) Builder() *Builder { return rb.builder }

// Name returns the resource name.
func (rb *ResourceBuilder[T]) Name() string { return rb.resource.Name() }

// Fail records err against the resource; Build reports it.
func (rb *ResourceBuilder[T]) Fail(err error) *ResourceBuilder[T] {
	rb.builder.fail(fmt.Errorf("resource %s: %w", rb.resource.Name(), err))
	return rb
}

func (rb *ResourceBuilder[T]) fail(format string, args ...any) *ResourceBuilder[T] {
	return rb.Fail(fmt.Errorf(format, args...))
}

// WithAnnotation attaches a. Singleton kinds replace their previous value.
func (rb *ResourceBuilder[T]) WithAnnotation(a model.Annotation) *ResourceBuilder[T] {
	if err := model.Annotate(rb.resource, a); err != nil {
		return rb.fail("failed to add %s annotation: %w", a.Kind(), err)
	}
	return rb
}

// ReplaceAnnotation removes every annotation of a's kind and attaches a.
func (rb *ResourceBuilder[T]) ReplaceAnnotation(a model.Annotation) *ResourceBuilder[T] {
	if err := rb.resource.Annotations().ReplaceOrAdd(a); err != nil {
		return rb.fail("failed to replace %s annotation: %w", a.Kind(), err)
	}
	return rb
}

// EndpointOption adjusts an endpoint declaration.
type EndpointOption func(*model.EndpointAnnotation)

// Port requests a fixed host port.
func Port(p int) EndpointOption {
	return func(e *model.EndpointAnnotation) { e.Port = &p }
}

// Scheme sets the URI scheme, e.g. http.
func Scheme(s string) EndpointOption {
	return func(e *model.EndpointAnnotation) { e.Scheme = s }
}

// Transport sets the transport name, e.g. http2.
func Transport(t string) EndpointOption {
	return func(e *model.EndpointAnnotation) { e.Transport = t }
}

// UDP marks the endpoint as a udp binding.
func UDP() EndpointOption {
	return func(e *model.EndpointAnnotation) { e.Protocol = "udp" }
}

// External marks the endpoint as reachable from outside the deployment.
func External() EndpointOption {
	return func(e *model.EndpointAnnotation) { e.External = true }
}

// FixedAt declares an endpoint already bound elsewhere. The allocator is
// skipped for it.
func FixedAt(address string, port int) EndpointOption {
	return func(e *model.EndpointAnnotation) {
		e.Fixed = &model.AllocatedEndpoint{Address: address, Port: port, ContainerHost: address}
	}
}

// WithEndpoint declares a named endpoint listening on targetPort.
func (rb *ResourceBuilder[T]) WithEndpoint(name string, targetPort int, opts ...EndpointOption) *ResourceBuilder[T] {
	if _, exists := model.FindEndpoint(rb.resource, name); exists {
		return rb.fail("endpoint %s already declared", name)
	}
	ep := &model.EndpointAnnotation{Name: name, TargetPort: targetPort, Scheme: "tcp", Protocol: "tcp"}
	for _, opt := range opts {
		opt(ep)
	}
	if ep.Transport == "" {
		ep.Transport = ep.Scheme
	}
	return rb.WithAnnotation(ep)
}

// WithHTTPEndpoint declares the "http" endpoint.
func (rb *ResourceBuilder[T]) WithHTTPEndpoint(targetPort int, opts ...EndpointOption) *ResourceBuilder[T] {
	return rb.WithEndpoint("http", targetPort, append([]EndpointOption{Scheme("http")}, opts...)...)
}

// Endpoint returns a reference to one of the resource's endpoints.
func (rb *ResourceBuilder[T]) Endpoint(name string) *model.EndpointReference {
	return model.EndpointFor(rb.resource, name)
}

// WithEnvironment sets a literal environment variable.
func (rb *ResourceBuilder[T]) WithEnvironment(name, value string) *ResourceBuilder[T] {
	return rb.WithEnvironmentExpr(name, expr.String(value))
}

// WithEnvironmentExpr sets an environment variable to a deferred value.
func (rb *ResourceBuilder[T]) WithEnvironmentExpr(name string, v expr.ValueProvider) *ResourceBuilder[T] {
	return rb.WithEnvironmentCallback(func(ec *model.EnvironmentContext) error {
		ec.Env.Set(name, v)
		return nil
	})
}

// WithEnvironmentCallback registers fn to populate the environment.
func (rb *ResourceBuilder[T]) WithEnvironmentCallback(fn func(*model.EnvironmentContext) error) *ResourceBuilder[T] {
	return rb.WithAnnotation(&model.EnvironmentCallbackAnnotation{Callback: fn})
}

// WithArgs appends literal arguments.
func (rb *ResourceBuilder[T]) WithArgs(args ...string) *ResourceBuilder[T] {
	return rb.WithArgsCallback(func(ac *model.ArgsContext) error {
		ac.AddString(args...)
		return nil
	})
}

// WithArgsExpr appends deferred arguments.
func (rb *ResourceBuilder[T]) WithArgsExpr(args ...expr.ValueProvider) *ResourceBuilder[T] {
	return rb.WithArgsCallback(func(ac *model.ArgsContext) error {
		ac.Add(args...)
		return nil
	})
}

// WithArgsCallback registers fn to append arguments.
func (rb *ResourceBuilder[T]) WithArgsCallback(fn func(*model.ArgsContext) error) *ResourceBuilder[T] {
	return rb.WithAnnotation(&model.ArgsCallbackAnnotation{Callback: fn})
}

// WithConnectionString gives the resource a connection string built by fn.
func (rb *ResourceBuilder[T]) WithConnectionString(fn func() (*expr.ReferenceExpression, error)) *ResourceBuilder[T] {
	return rb.WithAnnotation(&model.ConnectionStringAnnotation{Expression: fn})
}

// WithReference makes source available to this resource. A source with a
// connection string sets ConnectionStrings__<name>; each endpoint of the
// source sets services__<name>__<endpoint>__0 to its URL. The reference also
// orders the start of this resource after source.
func (rb *ResourceBuilder[T]) WithReference(source model.Resource) *ResourceBuilder[T] {
	if source == nil {
		return rb.fail("nil reference")
	}
	name := source.Name()
	hasConn := model.HasConnectionString(source)
	endpoints := model.Endpoints(source)
	if !hasConn && len(endpoints) == 0 {
		return rb.fail("%s exposes neither a connection string nor endpoints", name)
	}

	rb.WithAnnotation(&model.ResourceRelationshipAnnotation{Resource: source, Type: model.RelationshipReference})
	return rb.WithEnvironmentCallback(func(ec *model.EnvironmentContext) error {
		if hasConn {
			ec.Env.Set("ConnectionStrings__"+name, model.ConnectionStringOf(source))
		}
		// Endpoints are read at evaluation time so later declarations count.
		for _, ep := range model.Endpoints(source) {
			ec.Env.Set(fmt.Sprintf("services__%s__%s__0", name, ep.Name), model.EndpointFor(source, ep.Name).URL())
		}
		return nil
	})
}

// WithParent attaches the resource below parent.
func (rb *ResourceBuilder[T]) WithParent(parent model.Resource) *ResourceBuilder[T] {
	if err := model.SetParent(rb.resource, parent); err != nil {
		return rb.fail("failed to set parent: %w", err)
	}
	return rb.WithAnnotation(&model.ResourceRelationshipAnnotation{Resource: parent, Type: model.RelationshipParent})
}

// WaitFor delays the start of the resource until dep has started.
func (rb *ResourceBuilder[T]) WaitFor(dep model.Resource) *ResourceBuilder[T] {
	if dep == nil {
		return rb.fail("nil wait dependency")
	}
	if model.Resource(rb.resource) == dep {
		return rb.fail("cannot wait for itself")
	}
	return rb.WithAnnotation(&model.WaitAnnotation{Resource: dep})
}

// WithManifestPublishingCallback replaces the default manifest entry.
func (rb *ResourceBuilder[T]) WithManifestPublishingCallback(fn func(model.ManifestWriter) error) *ResourceBuilder[T] {
	if fn == nil {
		return rb.fail("nil manifest callback")
	}
	return rb.WithAnnotation(&model.ManifestPublishingCallbackAnnotation{Callback: fn})
}

// ExcludeFromManifest keeps the resource out of the published manifest.
func (rb *ResourceBuilder[T]) ExcludeFromManifest() *ResourceBuilder[T] {
	return rb.WithAnnotation(&model.ManifestPublishingCallbackAnnotation{})
}

// WithRoleAssignments grants this resource roles on target. Explicit
// assignments take the place of target's defaults.
func (rb *ResourceBuilder[T]) WithRoleAssignments(target model.Resource, roles ...model.RoleDefinition) *ResourceBuilder[T] {
	if len(roles) == 0 {
		return rb.fail("no roles given for %s", target.Name())
	}
	return rb.WithAnnotation(&model.RoleAssignmentAnnotation{Target: target, Roles: roles})
}

// WithImage sets the container image. A registry host in image is split off.
func (rb *ResourceBuilder[T]) WithImage(image, tag string) *ResourceBuilder[T] {
	if _, ok := model.AsContainer(rb.resource); !ok {
		return rb.fail("only containers have an image")
	}
	registry, name := splitRegistry(image)
	a := &model.ContainerImageAnnotation{Registry: registry, Image: name, Tag: tag}
	if prev, err := model.Image(rb.resource); err == nil {
		a.Platform = prev.Platform
		if registry == "" {
			a.Registry = prev.Registry
		}
	}
	return rb.WithAnnotation(a)
}

// WithImageRegistry overrides the registry of the configured image.
func (rb *ResourceBuilder[T]) WithImageRegistry(registry string) *ResourceBuilder[T] {
	img, err := model.Image(rb.resource)
	if err != nil {
		return rb.fail("image registry set before image: %w", err)
	}
	cp := *img
	cp.Registry = registry
	return rb.WithAnnotation(&cp)
}

// WithVolume mounts a named volume at target.
func (rb *ResourceBuilder[T]) WithVolume(name, target string, readOnly bool) *ResourceBuilder[T] {
	if _, ok := model.AsContainer(rb.resource); !ok {
		return rb.fail("only containers mount volumes")
	}
	return rb.WithAnnotation(&model.MountAnnotation{Source: name, Target: target, Type: model.MountVolume, ReadOnly: readOnly})
}

// WithBindMount mounts a host path at target.
func (rb *ResourceBuilder[T]) WithBindMount(source, target string, readOnly bool) *ResourceBuilder[T] {
	if _, ok := model.AsContainer(rb.resource); !ok {
		return rb.fail("only containers mount host paths")
	}
	return rb.WithAnnotation(&model.MountAnnotation{Source: source, Target: target, Type: model.MountBind, ReadOnly: readOnly})
}

// WithContainerRuntimeArgs passes extra arguments to the container runtime.
func (rb *ResourceBuilder[T]) WithContainerRuntimeArgs(args ...string) *ResourceBuilder[T] {
	return rb.WithAnnotation(&model.ContainerRuntimeArgsAnnotation{Args: args})
}

// PublishAsConnectionString replaces the manifest entry with a value.v0
// carrying only the connection string.
func (rb *ResourceBuilder[T]) PublishAsConnectionString() *ResourceBuilder[T] {
	r := rb.resource
	return rb.WithManifestPublishingCallback(func(w model.ManifestWriter) error {
		e, ok, err := model.ConnectionStringExpression(r)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("resource %s has no connection string", r.Name())
		}
		w.WriteString("type", manifest.TypeValue)
		w.WriteString("connectionString", e.ValueExpression())
		return nil
	})
}

// splitRegistry separates a leading registry host, recognised by a dot, a
// colon or "localhost", from an image name.
func splitRegistry(image string) (registry, name string) {
	host, rest, found := strings.Cut(image, "/")
	if found && (strings.ContainsAny(host, ".:") || host == "localhost") {
		return host, rest
	}
	return "", image
}

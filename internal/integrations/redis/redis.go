// Package redis adds Redis caches, optionally fronted by a shared Redis
// Commander admin container in run mode.
package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/model"
)

const (
	Registry = "docker.io"
	Image    = "library/redis"
	Tag      = "7.4"

	// PrimaryEndpointName is the endpoint clients connect to.
	PrimaryEndpointName = "tcp"
	TargetPort          = 6379

	KindPersistence model.Kind = "redis-persistence"
)

// Resource is a Redis cache container.
type Resource struct {
	model.ContainerResource
	password *model.ParameterResource
}

// Password returns the parameter holding the cache password.
func (r *Resource) Password() *model.ParameterResource { return r.password }

// PrimaryEndpoint returns the client endpoint.
func (r *Resource) PrimaryEndpoint() *model.EndpointReference {
	return model.EndpointFor(r, PrimaryEndpointName)
}

// ConnectionStringExpression renders host:port,password=<password>.
func (r *Resource) ConnectionStringExpression() (*expr.ReferenceExpression, error) {
	ep := r.PrimaryEndpoint()
	var b expr.Builder
	b.AppendRef(ep.Host()).AppendLiteral(":").AppendRef(ep.Port())
	if r.password != nil {
		b.AppendLiteral(",password=").AppendRef(r.password)
	}
	return b.Build()
}

// PersistenceAnnotation configures RDB snapshots. Only the latest applies.
type PersistenceAnnotation struct {
	Interval    time.Duration
	KeysChanged int
}

func (*PersistenceAnnotation) Kind() model.Kind               { return KindPersistence }
func (*PersistenceAnnotation) Cardinality() model.Cardinality { return model.Singleton }

// Option configures AddRedis.
type Option func(*options)

type options struct {
	password *model.ParameterResource
}

// WithPassword uses p instead of a generated <name>-password parameter.
func WithPassword(p *model.ParameterResource) Option {
	return func(o *options) { o.password = p }
}

// AddRedis adds a Redis cache. A port of zero lets the allocator choose the
// host port.
func AddRedis(b *hosting.Builder, name string, port int, opts ...Option) *hosting.ResourceBuilder[*Resource] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.password == nil {
		o.password = hosting.AddGeneratedPassword(b, name+"-password").Resource()
	}

	r := &Resource{
		ContainerResource: model.ContainerResource{Base: model.NewBase(name)},
		password:          o.password,
	}

	var epOpts []hosting.EndpointOption
	if port != 0 {
		epOpts = append(epOpts, hosting.Port(port))
	}

	return hosting.Add(b, r).
		WithImage(Registry+"/"+Image, Tag).
		WithEndpoint(PrimaryEndpointName, TargetPort, epOpts...).
		WithArgsCallback(func(ac *model.ArgsContext) error {
			ac.AddString("--requirepass")
			ac.Add(r.password)
			if p, ok := model.Last[*PersistenceAnnotation](r); ok {
				ac.AddString("--save", strconv.Itoa(int(p.Interval/time.Second)), strconv.Itoa(p.KeysChanged))
			}
			return nil
		}).
		WithConnectionString(r.ConnectionStringExpression)
}

// WithPersistence snapshots the dataset every interval when at least
// keysChanged keys changed. A later call replaces an earlier one.
func WithPersistence(rb *hosting.ResourceBuilder[*Resource], interval time.Duration, keysChanged int) *hosting.ResourceBuilder[*Resource] {
	if interval < time.Second {
		return rb.Fail(fmt.Errorf("persistence interval %s is shorter than a second", interval))
	}
	return rb.WithAnnotation(&PersistenceAnnotation{Interval: interval, KeysChanged: keysChanged})
}

// WithDataVolume keeps /data in a named volume and turns on persistence
// unless it was configured already.
func WithDataVolume(rb *hosting.ResourceBuilder[*Resource], volume string, readOnly bool) *hosting.ResourceBuilder[*Resource] {
	if volume == "" {
		volume = rb.Name() + "-data"
	}
	rb.WithVolume(volume, "/data", readOnly)
	if !readOnly && !model.Has[*PersistenceAnnotation](rb.Resource()) {
		WithPersistence(rb, 60*time.Second, 1)
	}
	return rb
}

// WithDataBindMount keeps /data in a host directory.
func WithDataBindMount(rb *hosting.ResourceBuilder[*Resource], source string, readOnly bool) *hosting.ResourceBuilder[*Resource] {
	rb.WithBindMount(source, "/data", readOnly)
	if !readOnly && !model.Has[*PersistenceAnnotation](rb.Resource()) {
		WithPersistence(rb, 60*time.Second, 1)
	}
	return rb
}

// Package seq adds a Seq log server container.
package seq

import (
	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/model"
)

const (
	Registry = "docker.io"
	Image    = "datalust/seq"
	Tag      = "2024.3"

	// TargetPort serves both the UI and the ingestion API.
	TargetPort = 80
	DataPath   = "/data"
)

// Resource is a Seq server.
type Resource struct {
	model.ContainerResource
}

// PrimaryEndpoint returns the http endpoint.
func (r *Resource) PrimaryEndpoint() *model.EndpointReference {
	return model.EndpointFor(r, "http")
}

// ConnectionStringExpression is the server URL.
func (r *Resource) ConnectionStringExpression() (*expr.ReferenceExpression, error) {
	return expr.New(expr.Ref(r.PrimaryEndpoint().URL()))
}

// AddSeq adds a Seq server. A port of zero lets the allocator choose.
func AddSeq(b *hosting.Builder, name string, port int) *hosting.ResourceBuilder[*Resource] {
	r := &Resource{ContainerResource: model.ContainerResource{Base: model.NewBase(name)}}

	var opts []hosting.EndpointOption
	if port != 0 {
		opts = append(opts, hosting.Port(port))
	}
	return hosting.Add(b, r).
		WithImage(Registry+"/"+Image, Tag).
		WithHTTPEndpoint(TargetPort, opts...).
		WithEnvironment("ACCEPT_EULA", "Y").
		WithConnectionString(r.ConnectionStringExpression)
}

// WithDataVolume keeps the event store in a named volume, <name>-data by
// default.
func WithDataVolume(rb *hosting.ResourceBuilder[*Resource], volume string) *hosting.ResourceBuilder[*Resource] {
	if volume == "" {
		volume = rb.Name() + "-data"
	}
	return rb.WithVolume(volume, DataPath, false)
}

// WithDataBindMount keeps the event store in a host directory.
func WithDataBindMount(rb *hosting.ResourceBuilder[*Resource], source string) *hosting.ResourceBuilder[*Resource] {
	return rb.WithBindMount(source, DataPath, false)
}

// Package keycloak adds a Keycloak identity server running in development
// mode.
package keycloak

import (
	"errors"

	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/model"
)

const (
	Registry = "quay.io"
	Image    = "keycloak/keycloak"
	Tag      = "26.0"

	TargetPort      = 8080
	DefaultAdmin    = "admin"
	DataPath        = "/opt/keycloak/data"
	RealmImportPath = "/opt/keycloak/data/import"
)

var errEmptyImport = errors.New("realm import directory is empty")

// Resource is a Keycloak server.
type Resource struct {
	model.ContainerResource
	admin    *model.ParameterResource
	password *model.ParameterResource
}

// Admin returns the parameter holding the admin user name.
func (r *Resource) Admin() *model.ParameterResource { return r.admin }

// AdminPassword returns the parameter holding the admin password.
func (r *Resource) AdminPassword() *model.ParameterResource { return r.password }

// PrimaryEndpoint returns the http endpoint.
func (r *Resource) PrimaryEndpoint() *model.EndpointReference {
	return model.EndpointFor(r, "http")
}

// Option configures AddKeycloak.
type Option func(*options)

type options struct {
	admin    *model.ParameterResource
	password *model.ParameterResource
}

// WithAdmin reads the admin user name from p.
func WithAdmin(p *model.ParameterResource) Option {
	return func(o *options) { o.admin = p }
}

// WithAdminPassword reads the admin password from p instead of a generated
// <name>-password parameter.
func WithAdminPassword(p *model.ParameterResource) Option {
	return func(o *options) { o.password = p }
}

// AddKeycloak adds a Keycloak server started with start-dev. Without
// options the admin user is "admin" with a generated password.
func AddKeycloak(b *hosting.Builder, name string, port int, opts ...Option) *hosting.ResourceBuilder[*Resource] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.admin == nil {
		o.admin = hosting.AddParameterWithDefault(b, name+"-admin", false, model.ParameterDefault{Value: DefaultAdmin}).Resource()
	}
	if o.password == nil {
		o.password = hosting.AddGeneratedPassword(b, name+"-password").Resource()
	}

	r := &Resource{
		ContainerResource: model.ContainerResource{Base: model.NewBase(name)},
		admin:             o.admin,
		password:          o.password,
	}

	var epOpts []hosting.EndpointOption
	if port != 0 {
		epOpts = append(epOpts, hosting.Port(port))
	}
	return hosting.Add(b, r).
		WithImage(Registry+"/"+Image, Tag).
		WithHTTPEndpoint(TargetPort, epOpts...).
		WithArgs("start-dev").
		WithEnvironmentExpr("KEYCLOAK_ADMIN", r.admin).
		WithEnvironmentExpr("KEYCLOAK_ADMIN_PASSWORD", r.password)
}

// WithDataVolume keeps the server state in a named volume, <name>-data by
// default.
func WithDataVolume(rb *hosting.ResourceBuilder[*Resource], volume string) *hosting.ResourceBuilder[*Resource] {
	if volume == "" {
		volume = rb.Name() + "-data"
	}
	return rb.WithVolume(volume, DataPath, false)
}

// WithRealmImport mounts dir read-only as the import directory and imports
// its realms on start.
func WithRealmImport(rb *hosting.ResourceBuilder[*Resource], dir string) *hosting.ResourceBuilder[*Resource] {
	if dir == "" {
		return rb.Fail(errEmptyImport)
	}
	return rb.WithBindMount(dir, RealmImportPath, true).WithArgs("--import-realm")
}

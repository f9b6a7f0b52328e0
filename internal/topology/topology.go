// Package topology compiles a declarative apphost.pkl topology into builder
// calls.
package topology

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/integrations/storage"
	"github.com/picklr-io/apphost/internal/ir"
	"github.com/picklr-io/apphost/internal/model"
)

// Resource kinds accepted in a topology.
const (
	KindContainer  = "container"
	KindExecutable = "executable"
	KindRedis      = "redis"
	KindSeq        = "seq"
	KindKeycloak   = "keycloak"
	KindStorage    = "storage"
)

// Option configures Compile.
type Option func(*compiler)

// WithBaseDir resolves relative bind mounts, realm imports and working
// directories against dir, normally the directory of apphost.pkl.
func WithBaseDir(dir string) Option {
	return func(c *compiler) { c.baseDir = dir }
}

// WithStorageProvisioner provisions storage resources that do not run as
// an emulator.
func WithStorageProvisioner(p storage.Provisioner) Option {
	return func(c *compiler) { c.provisioner = p }
}

type compiler struct {
	b           *hosting.Builder
	baseDir     string
	provisioner storage.Provisioner

	resources map[string]model.Resource
	params    map[string]*model.ParameterResource
}

// decorator applies the declarative settings of one resource through its
// typed builder.
type decorator interface {
	endpoints(specs []*ir.Endpoint)
	decorate(c *compiler, spec *ir.ResourceSpec) error
}

// Compile declares every parameter and resource of app on b. Resources are
// created first so env, args, references and waits may name resources
// declared later in the file.
func Compile(b *hosting.Builder, app *ir.AppHost, opts ...Option) error {
	if app == nil {
		return fmt.Errorf("nil topology")
	}
	c := &compiler{
		b:         b,
		resources: make(map[string]model.Resource),
		params:    make(map[string]*model.ParameterResource),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, p := range app.Parameters {
		c.addParameter(p)
	}

	var errs []error
	decorators := make([]decorator, len(app.Resources))
	for i, spec := range app.Resources {
		d, err := c.create(spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d.endpoints(spec.Endpoints)
		decorators[i] = d
	}

	for i, spec := range app.Resources {
		if decorators[i] == nil {
			continue
		}
		if err := decorators[i].decorate(c, spec); err != nil {
			errs = append(errs, fmt.Errorf("resource %s: %w", spec.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *compiler) addParameter(p *ir.Parameter) {
	var rb *hosting.ResourceBuilder[*model.ParameterResource]
	switch {
	case p.ConnectionString:
		rb = hosting.AddConnectionString(c.b, p.Name)
	case p.Generate != nil:
		rb = hosting.AddParameterWithDefault(c.b, p.Name, true, model.ParameterDefault{MinLength: *p.Generate})
	case p.Value != nil:
		rb = hosting.AddParameterWithDefault(c.b, p.Name, p.Secret, model.ParameterDefault{Value: *p.Value})
	default:
		rb = hosting.Add(c.b, model.NewParameter(p.Name, p.Secret))
	}
	c.remember(rb.Resource())
	if _, ok := c.params[p.Name]; !ok {
		c.params[p.Name] = rb.Resource()
	}
}

// remember indexes r by name. The first resource with a name wins; the
// builder reports the duplicate.
func (c *compiler) remember(r model.Resource) {
	if _, ok := c.resources[r.Name()]; !ok {
		c.resources[r.Name()] = r
	}
}

func (c *compiler) lookup(name string) (model.Resource, error) {
	r, ok := c.resources[name]
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", name)
	}
	return r, nil
}

func (c *compiler) parameter(name string) (*model.ParameterResource, error) {
	p, ok := c.params[name]
	if !ok {
		return nil, fmt.Errorf("unknown parameter %q", name)
	}
	return p, nil
}

func (c *compiler) path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// resolve maps a placeholder in an env or args template to its provider.
func (c *compiler) resolve(ph expr.Placeholder) (expr.ValueProvider, error) {
	r, err := c.lookup(ph.Resource)
	if err != nil {
		return nil, err
	}
	switch ph.Kind {
	case expr.KindValue:
		p, ok := r.(*model.ParameterResource)
		if !ok {
			return nil, fmt.Errorf("%s is not a parameter", ph.Resource)
		}
		return p, nil
	case expr.KindConnectionString:
		if !model.HasConnectionString(r) {
			return nil, fmt.Errorf("%s has no connection string", ph.Resource)
		}
		return model.ConnectionStringOf(r), nil
	case expr.KindOutput:
		return model.OutputOf(r, ph.Output), nil
	}

	ep := model.EndpointFor(r, ph.Endpoint)
	if !ep.Exists() {
		return nil, fmt.Errorf("%s has no endpoint %q", ph.Resource, ph.Endpoint)
	}
	switch ph.Kind {
	case expr.KindEndpointHost:
		return ep.Host(), nil
	case expr.KindEndpointPort:
		return ep.Port(), nil
	}
	return ep.URL(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package topology

import (
	"fmt"
	"strconv"
	"time"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/integrations/keycloak"
	"github.com/picklr-io/apphost/internal/integrations/redis"
	"github.com/picklr-io/apphost/internal/integrations/seq"
	"github.com/picklr-io/apphost/internal/integrations/storage"
	"github.com/picklr-io/apphost/internal/ir"
	"github.com/picklr-io/apphost/internal/model"
)

// allowedOptions lists the options each kind understands.
var allowedOptions = map[string][]string{
	KindContainer:  nil,
	KindExecutable: nil,
	KindRedis:      {"password", "dataVolume", "persistence", "persistenceKeys", "commander"},
	KindSeq:        {"dataVolume"},
	KindKeycloak:   {"admin", "password", "dataVolume", "realmImport"},
	KindStorage:    {"emulator", "blobs", "queues", "tables", "sku"},
}

func checkOptions(spec *ir.ResourceSpec) error {
	allowed, ok := allowedOptions[spec.Kind]
	if !ok {
		return fmt.Errorf("resource %s: unknown kind %q", spec.Name, spec.Kind)
	}
	for key := range spec.Options {
		known := false
		for _, a := range allowed {
			if a == key {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("resource %s: option %q is not supported by kind %s", spec.Name, key, spec.Kind)
		}
	}
	return nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// boolOption reads a boolean option. A missing option is false.
func boolOption(spec *ir.ResourceSpec, key string) (bool, error) {
	v, ok := spec.Options[key]
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("option %s: %w", key, err)
	}
	return b, nil
}

// create declares the resource itself. Integration options that only
// depend on parameters are applied here; everything naming other resources
// waits for decorate.
func (c *compiler) create(spec *ir.ResourceSpec) (decorator, error) {
	if err := checkOptions(spec); err != nil {
		return nil, err
	}
	port := deref(spec.Port)

	switch spec.Kind {
	case KindContainer:
		if spec.Image == nil {
			return nil, fmt.Errorf("container %s has no image", spec.Name)
		}
		rb := hosting.AddContainer(c.b, spec.Name, *spec.Image, deref(spec.Tag))
		c.remember(rb.Resource())
		return typed[*model.ContainerResource]{rb: rb}, nil

	case KindExecutable:
		if spec.Command == nil {
			return nil, fmt.Errorf("executable %s has no command", spec.Name)
		}
		rb := hosting.AddExecutable(c.b, spec.Name, *spec.Command, c.path(deref(spec.WorkingDir)))
		c.remember(rb.Resource())
		return typed[*model.ExecutableResource]{rb: rb}, nil

	case KindRedis:
		return c.createRedis(spec, port)

	case KindSeq:
		rb := seq.AddSeq(c.b, spec.Name, port)
		c.remember(rb.Resource())
		if v, ok := spec.Options["dataVolume"]; ok {
			seq.WithDataVolume(rb, volumeName(v))
		}
		return typed[*seq.Resource]{rb: rb}, nil

	case KindKeycloak:
		return c.createKeycloak(spec, port)

	case KindStorage:
		return c.createStorage(spec)
	}
	return nil, fmt.Errorf("resource %s: unknown kind %q", spec.Name, spec.Kind)
}

// volumeName treats "true" as the default volume name.
func volumeName(v string) string {
	if b, err := strconv.ParseBool(v); err == nil && b {
		return ""
	}
	return v
}

func (c *compiler) createRedis(spec *ir.ResourceSpec, port int) (decorator, error) {
	var opts []redis.Option
	if name, ok := spec.Options["password"]; ok {
		p, err := c.parameter(name)
		if err != nil {
			return nil, fmt.Errorf("redis %s: %w", spec.Name, err)
		}
		opts = append(opts, redis.WithPassword(p))
	}
	rb := redis.AddRedis(c.b, spec.Name, port, opts...)
	c.remember(rb.Resource())
	c.rememberParams()

	if v, ok := spec.Options["persistence"]; ok {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("redis %s: option persistence: %w", spec.Name, err)
		}
		keys := 1
		if k, ok := spec.Options["persistenceKeys"]; ok {
			if keys, err = strconv.Atoi(k); err != nil {
				return nil, fmt.Errorf("redis %s: option persistenceKeys: %w", spec.Name, err)
			}
		}
		redis.WithPersistence(rb, interval, keys)
	}
	if v, ok := spec.Options["dataVolume"]; ok {
		redis.WithDataVolume(rb, volumeName(v), false)
	}
	commander, err := boolOption(spec, "commander")
	if err != nil {
		return nil, fmt.Errorf("redis %s: %w", spec.Name, err)
	}
	if commander {
		redis.WithRedisCommander(rb, 0)
		c.rememberAll()
	}
	return typed[*redis.Resource]{rb: rb}, nil
}

func (c *compiler) createKeycloak(spec *ir.ResourceSpec, port int) (decorator, error) {
	var opts []keycloak.Option
	if name, ok := spec.Options["admin"]; ok {
		p, err := c.parameter(name)
		if err != nil {
			return nil, fmt.Errorf("keycloak %s: %w", spec.Name, err)
		}
		opts = append(opts, keycloak.WithAdmin(p))
	}
	if name, ok := spec.Options["password"]; ok {
		p, err := c.parameter(name)
		if err != nil {
			return nil, fmt.Errorf("keycloak %s: %w", spec.Name, err)
		}
		opts = append(opts, keycloak.WithAdminPassword(p))
	}
	rb := keycloak.AddKeycloak(c.b, spec.Name, port, opts...)
	c.remember(rb.Resource())
	c.rememberParams()

	if v, ok := spec.Options["dataVolume"]; ok {
		keycloak.WithDataVolume(rb, volumeName(v))
	}
	if dir, ok := spec.Options["realmImport"]; ok {
		keycloak.WithRealmImport(rb, c.path(dir))
	}
	return typed[*keycloak.Resource]{rb: rb}, nil
}

func (c *compiler) createStorage(spec *ir.ResourceSpec) (decorator, error) {
	var opts []storage.Option
	if c.provisioner != nil {
		opts = append(opts, storage.WithProvisioner(c.provisioner))
	}
	rb := storage.AddStorage(c.b, spec.Name, opts...)
	c.remember(rb.Resource())

	if sku, ok := spec.Options["sku"]; ok {
		storage.ConfigureTemplate(rb, func(t *storage.Template) error {
			t.SKU = sku
			return nil
		})
	}
	emulator, err := boolOption(spec, "emulator")
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", spec.Name, err)
	}
	if emulator {
		storage.RunAsEmulator(rb)
		c.rememberAll()
	}
	services := []struct {
		option string
		add    func(*hosting.ResourceBuilder[*storage.Resource], string) *hosting.ResourceBuilder[*storage.ServiceResource]
	}{
		{"blobs", storage.AddBlobs},
		{"queues", storage.AddQueues},
		{"tables", storage.AddTables},
	}
	for _, svc := range services {
		if name, ok := spec.Options[svc.option]; ok {
			c.remember(svc.add(rb, name).Resource())
		}
	}
	return typed[*storage.Resource]{rb: rb}, nil
}

// rememberParams indexes parameters an integration declared on its own,
// such as <name>-password.
func (c *compiler) rememberParams() {
	for _, r := range c.b.Resources() {
		if p, ok := r.(*model.ParameterResource); ok {
			c.remember(p)
			if _, ok := c.params[p.Name()]; !ok {
				c.params[p.Name()] = p
			}
		}
	}
}

// rememberAll indexes resources an integration added implicitly, such as
// the redis commander or a storage emulator.
func (c *compiler) rememberAll() {
	for _, r := range c.b.Resources() {
		c.remember(r)
	}
}

// typed applies declarative settings through a typed resource builder.
type typed[T model.Resource] struct {
	rb *hosting.ResourceBuilder[T]
}

func (d typed[T]) endpoints(specs []*ir.Endpoint) {
	for _, ep := range specs {
		var opts []hosting.EndpointOption
		if ep.Scheme != nil {
			opts = append(opts, hosting.Scheme(*ep.Scheme))
		}
		if ep.Port != nil {
			opts = append(opts, hosting.Port(*ep.Port))
		}
		if ep.External {
			opts = append(opts, hosting.External())
		}
		d.rb.WithEndpoint(ep.Name, deref(ep.TargetPort), opts...)
	}
}

func (d typed[T]) decorate(c *compiler, spec *ir.ResourceSpec) error {
	rb := d.rb
	if spec.Kind != KindContainer && spec.Image != nil {
		if _, ok := model.AsContainer(rb.Resource()); !ok {
			return fmt.Errorf("kind %s has no image", spec.Kind)
		}
		tag := deref(spec.Tag)
		if tag == "" {
			if img, err := model.Image(rb.Resource()); err == nil {
				tag = img.Tag
			}
		}
		rb.WithImage(*spec.Image, tag)
	}

	if spec.Parent != nil {
		parent, err := c.lookup(*spec.Parent)
		if err != nil {
			return fmt.Errorf("parent: %w", err)
		}
		rb.WithParent(parent)
	}

	for _, key := range sortedKeys(spec.Env) {
		e, err := expr.Parse(spec.Env[key], c.resolve)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		rb.WithEnvironmentExpr(key, e)
	}

	if len(spec.Args) > 0 {
		args := make([]expr.ValueProvider, 0, len(spec.Args))
		for i, a := range spec.Args {
			e, err := expr.Parse(a, c.resolve)
			if err != nil {
				return fmt.Errorf("args[%d]: %w", i, err)
			}
			args = append(args, e)
		}
		rb.WithArgsExpr(args...)
	}

	for _, name := range spec.References {
		r, err := c.lookup(name)
		if err != nil {
			return fmt.Errorf("reference: %w", err)
		}
		rb.WithReference(r)
	}
	for _, name := range spec.WaitFor {
		r, err := c.lookup(name)
		if err != nil {
			return fmt.Errorf("waitFor: %w", err)
		}
		rb.WaitFor(r)
	}

	for _, v := range spec.Volumes {
		if v.Bind {
			rb.WithBindMount(c.path(v.Source), v.Target, v.ReadOnly)
		} else {
			rb.WithVolume(v.Source, v.Target, v.ReadOnly)
		}
	}
	return nil
}

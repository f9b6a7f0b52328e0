package manifest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/model"
)

// Context writes one resource entry. It implements model.ManifestWriter.
type Context struct {
	ctx       context.Context
	exec      *model.ExecutionContext
	resource  model.Resource
	outputDir string
	obj       *Object
	// err is shared with child contexts and keeps the first invalid value.
	err *error
}

var _ model.ManifestWriter = (*Context)(nil)

func newContext(ctx context.Context, exec *model.ExecutionContext, r model.Resource, outputDir string) *Context {
	return &Context{ctx: ctx, exec: exec, resource: r, outputDir: outputDir, obj: NewObject(), err: new(error)}
}

func (c *Context) child() *Context {
	return &Context{ctx: c.ctx, exec: c.exec, resource: c.resource, outputDir: c.outputDir, obj: NewObject(), err: c.err}
}

// Err returns the first invalid value written through this context or any
// of its children.
func (c *Context) Err() error { return *c.err }

func (c *Context) fail(err error) {
	if *c.err == nil {
		*c.err = err
	}
}

func (c *Context) Context() context.Context           { return c.ctx }
func (c *Context) Resource() model.Resource           { return c.resource }
func (c *Context) Execution() *model.ExecutionContext { return c.exec }
func (c *Context) OutputDir() string                  { return c.outputDir }

// Object returns the entry written so far.
func (c *Context) Object() *Object { return c.obj }

func (c *Context) WriteString(key, value string)    { c.obj.Set(key, value) }
func (c *Context) WriteBool(key string, value bool) { c.obj.Set(key, value) }
func (c *Context) WriteInt(key string, value int)   { c.obj.Set(key, value) }

// WriteExpr writes the placeholder form of v. An invalid placeholder is not
// written and fails the entry.
func (c *Context) WriteExpr(key string, v expr.ValueProvider) {
	if err := expr.Check(v); err != nil {
		c.fail(fmt.Errorf("invalid value for %s: %w", key, err))
		return
	}
	c.obj.Set(key, v.ValueExpression())
}

func (c *Context) WriteStrings(key string, values []string) {
	if values == nil {
		values = []string{}
	}
	c.obj.Set(key, values)
}

func (c *Context) WriteObject(key string, fn func(model.ManifestWriter) error) error {
	sub := c.child()
	if err := fn(sub); err != nil {
		return err
	}
	c.obj.Set(key, sub.obj)
	return nil
}

func (c *Context) WriteArray(key string, n int, fn func(i int, w model.ManifestWriter) error) error {
	items := make([]*Object, 0, n)
	for i := 0; i < n; i++ {
		sub := c.child()
		if err := fn(i, sub); err != nil {
			return err
		}
		items = append(items, sub.obj)
	}
	c.obj.Set(key, items)
	return nil
}

// RelativePath returns path relative to the manifest directory.
func (c *Context) RelativePath(path string) string {
	if c.outputDir == "" || !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(c.outputDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (c *Context) WriteDefault() error {
	r := c.resource
	switch {
	case isParameter(r):
		return c.writeParameter(r.(*model.ParameterResource))
	case isContainer(r):
		return c.writeContainer()
	case isExecutable(r):
		return c.writeExecutable()
	case model.HasConnectionString(r):
		c.WriteString("type", TypeValue)
		return c.writeConnectionString()
	}
	return fmt.Errorf("resource %s (%T) has no default manifest entry", r.Name(), r)
}

const (
	TypeContainer     = "container.v0"
	TypeExecutable    = "executable.v0"
	TypeParameter     = "parameter.v0"
	TypeValue         = "value.v0"
	TypeCloudTemplate = "cloud.template.v0"
	TypeCloudRoles    = "cloud.roles.v0"
)

func (c *Context) writeConnectionString() error {
	e, ok, err := model.ConnectionStringExpression(c.resource)
	if err != nil || !ok {
		return err
	}
	c.WriteString("connectionString", e.ValueExpression())
	return nil
}

func (c *Context) writeParameter(p *model.ParameterResource) error {
	c.WriteString("type", TypeParameter)
	if p.ConnectionString {
		c.WriteExpr("connectionString", p)
	}
	c.WriteString("value", fmt.Sprintf("{%s.inputs.value}", p.Name()))
	return c.WriteObject("inputs", func(w model.ManifestWriter) error {
		return w.WriteObject("value", func(w model.ManifestWriter) error {
			w.WriteString("type", "string")
			if p.Secret {
				w.WriteBool("secret", true)
			}
			switch {
			case p.Default.Generated():
				return w.WriteObject("default", func(w model.ManifestWriter) error {
					return w.WriteObject("generate", func(w model.ManifestWriter) error {
						w.WriteInt("minLength", p.Default.MinLength)
						return nil
					})
				})
			case p.Default != nil:
				return w.WriteObject("default", func(w model.ManifestWriter) error {
					w.WriteString("value", p.Default.Value)
					return nil
				})
			}
			return nil
		})
	})
}

func (c *Context) writeContainer() error {
	ct, _ := model.AsContainer(c.resource)
	img, err := model.Image(c.resource)
	if err != nil {
		return err
	}
	c.WriteString("type", TypeContainer)
	if err := c.writeConnectionString(); err != nil {
		return err
	}
	c.WriteString("image", img.Reference())
	if ct.Entrypoint != "" {
		c.WriteString("entrypoint", ct.Entrypoint)
	}
	if err := c.writeArgs(); err != nil {
		return err
	}

	var volumes, binds []*model.MountAnnotation
	for _, m := range model.All[*model.MountAnnotation](c.resource) {
		if m.Type == model.MountBind {
			binds = append(binds, m)
		} else {
			volumes = append(volumes, m)
		}
	}
	if len(volumes) > 0 {
		if err := c.WriteArray("volumes", len(volumes), func(i int, w model.ManifestWriter) error {
			w.WriteString("name", volumes[i].Source)
			w.WriteString("target", volumes[i].Target)
			w.WriteBool("readOnly", volumes[i].ReadOnly)
			return nil
		}); err != nil {
			return err
		}
	}
	if len(binds) > 0 {
		if err := c.WriteArray("bindMounts", len(binds), func(i int, w model.ManifestWriter) error {
			w.WriteString("source", c.RelativePath(binds[i].Source))
			w.WriteString("target", binds[i].Target)
			w.WriteBool("readOnly", binds[i].ReadOnly)
			return nil
		}); err != nil {
			return err
		}
	}

	if err := c.writeEnv(); err != nil {
		return err
	}
	return c.writeBindings()
}

func (c *Context) writeExecutable() error {
	e, _ := model.AsExecutable(c.resource)
	c.WriteString("type", TypeExecutable)
	if err := c.writeConnectionString(); err != nil {
		return err
	}
	c.WriteString("workingDirectory", c.RelativePath(e.WorkingDir))
	c.WriteString("command", e.Command)
	if err := c.writeArgs(); err != nil {
		return err
	}
	if err := c.writeEnv(); err != nil {
		return err
	}
	return c.writeBindings()
}

func (c *Context) writeArgs() error {
	args, err := model.EvaluateArgs(c.ctx, c.exec, c.resource)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	out := make([]string, 0, len(args))
	for _, a := range args {
		out = append(out, a.ValueExpression())
	}
	c.WriteStrings("args", out)
	return nil
}

func (c *Context) writeEnv() error {
	env, err := model.EvaluateEnvironment(c.ctx, c.exec, c.resource)
	if err != nil {
		return err
	}
	if env.Len() == 0 {
		return nil
	}
	return c.WriteObject("env", func(w model.ManifestWriter) error {
		for _, k := range env.Keys() {
			v, _ := env.Get(k)
			w.WriteExpr(k, v)
		}
		return nil
	})
}

func (c *Context) writeBindings() error {
	eps := model.Endpoints(c.resource)
	if len(eps) == 0 {
		return nil
	}
	return c.WriteObject("bindings", func(w model.ManifestWriter) error {
		for _, ep := range eps {
			if err := w.WriteObject(ep.Name, func(w model.ManifestWriter) error {
				w.WriteString("scheme", orDefault(ep.Scheme, "tcp"))
				w.WriteString("protocol", orDefault(ep.Protocol, "tcp"))
				w.WriteString("transport", orDefault(ep.Transport, orDefault(ep.Scheme, "tcp")))
				if ep.Port != nil {
					w.WriteInt("port", *ep.Port)
				}
				if ep.TargetPort != 0 {
					w.WriteInt("targetPort", ep.TargetPort)
				}
				if ep.External {
					w.WriteBool("external", true)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func isParameter(r model.Resource) bool {
	_, ok := r.(*model.ParameterResource)
	return ok
}

func isContainer(r model.Resource) bool {
	_, ok := model.AsContainer(r)
	return ok
}

func isExecutable(r model.Resource) bool {
	_, ok := model.AsExecutable(r)
	return ok
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

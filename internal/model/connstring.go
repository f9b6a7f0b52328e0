package model

import (
	"context"
	"fmt"

	"github.com/picklr-io/apphost/internal/expr"
)

// ConnectionStringAnnotation gives a resource a connection string. The
// expression is built lazily so it sees annotations added after it.
type ConnectionStringAnnotation struct {
	Expression func() (*expr.ReferenceExpression, error)
}

func (*ConnectionStringAnnotation) Kind() Kind               { return KindConnectionString }
func (*ConnectionStringAnnotation) Cardinality() Cardinality { return Singleton }

// ConnectionStringExpression returns r's connection string expression.
// ok is false when r has none.
func ConnectionStringExpression(r Resource) (e *expr.ReferenceExpression, ok bool, err error) {
	a, found := Last[*ConnectionStringAnnotation](r)
	if !found || a.Expression == nil {
		return nil, false, nil
	}
	e, err = a.Expression()
	if err != nil {
		return nil, true, fmt.Errorf("failed to build connection string of %s: %w", r.Name(), err)
	}
	return e, true, nil
}

// HasConnectionString reports whether r carries a connection string.
func HasConnectionString(r Resource) bool {
	return Has[*ConnectionStringAnnotation](r)
}

// ConnectionStringReference is the {name.connectionString} provider. It is
// what consumers reference so the manifest stays symbolic.
type ConnectionStringReference struct {
	resource Resource
}

// ConnectionStringOf returns the connection string provider of r.
func ConnectionStringOf(r Resource) *ConnectionStringReference {
	return &ConnectionStringReference{resource: r}
}

// Resource returns the referenced resource.
func (c *ConnectionStringReference) Resource() Resource { return c.resource }

func (c *ConnectionStringReference) ValueExpression() string {
	return expr.Placeholder{Resource: c.resource.Name(), Kind: expr.KindConnectionString}.String()
}

func (c *ConnectionStringReference) Value(ctx context.Context) (string, error) {
	e, ok, err := ConnectionStringExpression(c.resource)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &expr.MissingValueError{
			Placeholder: c.ValueExpression(),
			Reason:      fmt.Sprintf("resource %s has no connection string", c.resource.Name()),
		}
	}
	return e.Resolve(ctx)
}

// OutputReference is a {name.outputs.key} value produced by provisioning.
type OutputReference struct {
	resource Resource
	key      string
}

// OutputOf returns a reference to output key of r.
func OutputOf(r Resource, key string) *OutputReference {
	return &OutputReference{resource: r, key: key}
}

// OutputsAnnotation holds provisioning outputs of a resource. The values are
// filled in by a provisioner after the model is built.
type OutputsAnnotation struct {
	values map[string]string
}

func (*OutputsAnnotation) Kind() Kind               { return KindOutputs }
func (*OutputsAnnotation) Cardinality() Cardinality { return Singleton }

// Set records an output value.
func (o *OutputsAnnotation) Set(key, value string) {
	if o.values == nil {
		o.values = make(map[string]string)
	}
	o.values[key] = value
}

// Get returns an output value.
func (o *OutputsAnnotation) Get(key string) (string, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *OutputReference) ValueExpression() string {
	return expr.Placeholder{Resource: o.resource.Name(), Kind: expr.KindOutput, Output: o.key}.String()
}

func (o *OutputReference) Value(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if out, ok := Last[*OutputsAnnotation](o.resource); ok {
		if v, ok := out.Get(o.key); ok {
			return v, nil
		}
	}
	return "", &expr.MissingValueError{Placeholder: o.ValueExpression(), Reason: "resource not provisioned"}
}

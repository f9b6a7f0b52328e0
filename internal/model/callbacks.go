package model

import (
	"context"
	"fmt"

	"github.com/picklr-io/apphost/internal/expr"
)

// EnvSet is an ordered set of environment variables. Setting an existing key
// replaces its value and keeps its position.
type EnvSet struct {
	keys   []string
	values map[string]expr.ValueProvider
	err    error
}

// NewEnvSet returns an empty set.
func NewEnvSet() *EnvSet {
	return &EnvSet{values: make(map[string]expr.ValueProvider)}
}

// Set assigns key to v. A provider whose placeholder form is invalid is
// not stored; the first such error is reported by Err.
func (e *EnvSet) Set(key string, v expr.ValueProvider) {
	if err := expr.Check(v); err != nil {
		if e.err == nil {
			e.err = fmt.Errorf("invalid value for env %s: %w", key, err)
		}
		return
	}
	if _, ok := e.values[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = v
}

// SetString assigns key to a literal.
func (e *EnvSet) SetString(key, value string) {
	e.Set(key, expr.String(value))
}

// Get returns the provider for key.
func (e *EnvSet) Get(key string) (expr.ValueProvider, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (e *EnvSet) Keys() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

// Err returns the first invalid value passed to Set.
func (e *EnvSet) Err() error { return e.err }

// Len returns the number of variables.
func (e *EnvSet) Len() int { return len(e.keys) }

// EnvVar is one resolved environment variable.
type EnvVar struct {
	Name  string
	Value string
}

// Resolve resolves every value in key order.
func (e *EnvSet) Resolve(ctx context.Context) ([]EnvVar, error) {
	out := make([]EnvVar, 0, len(e.keys))
	for _, k := range e.keys {
		v, err := e.values[k].Value(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve env %s: %w", k, err)
		}
		out = append(out, EnvVar{Name: k, Value: v})
	}
	return out, nil
}

// EnvironmentContext is passed to environment callbacks.
type EnvironmentContext struct {
	Context   context.Context
	Execution *ExecutionContext
	Resource  Resource
	Env       *EnvSet
}

// EnvironmentCallbackAnnotation contributes environment variables.
type EnvironmentCallbackAnnotation struct {
	Callback func(*EnvironmentContext) error
}

func (*EnvironmentCallbackAnnotation) Kind() Kind               { return KindEnvironmentCallback }
func (*EnvironmentCallbackAnnotation) Cardinality() Cardinality { return Multi }

// ArgsContext is passed to argument callbacks.
type ArgsContext struct {
	Context   context.Context
	Execution *ExecutionContext
	Resource  Resource
	Args      []expr.ValueProvider

	err error
}

// Add appends argument providers. Providers with an invalid placeholder form
// are dropped and fail the evaluation.
func (a *ArgsContext) Add(args ...expr.ValueProvider) {
	for _, v := range args {
		if err := expr.Check(v); err != nil {
			if a.err == nil {
				a.err = fmt.Errorf("invalid arg %d: %w", len(a.Args), err)
			}
			continue
		}
		a.Args = append(a.Args, v)
	}
}

// AddString appends literal arguments.
func (a *ArgsContext) AddString(args ...string) {
	for _, s := range args {
		a.Args = append(a.Args, expr.String(s))
	}
}

// ArgsCallbackAnnotation contributes command-line arguments.
type ArgsCallbackAnnotation struct {
	Callback func(*ArgsContext) error
}

func (*ArgsCallbackAnnotation) Kind() Kind               { return KindArgsCallback }
func (*ArgsCallbackAnnotation) Cardinality() Cardinality { return Multi }

// EvaluateEnvironment runs r's environment callbacks in annotation order.
func EvaluateEnvironment(ctx context.Context, exec *ExecutionContext, r Resource) (*EnvSet, error) {
	ec := &EnvironmentContext{Context: ctx, Execution: exec, Resource: r, Env: NewEnvSet()}
	for _, cb := range All[*EnvironmentCallbackAnnotation](r) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := cb.Callback(ec); err != nil {
			return nil, fmt.Errorf("failed to evaluate environment of %s: %w", r.Name(), err)
		}
	}
	if err := ec.Env.Err(); err != nil {
		return nil, fmt.Errorf("failed to evaluate environment of %s: %w", r.Name(), err)
	}
	return ec.Env, nil
}

// EvaluateArgs runs r's argument callbacks in annotation order.
func EvaluateArgs(ctx context.Context, exec *ExecutionContext, r Resource) ([]expr.ValueProvider, error) {
	ac := &ArgsContext{Context: ctx, Execution: exec, Resource: r}
	for _, cb := range All[*ArgsCallbackAnnotation](r) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := cb.Callback(ac); err != nil {
			return nil, fmt.Errorf("failed to evaluate args of %s: %w", r.Name(), err)
		}
	}
	if ac.err != nil {
		return nil, fmt.Errorf("failed to evaluate args of %s: %w", r.Name(), ac.err)
	}
	return ac.Args, nil
}

// ResolveArgs resolves argument providers in order.
func ResolveArgs(ctx context.Context, args []expr.ValueProvider) ([]string, error) {
	out := make([]string, 0, len(args))
	for i, a := range args {
		v, err := a.Value(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve arg %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

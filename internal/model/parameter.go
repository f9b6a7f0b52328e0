package model

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/picklr-io/apphost/internal/expr"
)

// ValueSource looks up externally supplied parameter values. Absence is
// reported with ok == false, never as an error.
type ValueSource interface {
	Lookup(ctx context.Context, name string) (value string, ok bool, err error)
}

// ValueSaver persists generated values so later runs see the same value.
type ValueSaver interface {
	Save(ctx context.Context, name, value string) error
}

// ParameterDefault describes how a parameter gets a value when no source
// supplies one.
type ParameterDefault struct {
	// Value is a constant default.
	Value string
	// MinLength > 0 requests a generated random value of that length.
	MinLength int
}

// Generated reports whether the default is produced at runtime.
func (d *ParameterDefault) Generated() bool {
	return d != nil && d.MinLength > 0
}

// ParameterResource is an externally supplied value, optionally secret.
type ParameterResource struct {
	Base
	Secret bool
	// ConnectionString marks parameters declared with AddConnectionString.
	ConnectionString bool
	Default          *ParameterDefault

	mu     sync.Mutex
	source ValueSource
	saver  ValueSaver
	cached *string
}

// NewParameter returns a parameter resource.
func NewParameter(name string, secret bool) *ParameterResource {
	return &ParameterResource{Base: NewBase(name), Secret: secret}
}

// Bind sets the stores the parameter reads from and generated values are
// written to. Either may be nil.
func (p *ParameterResource) Bind(source ValueSource, saver ValueSaver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = source
	p.saver = saver
}

// ValueExpression returns {name.value}.
func (p *ParameterResource) ValueExpression() string {
	return expr.Placeholder{Resource: p.Name(), Kind: expr.KindValue}.String()
}

// Value returns the parameter value. Sources are consulted first, then the
// default. A generated default is produced once, saved and memoized.
func (p *ParameterResource) Value(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return *p.cached, nil
	}

	if p.source != nil {
		v, ok, err := p.source.Lookup(ctx, p.configKey())
		if err != nil {
			return "", fmt.Errorf("failed to look up parameter %s: %w", p.Name(), err)
		}
		if ok {
			p.cached = &v
			return v, nil
		}
	}

	switch {
	case p.Default.Generated():
		v, err := GeneratePassword(p.Default.MinLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate value for %s: %w", p.Name(), err)
		}
		if p.saver != nil {
			if err := p.saver.Save(ctx, p.configKey(), v); err != nil {
				return "", fmt.Errorf("failed to save generated value for %s: %w", p.Name(), err)
			}
		}
		p.cached = &v
		return v, nil
	case p.Default != nil:
		v := p.Default.Value
		p.cached = &v
		return v, nil
	}

	return "", &expr.MissingValueError{
		Placeholder: p.ValueExpression(),
		Reason:      fmt.Sprintf("parameter %s has no configured value", p.Name()),
	}
}

// configKey is the name the parameter is looked up under.
func (p *ParameterResource) configKey() string {
	if p.ConnectionString {
		return "ConnectionStrings:" + p.Name()
	}
	return "Parameters:" + p.Name()
}

// ConfigKey returns the lookup key, e.g. "Parameters:db-password".
func (p *ParameterResource) ConfigKey() string { return p.configKey() }

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GeneratePassword returns a random alphanumeric string of length n.
func GeneratePassword(n int) (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}

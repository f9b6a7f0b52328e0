// Package expr implements deferred string expressions over values that other
// resources produce later (allocated endpoints, parameter values, connection
// strings). Construction is pure; all waiting happens in Resolve.
package expr

import (
	"context"
	"strings"
)

// ValueProvider supplies a value that may only become available at runtime.
//
// ValueExpression returns the placeholder form, e.g. {cache.bindings.tcp.host}.
// It must not perform I/O and must not depend on runtime state.
type ValueProvider interface {
	ValueExpression() string
	Value(ctx context.Context) (string, error)
}

// Part is one piece handed to New: either a literal or a reference.
type Part struct {
	text     string
	provider ValueProvider
}

// Literal returns a literal part.
func Literal(text string) Part {
	return Part{text: text}
}

// Ref returns a part referencing p's eventual value.
func Ref(p ValueProvider) Part {
	return Part{provider: p}
}

type segment struct {
	text     string
	provider ValueProvider
}

// ReferenceExpression is an ordered list of literal and reference segments.
// The zero value is an empty expression.
type ReferenceExpression struct {
	segments []segment
}

// New composes parts into an expression, preserving order. Nested
// expressions are flattened. Every reference is checked against the
// placeholder grammar.
func New(parts ...Part) (*ReferenceExpression, error) {
	var b Builder
	for _, p := range parts {
		if p.provider == nil {
			b.AppendLiteral(p.text)
			continue
		}
		b.AppendRef(p.provider)
	}
	return b.Build()
}

// MustNew is like New but panics on an invalid placeholder. Use it only with
// providers whose shape is fixed in code.
func MustNew(parts ...Part) *ReferenceExpression {
	e, err := New(parts...)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns an expression holding a single literal.
func String(text string) *ReferenceExpression {
	return &ReferenceExpression{segments: []segment{{text: text}}}
}

// ValueExpression renders the placeholder template, e.g.
// "{cache.bindings.tcp.host}:{cache.bindings.tcp.port}".
func (e *ReferenceExpression) ValueExpression() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	for _, s := range e.segments {
		if s.provider != nil {
			sb.WriteString(s.provider.ValueExpression())
			continue
		}
		sb.WriteString(s.text)
	}
	return sb.String()
}

// Value resolves the expression. It makes ReferenceExpression a ValueProvider
// so expressions can be nested.
func (e *ReferenceExpression) Value(ctx context.Context) (string, error) {
	return e.Resolve(ctx)
}

// Resolve substitutes every reference with its current value.
//
// A cancelled context yields ctx.Err() and an empty string, never a partial
// result. A producer that is not ready yields a *MissingValueError.
func (e *ReferenceExpression) Resolve(ctx context.Context) (string, error) {
	if e == nil {
		return "", nil
	}
	var sb strings.Builder
	for _, s := range e.segments {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if s.provider == nil {
			sb.WriteString(s.text)
			continue
		}
		v, err := s.provider.Value(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", err
		}
		sb.WriteString(v)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Providers returns the referenced providers in construction order.
func (e *ReferenceExpression) Providers() []ValueProvider {
	if e == nil {
		return nil
	}
	var out []ValueProvider
	for _, s := range e.segments {
		if s.provider != nil {
			out = append(out, s.provider)
		}
	}
	return out
}

// IsLiteral reports whether the expression has no references.
func (e *ReferenceExpression) IsLiteral() bool {
	return len(e.Providers()) == 0
}

// Builder accumulates segments. The first invalid reference is kept and
// returned from Build.
type Builder struct {
	segments []segment
	err      error
}

// AppendLiteral appends literal text. Adjacent literals are merged.
func (b *Builder) AppendLiteral(text string) *Builder {
	if text == "" {
		return b
	}
	if n := len(b.segments); n > 0 && b.segments[n-1].provider == nil {
		b.segments[n-1].text += text
		return b
	}
	b.segments = append(b.segments, segment{text: text})
	return b
}

// AppendRef appends a reference. A nested *ReferenceExpression is flattened.
func (b *Builder) AppendRef(p ValueProvider) *Builder {
	if nested, ok := p.(*ReferenceExpression); ok {
		return b.AppendExpr(nested)
	}
	if err := Check(p); err != nil {
		if b.err == nil {
			b.err = err
		}
		if p == nil {
			return b
		}
	}
	b.segments = append(b.segments, segment{provider: p})
	return b
}

// AppendExpr appends every segment of e in order.
func (b *Builder) AppendExpr(e *ReferenceExpression) *Builder {
	if e == nil {
		return b
	}
	for _, s := range e.segments {
		if s.provider == nil {
			b.AppendLiteral(s.text)
			continue
		}
		b.segments = append(b.segments, s)
	}
	return b
}

// Build returns the composed expression.
func (b *Builder) Build() (*ReferenceExpression, error) {
	if b.err != nil {
		return nil, b.err
	}
	segs := make([]segment, len(b.segments))
	copy(segs, b.segments)
	return &ReferenceExpression{segments: segs}, nil
}

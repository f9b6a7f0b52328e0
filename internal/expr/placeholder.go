package expr

import (
	"fmt"
	"regexp"
	"strings"
)

// PlaceholderKind names one of the accepted placeholder shapes.
type PlaceholderKind string

const (
	KindEndpointHost     PlaceholderKind = "host"
	KindEndpointPort     PlaceholderKind = "port"
	KindEndpointURL      PlaceholderKind = "url"
	KindValue            PlaceholderKind = "value"
	KindConnectionString PlaceholderKind = "connectionString"
	KindOutput           PlaceholderKind = "output"
)

// Placeholder is a parsed {resource.path} reference.
type Placeholder struct {
	Resource string
	Kind     PlaceholderKind
	// Endpoint is set for host, port and url placeholders.
	Endpoint string
	// Output is set for output placeholders.
	Output string
}

// String renders the placeholder back to its template form.
func (p Placeholder) String() string {
	switch p.Kind {
	case KindEndpointHost, KindEndpointPort, KindEndpointURL:
		return fmt.Sprintf("{%s.bindings.%s.%s}", p.Resource, p.Endpoint, p.Kind)
	case KindOutput:
		return fmt.Sprintf("{%s.outputs.%s}", p.Resource, p.Output)
	default:
		return fmt.Sprintf("{%s.%s}", p.Resource, p.Kind)
	}
}

var (
	identPattern       = `[A-Za-z0-9][A-Za-z0-9_-]*`
	placeholderPattern = regexp.MustCompile(`^\{(` + identPattern + `)\.(.+)\}$`)
	identRegexp        = regexp.MustCompile(`^` + identPattern + `$`)
)

// ValidName reports whether name can stand as the resource part of a
// placeholder.
func ValidName(name string) bool {
	return identRegexp.MatchString(name)
}

// Check validates the placeholder form of p. Literal and built expressions
// pass; their references were checked when they were built.
func Check(p ValueProvider) error {
	if p == nil {
		return &InvalidPlaceholderError{Reason: "nil value provider"}
	}
	if _, ok := p.(*ReferenceExpression); ok {
		return nil
	}
	_, err := ParsePlaceholder(p.ValueExpression())
	return err
}

// ParsePlaceholder validates s against the placeholder grammar:
//
//	{name.bindings.<endpoint>.host}
//	{name.bindings.<endpoint>.port}
//	{name.bindings.<endpoint>.url}
//	{name.value}
//	{name.connectionString}
//	{name.outputs.<output>}
func ParsePlaceholder(s string) (Placeholder, error) {
	m := placeholderPattern.FindStringSubmatch(s)
	if m == nil {
		return Placeholder{}, &InvalidPlaceholderError{Placeholder: s, Reason: "expected {resource.path}"}
	}
	name, path := m[1], strings.Split(m[2], ".")

	switch {
	case len(path) == 1 && path[0] == string(KindValue):
		return Placeholder{Resource: name, Kind: KindValue}, nil
	case len(path) == 1 && path[0] == string(KindConnectionString):
		return Placeholder{Resource: name, Kind: KindConnectionString}, nil
	case len(path) == 2 && path[0] == "outputs" && identRegexp.MatchString(path[1]):
		return Placeholder{Resource: name, Kind: KindOutput, Output: path[1]}, nil
	case len(path) == 3 && path[0] == "bindings" && identRegexp.MatchString(path[1]):
		switch PlaceholderKind(path[2]) {
		case KindEndpointHost, KindEndpointPort, KindEndpointURL:
			return Placeholder{Resource: name, Kind: PlaceholderKind(path[2]), Endpoint: path[1]}, nil
		}
		return Placeholder{}, &InvalidPlaceholderError{Placeholder: s, Reason: fmt.Sprintf("unknown endpoint property %q", path[2])}
	}

	return Placeholder{}, &InvalidPlaceholderError{Placeholder: s, Reason: fmt.Sprintf("unsupported path %q", m[2])}
}

// Resolver maps a parsed placeholder to the provider that produces it.
type Resolver func(Placeholder) (ValueProvider, error)

// Parse turns a template such as "http://{api.bindings.http.host}:8080" into
// an expression, asking resolve for each placeholder. A lone "{" or "}" that
// is not part of a placeholder is kept as literal text.
func Parse(template string, resolve Resolver) (*ReferenceExpression, error) {
	var b Builder
	rest := template
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.AppendLiteral(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			b.AppendLiteral(rest)
			break
		}
		b.AppendLiteral(rest[:open])
		token := rest[open : open+end+1]
		ph, err := ParsePlaceholder(token)
		if err != nil {
			return nil, err
		}
		p, err := resolve(ph)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", token, err)
		}
		b.AppendRef(p)
		rest = rest[open+end+1:]
	}
	return b.Build()
}

// Package model defines resources, their annotations and the values they
// expose to reference expressions.
package model

// Resource is a named node in the application topology.
type Resource interface {
	Name() string
	Annotations() *Store
	Parent() Resource
}

// parentSetter is satisfied by every type embedding Base.
type parentSetter interface {
	setParent(Resource)
}

// Base implements Resource. Embed it in concrete resource types.
type Base struct {
	name        string
	annotations Store
	parent      Resource
}

// NewBase returns a Base with the given name.
func NewBase(name string) Base {
	return Base{name: name}
}

// Name returns the resource name.
func (b *Base) Name() string { return b.name }

// Annotations returns the annotation store.
func (b *Base) Annotations() *Store { return &b.annotations }

// Parent returns the owning resource or nil.
func (b *Base) Parent() Resource { return b.parent }

func (b *Base) setParent(p Resource) { b.parent = p }

// SetParent makes parent the owner of child. Attaching a resource below one of
// its own descendants fails with a *CyclicGraphError.
func SetParent(child, parent Resource) error {
	if child.Annotations().Frozen() {
		return ErrFrozen
	}
	path := []string{child.Name()}
	for p := parent; p != nil; p = p.Parent() {
		path = append(path, p.Name())
		if p == child {
			return &CyclicGraphError{Path: path}
		}
	}
	ps, ok := child.(parentSetter)
	if !ok {
		return &UnsupportedParentError{Resource: child.Name()}
	}
	ps.setParent(parent)
	return nil
}

// Ancestors returns r's parents from the nearest to the root.
func Ancestors(r Resource) []Resource {
	var out []Resource
	for p := r.Parent(); p != nil; p = p.Parent() {
		out = append(out, p)
	}
	return out
}

// Descendants returns every resource in all whose ancestor chain includes r,
// in the order of all.
func Descendants(all []Resource, r Resource) []Resource {
	var out []Resource
	for _, candidate := range all {
		for _, a := range Ancestors(candidate) {
			if a == r {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}

// Root returns the top-most ancestor of r, or r itself.
func Root(r Resource) Resource {
	for r.Parent() != nil {
		r = r.Parent()
	}
	return r
}

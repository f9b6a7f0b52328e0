package model

import (
	"errors"
	"fmt"
)

// ErrFrozen is returned when an annotation store is mutated after Build.
var ErrFrozen = errors.New("resource model is frozen")

// Kind tags an annotation type for queries.
type Kind string

const (
	KindEndpoint               Kind = "endpoint"
	KindContainerImage         Kind = "container-image"
	KindMount                  Kind = "mount"
	KindArgsCallback           Kind = "args-callback"
	KindEnvironmentCallback    Kind = "environment-callback"
	KindConnectionString       Kind = "connection-string"
	KindRoleAssignment         Kind = "role-assignment"
	KindDefaultRoleAssignments Kind = "default-role-assignments"
	KindManifestPublishing     Kind = "manifest-publishing"
	KindWait                   Kind = "wait"
	KindRelationship           Kind = "relationship"
	KindContainerRuntimeArgs   Kind = "container-runtime-args"
	KindOutputs                Kind = "outputs"
)

// Cardinality says whether several annotations of a kind may coexist.
type Cardinality int

const (
	// Multi annotations accumulate in insertion order.
	Multi Cardinality = iota
	// Singleton annotations replace any earlier annotation of the same kind.
	Singleton
)

// Annotation is typed metadata attached to a resource.
type Annotation interface {
	Kind() Kind
	Cardinality() Cardinality
}

// Store is the ordered annotation bag of one resource.
type Store struct {
	items  []Annotation
	frozen bool
}

// Add appends a. Singleton kinds replace earlier annotations of their kind.
func (s *Store) Add(a Annotation) error {
	if a == nil {
		return fmt.Errorf("annotation is nil")
	}
	if a.Cardinality() == Singleton {
		return s.ReplaceOrAdd(a)
	}
	if s.frozen {
		return ErrFrozen
	}
	s.items = append(s.items, a)
	return nil
}

// ReplaceOrAdd removes every annotation of a's kind and appends a.
func (s *Store) ReplaceOrAdd(a Annotation) error {
	if a == nil {
		return fmt.Errorf("annotation is nil")
	}
	if s.frozen {
		return ErrFrozen
	}
	kept := s.items[:0]
	for _, existing := range s.items {
		if existing.Kind() != a.Kind() {
			kept = append(kept, existing)
		}
	}
	s.items = append(kept, a)
	return nil
}

// OfKind returns every annotation of kind in insertion order.
func (s *Store) OfKind(kind Kind) []Annotation {
	var out []Annotation
	for _, a := range s.items {
		if a.Kind() == kind {
			out = append(out, a)
		}
	}
	return out
}

// RemoveKind removes every annotation of kind.
func (s *Store) RemoveKind(kind Kind) error {
	if s.frozen {
		return ErrFrozen
	}
	kept := s.items[:0]
	for _, existing := range s.items {
		if existing.Kind() != kind {
			kept = append(kept, existing)
		}
	}
	s.items = kept
	return nil
}

// Items returns a copy of all annotations in insertion order.
func (s *Store) Items() []Annotation {
	out := make([]Annotation, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of annotations.
func (s *Store) Len() int {
	return len(s.items)
}

// Freeze rejects any later mutation.
func (s *Store) Freeze() {
	s.frozen = true
}

// Frozen reports whether the store has been frozen.
func (s *Store) Frozen() bool {
	return s.frozen
}

// Annotate adds a to r's store.
func Annotate(r Resource, a Annotation) error {
	if err := r.Annotations().Add(a); err != nil {
		return fmt.Errorf("failed to annotate %s: %w", r.Name(), err)
	}
	return nil
}

// All returns the annotations of r that are of type T, in insertion order.
func All[T Annotation](r Resource) []T {
	var out []T
	for _, a := range r.Annotations().items {
		if v, ok := a.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Last returns the most recently added annotation of type T.
func Last[T Annotation](r Resource) (T, bool) {
	items := r.Annotations().items
	for i := len(items) - 1; i >= 0; i-- {
		if v, ok := items[i].(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Has reports whether r carries at least one annotation of type T.
func Has[T Annotation](r Resource) bool {
	_, ok := Last[T](r)
	return ok
}

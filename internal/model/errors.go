package model

import (
	"fmt"
	"strings"
)

// DuplicateNameError reports resource names registered more than once.
type DuplicateNameError struct {
	Names []string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate resource names: %s", strings.Join(e.Names, ", "))
}

// CyclicGraphError reports a parent chain that loops back on itself, or a
// dependency cycle between resources.
type CyclicGraphError struct {
	Path []string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("cycle detected in resource graph: %s", strings.Join(e.Path, " -> "))
}

// InvalidNameError is returned for a resource name that cannot appear in a
// placeholder, e.g. one containing a dot.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid resource name %q: must start with a letter or digit and contain only letters, digits, '-' and '_'", e.Name)
}

// AllocationReuseError is returned when an endpoint is allocated twice.
type AllocationReuseError struct {
	Resource string
	Endpoint string
}

func (e *AllocationReuseError) Error() string {
	return fmt.Sprintf("endpoint %s/%s is already allocated", e.Resource, e.Endpoint)
}

// UnsupportedParentError is returned for resource types that cannot hold a
// parent link because they do not embed Base.
type UnsupportedParentError struct {
	Resource string
}

func (e *UnsupportedParentError) Error() string {
	return fmt.Sprintf("resource %s does not support parent links", e.Resource)
}

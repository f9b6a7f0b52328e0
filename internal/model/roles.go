package model

import "fmt"

// RoleDefinition is a cloud role granted to a principal.
type RoleDefinition struct {
	ID   string
	Name string
}

// RoleAssignmentAnnotation grants the annotated compute resource roles on
// Target. Several assignments accumulate.
type RoleAssignmentAnnotation struct {
	Target Resource
	Roles  []RoleDefinition
}

func (*RoleAssignmentAnnotation) Kind() Kind               { return KindRoleAssignment }
func (*RoleAssignmentAnnotation) Cardinality() Cardinality { return Multi }

// DefaultRoleAssignmentsAnnotation lists the roles a target grants to every
// referencing compute resource that has no explicit assignment for it.
type DefaultRoleAssignmentsAnnotation struct {
	Roles []RoleDefinition
}

func (*DefaultRoleAssignmentsAnnotation) Kind() Kind { return KindDefaultRoleAssignments }
func (*DefaultRoleAssignmentsAnnotation) Cardinality() Cardinality {
	return Singleton
}

// ClearDefaultRoleAssignments removes target's default roles.
func ClearDefaultRoleAssignments(target Resource) error {
	if err := target.Annotations().RemoveKind(KindDefaultRoleAssignments); err != nil {
		return fmt.Errorf("failed to clear default roles of %s: %w", target.Name(), err)
	}
	return nil
}

// EffectiveRoles returns the roles compute holds on target: the explicit
// assignments if any exist, otherwise target's defaults. Duplicate role IDs
// are dropped, keeping the first occurrence.
func EffectiveRoles(compute, target Resource) []RoleDefinition {
	var roles []RoleDefinition
	explicit := false
	for _, a := range All[*RoleAssignmentAnnotation](compute) {
		if a.Target == target {
			explicit = true
			roles = append(roles, a.Roles...)
		}
	}
	if !explicit {
		if d, ok := Last[*DefaultRoleAssignmentsAnnotation](target); ok {
			roles = append(roles, d.Roles...)
		}
	}
	return dedupeRoles(roles)
}

// RoleTargets returns the resources compute holds roles on, in first-seen
// order: explicit assignment targets, then referenced resources that carry
// default roles.
func RoleTargets(compute Resource) []Resource {
	var out []Resource
	seen := make(map[Resource]bool)
	add := func(r Resource) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, a := range All[*RoleAssignmentAnnotation](compute) {
		add(a.Target)
	}
	for _, rel := range All[*ResourceRelationshipAnnotation](compute) {
		if rel.Type == RelationshipReference && Has[*DefaultRoleAssignmentsAnnotation](rel.Resource) {
			add(rel.Resource)
		}
	}
	return out
}

func dedupeRoles(roles []RoleDefinition) []RoleDefinition {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(roles))
	out := roles[:0:0]
	for _, r := range roles {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}

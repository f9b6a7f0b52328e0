package model

// RelationshipType names how two resources are related.
type RelationshipType string

const (
	RelationshipReference RelationshipType = "Reference"
	RelationshipParent    RelationshipType = "Parent"
)

// ResourceRelationshipAnnotation records that the annotated resource relates
// to Resource. References also order resource starts.
type ResourceRelationshipAnnotation struct {
	Resource Resource
	Type     RelationshipType
}

func (*ResourceRelationshipAnnotation) Kind() Kind               { return KindRelationship }
func (*ResourceRelationshipAnnotation) Cardinality() Cardinality { return Multi }

// WaitAnnotation delays the start of the annotated resource until Resource
// has started.
type WaitAnnotation struct {
	Resource Resource
}

func (*WaitAnnotation) Kind() Kind               { return KindWait }
func (*WaitAnnotation) Cardinality() Cardinality { return Multi }

// Dependencies returns the resources r must start after, in annotation order
// and without duplicates. Parameters are never dependencies.
func Dependencies(r Resource) []Resource {
	var out []Resource
	seen := make(map[Resource]bool)
	add := func(d Resource) {
		if d == nil || d == r || seen[d] {
			return
		}
		if _, ok := d.(*ParameterResource); ok {
			return
		}
		seen[d] = true
		out = append(out, d)
	}
	for _, a := range r.Annotations().items {
		switch v := a.(type) {
		case *WaitAnnotation:
			add(v.Resource)
		case *ResourceRelationshipAnnotation:
			if v.Type == RelationshipReference {
				add(v.Resource)
			}
		}
	}
	return out
}

package model

import (
	"context"

	"github.com/picklr-io/apphost/internal/expr"
)

// ManifestWriter writes one resource entry of the publishing manifest. Keys
// are emitted in write order.
type ManifestWriter interface {
	Context() context.Context
	Resource() Resource
	Execution() *ExecutionContext
	// OutputDir is the directory the manifest is written to. Relative paths in
	// the manifest are relative to it.
	OutputDir() string

	WriteString(key, value string)
	WriteBool(key string, value bool)
	WriteInt(key string, value int)
	// WriteExpr writes the placeholder form of v, never its resolved value.
	WriteExpr(key string, v expr.ValueProvider)
	WriteStrings(key string, values []string)
	WriteObject(key string, fn func(ManifestWriter) error) error
	// WriteArray writes an array of n objects.
	WriteArray(key string, n int, fn func(i int, w ManifestWriter) error) error
	// WriteDefault writes the default entry for the resource kind.
	WriteDefault() error
}

// ManifestPublishingCallbackAnnotation overrides how a resource is written to
// the manifest. A nil Callback excludes the resource.
type ManifestPublishingCallbackAnnotation struct {
	Callback func(ManifestWriter) error
}

func (*ManifestPublishingCallbackAnnotation) Kind() Kind { return KindManifestPublishing }
func (*ManifestPublishingCallbackAnnotation) Cardinality() Cardinality {
	return Singleton
}

// ExcludedFromManifest reports whether r is left out of the manifest.
func ExcludedFromManifest(r Resource) bool {
	a, ok := Last[*ManifestPublishingCallbackAnnotation](r)
	return ok && a.Callback == nil
}

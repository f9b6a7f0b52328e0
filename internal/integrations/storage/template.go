package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/picklr-io/apphost/internal/model"
)

// Output keys every provisioner must return.
const (
	OutputConnectionString = "connectionString"
	OutputBlobEndpoint     = "blobEndpoint"
	OutputQueueEndpoint    = "queueEndpoint"
	OutputTableEndpoint    = "tableEndpoint"
)

const KindConfigureTemplate model.Kind = "storage-configure-template"

// Template is the provider neutral declaration of a storage account. It is
// handed to a Provisioner in run mode and written next to the manifest in
// publish mode.
type Template struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	SKU        string            `json:"sku"`
	AccessTier string            `json:"accessTier,omitempty"`
	HTTPSOnly  bool              `json:"httpsOnly"`
	Tags       map[string]string `json:"tags,omitempty"`
	// Params are deploy time inputs, filled in by the deployer.
	Params  map[string]string `json:"params"`
	Outputs []string          `json:"outputs"`
}

func defaultTemplate(name string) *Template {
	return &Template{
		Name:       name,
		Kind:       "StorageV2",
		SKU:        "Standard_GRS",
		AccessTier: "Hot",
		HTTPSOnly:  true,
		Params: map[string]string{
			"principalId":   "",
			"principalType": "",
		},
		Outputs: []string{OutputConnectionString, OutputBlobEndpoint, OutputQueueEndpoint, OutputTableEndpoint},
	}
}

// ConfigureTemplateAnnotation edits the template before it is provisioned
// or published. Callbacks run in the order they were added.
type ConfigureTemplateAnnotation struct {
	Configure func(*Template) error
}

func (*ConfigureTemplateAnnotation) Kind() model.Kind               { return KindConfigureTemplate }
func (*ConfigureTemplateAnnotation) Cardinality() model.Cardinality { return model.Multi }

// Provisioner creates the cloud resource described by a template and
// returns its outputs.
type Provisioner interface {
	Provision(ctx context.Context, t *Template) (map[string]string, error)
}

// ProvisionerFunc adapts a function to Provisioner.
type ProvisionerFunc func(ctx context.Context, t *Template) (map[string]string, error)

func (f ProvisionerFunc) Provision(ctx context.Context, t *Template) (map[string]string, error) {
	return f(ctx, t)
}

// sortedParams returns the template params in key order.
func (t *Template) sortedParams() []string {
	keys := make([]string, 0, len(t.Params))
	for k := range t.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// writeTemplate stores t as <dir>/<name>.module.json and returns the file
// name relative to dir.
func writeTemplate(dir string, t *Template) (string, error) {
	name := t.Name + ".module.json"
	if dir == "" {
		return name, nil
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode template for %s: %w", t.Name, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create template directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("failed to write template for %s: %w", t.Name, err)
	}
	return name, nil
}

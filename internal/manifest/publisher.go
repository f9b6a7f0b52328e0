package manifest

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/model"
)

// SchemaURL is written as the manifest's $schema. It is the $id of the
// embedded schema documents are validated against.
const SchemaURL = "https://picklr.io/schemas/apphost-manifest.json"

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(SchemaURL, bytes.NewReader([]byte(schemaJSON))); err != nil {
			schemaErr = fmt.Errorf("failed to load manifest schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(SchemaURL)
	})
	return compiledSchema, schemaErr
}

// Publisher writes the manifest of a model.
type Publisher struct {
	// OutputDir is where the manifest lives; relative paths are computed
	// against it.
	OutputDir string
	// SkipValidation disables the schema check.
	SkipValidation bool
}

// Build produces the manifest document without writing it.
func (p *Publisher) Build(ctx context.Context, exec *model.ExecutionContext, resources []model.Resource) (*Object, error) {
	if exec == nil || !exec.IsPublishMode() {
		return nil, fmt.Errorf("manifest requires publish mode")
	}

	entries := NewObject()
	for _, r := range resources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if model.ExcludedFromManifest(r) {
			continue
		}
		if !expr.ValidName(r.Name()) {
			return nil, &model.InvalidNameError{Name: r.Name()}
		}
		mc := newContext(ctx, exec, r, p.OutputDir)
		var err error
		if cb, ok := model.Last[*model.ManifestPublishingCallbackAnnotation](r); ok {
			err = cb.Callback(mc)
		} else {
			err = mc.WriteDefault()
		}
		if err == nil {
			err = mc.Err()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write manifest entry for %s: %w", r.Name(), err)
		}
		entries.Set(r.Name(), mc.Object())
	}

	if err := p.writeRoles(ctx, exec, resources, entries); err != nil {
		return nil, err
	}

	doc := NewObject()
	doc.Set("$schema", SchemaURL)
	doc.Set("resources", entries)
	return doc, nil
}

// writeRoles externalizes role assignments into one <target>-roles entry per
// target. The principal is filled in by the deployer.
func (p *Publisher) writeRoles(ctx context.Context, exec *model.ExecutionContext, resources []model.Resource, entries *Object) error {
	type grant struct {
		principal string
		roles     []model.RoleDefinition
	}
	var targets []model.Resource
	grants := make(map[model.Resource][]grant)

	for _, compute := range resources {
		for _, target := range model.RoleTargets(compute) {
			roles := model.EffectiveRoles(compute, target)
			if len(roles) == 0 {
				continue
			}
			if _, ok := grants[target]; !ok {
				targets = append(targets, target)
			}
			grants[target] = append(grants[target], grant{principal: compute.Name(), roles: roles})
		}
	}

	for _, target := range targets {
		name := target.Name() + "-roles"
		if _, exists := entries.Get(name); exists {
			return fmt.Errorf("role resource %s collides with an existing resource", name)
		}
		gs := grants[target]
		mc := newContext(ctx, exec, target, p.OutputDir)
		mc.WriteString("type", TypeCloudRoles)
		mc.WriteString("target", target.Name())
		if err := mc.WriteObject("params", func(w model.ManifestWriter) error {
			w.WriteString("principalId", "")
			w.WriteString("principalType", "")
			return nil
		}); err != nil {
			return err
		}
		if err := mc.WriteArray("roles", len(gs), func(i int, w model.ManifestWriter) error {
			w.WriteString("principal", gs[i].principal)
			return w.WriteArray("definitions", len(gs[i].roles), func(j int, w model.ManifestWriter) error {
				w.WriteString("id", gs[i].roles[j].ID)
				w.WriteString("name", gs[i].roles[j].Name)
				return nil
			})
		}); err != nil {
			return err
		}
		entries.Set(name, mc.Object())
	}
	return nil
}

// Write builds, validates and writes the manifest as indented JSON.
func (p *Publisher) Write(ctx context.Context, exec *model.ExecutionContext, resources []model.Resource, w io.Writer) error {
	doc, err := p.Build(ctx, exec, resources)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if !p.SkipValidation {
		if err := Validate(data); err != nil {
			return err
		}
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// WriteFile writes the manifest to path, creating its directory.
func (p *Publisher) WriteFile(ctx context.Context, exec *model.ExecutionContext, resources []model.Resource, path string) error {
	if p.OutputDir == "" {
		abs, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return fmt.Errorf("failed to resolve output directory: %w", err)
		}
		p.OutputDir = abs
	}
	var buf bytes.Buffer
	if err := p.Write(ctx, exec, resources, &buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write manifest file: %w", err)
	}
	return nil
}

// Validate checks an encoded manifest against the embedded schema.
func Validate(data []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to decode manifest: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("manifest does not match schema: %w", err)
	}
	return nil
}

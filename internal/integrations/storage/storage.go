// Package storage adds a cloud storage account with blob, queue and table
// services. In run mode the account is either provisioned through a
// Provisioner or replaced by a local emulator container.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/lifecycle"
	"github.com/picklr-io/apphost/internal/manifest"
	"github.com/picklr-io/apphost/internal/model"
)

// Built-in data plane roles.
var (
	BlobDataContributor  = model.RoleDefinition{ID: "ba92f5b4-2d11-453d-a403-e96b0029c9fe", Name: "StorageBlobDataContributor"}
	QueueDataContributor = model.RoleDefinition{ID: "974c5e8b-45b9-4653-ba55-5f855dd0fb88", Name: "StorageQueueDataContributor"}
	TableDataContributor = model.RoleDefinition{ID: "0a9a7e1f-b9d0-4cc4-a60d-0319b160aaa3", Name: "StorageTableDataContributor"}
	BlobDataReader       = model.RoleDefinition{ID: "2a2b9908-6ea1-4ae2-8e65-a410df84e7d1", Name: "StorageBlobDataReader"}
)

// DefaultRoles are granted to every compute resource referencing the
// account without an explicit assignment.
var DefaultRoles = []model.RoleDefinition{BlobDataContributor, TableDataContributor, QueueDataContributor}

// ErrNoProvisioner is returned when a non-emulated account is run without a
// provisioner.
var ErrNoProvisioner = errors.New("no provisioner configured")

// Resource is a storage account.
type Resource struct {
	model.Base
	provisioner Provisioner
	emulator    *EmulatorResource
}

var _ lifecycle.BeforeStartHook = (*Resource)(nil)

// Emulator returns the emulator container, if RunAsEmulator was applied in
// run mode.
func (r *Resource) Emulator() (*EmulatorResource, bool) {
	return r.emulator, r.emulator != nil
}

// Template builds the account template with every configure callback
// applied.
func (r *Resource) Template() (*Template, error) {
	t := defaultTemplate(r.Name())
	for _, a := range model.All[*ConfigureTemplateAnnotation](r) {
		if err := a.Configure(t); err != nil {
			return nil, fmt.Errorf("failed to configure template for %s: %w", r.Name(), err)
		}
	}
	return t, nil
}

// BeforeStart provisions the account and records its outputs. Emulated
// accounts and publish runs skip provisioning.
func (r *Resource) BeforeStart(ctx context.Context, m *lifecycle.Model) error {
	if m.Execution.IsPublishMode() || r.emulator != nil {
		return nil
	}
	if r.provisioner == nil {
		return fmt.Errorf("failed to provision %s: %w", r.Name(), ErrNoProvisioner)
	}
	t, err := r.Template()
	if err != nil {
		return err
	}
	values, err := r.provisioner.Provision(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to provision %s: %w", r.Name(), err)
	}

	out, ok := model.Last[*model.OutputsAnnotation](r)
	if !ok {
		return fmt.Errorf("resource %s has no outputs annotation", r.Name())
	}
	var missing []error
	for _, key := range t.Outputs {
		v, ok := values[key]
		if !ok {
			missing = append(missing, fmt.Errorf("provisioner returned no %s output for %s", key, r.Name()))
			continue
		}
		out.Set(key, v)
	}
	return errors.Join(missing...)
}

// ConnectionStringExpression is the emulator connection string when
// emulated, otherwise the provisioned connectionString output.
func (r *Resource) ConnectionStringExpression() (*expr.ReferenceExpression, error) {
	if r.emulator != nil {
		return r.emulator.connectionString(serviceBlob, serviceQueue, serviceTable)
	}
	return expr.New(expr.Ref(model.OutputOf(r, OutputConnectionString)))
}

func (r *Resource) writeManifest(w model.ManifestWriter) error {
	t, err := r.Template()
	if err != nil {
		return err
	}
	path, err := writeTemplate(w.OutputDir(), t)
	if err != nil {
		return err
	}
	w.WriteString("type", manifest.TypeCloudTemplate)
	w.WriteExpr("connectionString", model.OutputOf(r, OutputConnectionString))
	w.WriteString("path", path)
	return w.WriteObject("params", func(w model.ManifestWriter) error {
		for _, k := range t.sortedParams() {
			w.WriteString(k, t.Params[k])
		}
		return nil
	})
}

// Option configures AddStorage.
type Option func(*Resource)

// WithProvisioner sets the backend that creates the account in run mode.
func WithProvisioner(p Provisioner) Option {
	return func(r *Resource) { r.provisioner = p }
}

// AddStorage adds a storage account granting DefaultRoles to referencing
// resources.
func AddStorage(b *hosting.Builder, name string, opts ...Option) *hosting.ResourceBuilder[*Resource] {
	r := &Resource{Base: model.NewBase(name)}
	for _, opt := range opts {
		opt(r)
	}
	return hosting.Add(b, r).
		WithAnnotation(&model.OutputsAnnotation{}).
		WithAnnotation(&model.DefaultRoleAssignmentsAnnotation{Roles: DefaultRoles}).
		WithConnectionString(r.ConnectionStringExpression).
		WithManifestPublishingCallback(r.writeManifest)
}

// ConfigureTemplate registers fn to edit the account template.
func ConfigureTemplate(rb *hosting.ResourceBuilder[*Resource], fn func(*Template) error) *hosting.ResourceBuilder[*Resource] {
	if fn == nil {
		return rb.Fail(fmt.Errorf("nil template callback for %s", rb.Name()))
	}
	return rb.WithAnnotation(&ConfigureTemplateAnnotation{Configure: fn})
}

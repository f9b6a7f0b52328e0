package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/launcher"
	"github.com/picklr-io/apphost/internal/lifecycle"
	"github.com/picklr-io/apphost/internal/logging"
	"github.com/picklr-io/apphost/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runBuilder(rec *launcher.Recorder) *hosting.Builder {
	return hosting.New(
		hosting.WithLauncher(rec),
		hosting.WithLogger(logging.Discard()),
		hosting.WithAllocator(&lifecycle.StaticAllocator{Next: 20000}),
	)
}

func provisioned() map[string]string {
	return map[string]string{
		OutputConnectionString: "AccountName=acct;",
		OutputBlobEndpoint:     "https://acct.blob.core.windows.net/",
		OutputQueueEndpoint:    "https://acct.queue.core.windows.net/",
		OutputTableEndpoint:    "https://acct.table.core.windows.net/",
	}
}

func TestStorage_Provisioned(t *testing.T) {
	ctx := context.Background()
	rec := launcher.NewRecorder()
	b := runBuilder(rec)

	var got *Template
	prov := ProvisionerFunc(func(_ context.Context, tpl *Template) (map[string]string, error) {
		got = tpl
		return provisioned(), nil
	})
	st := AddStorage(b, "storage", WithProvisioner(prov))
	ConfigureTemplate(st, func(tpl *Template) error {
		tpl.SKU = "Standard_LRS"
		return nil
	})
	ConfigureTemplate(st, func(tpl *Template) error {
		tpl.Tags = map[string]string{"sku": tpl.SKU}
		return nil
	})
	blobs := AddBlobs(st, "blobs")
	hosting.AddContainer(b, "api", "api", "1").
		WithReference(blobs.Resource()).
		WithReference(st.Resource())

	app, err := b.Build()
	require.NoError(t, err)
	_, err = app.Start(ctx)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "Standard_LRS", got.SKU)
	assert.Equal(t, map[string]string{"sku": "Standard_LRS"}, got.Tags)

	api, ok := rec.Container("api")
	require.True(t, ok)
	conn, _ := launcher.Env(api.Env, "ConnectionStrings__blobs")
	assert.Equal(t, "https://acct.blob.core.windows.net/", conn)
	conn, _ = launcher.Env(api.Env, "ConnectionStrings__storage")
	assert.Equal(t, "AccountName=acct;", conn)
}

func TestStorage_ProvisioningFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no provisioner", func(t *testing.T) {
		b := runBuilder(launcher.NewRecorder())
		AddStorage(b, "storage")
		app, err := b.Build()
		require.NoError(t, err)
		_, err = app.Start(ctx)
		assert.ErrorIs(t, err, ErrNoProvisioner)
	})

	t.Run("missing output", func(t *testing.T) {
		b := runBuilder(launcher.NewRecorder())
		AddStorage(b, "storage", WithProvisioner(ProvisionerFunc(func(context.Context, *Template) (map[string]string, error) {
			return map[string]string{OutputConnectionString: "x"}, nil
		})))
		app, err := b.Build()
		require.NoError(t, err)
		_, err = app.Start(ctx)
		assert.ErrorContains(t, err, "no blobEndpoint output")
	})
}

func TestStorage_Emulator(t *testing.T) {
	ctx := context.Background()
	rec := launcher.NewRecorder()
	b := runBuilder(rec)

	st := AddStorage(b, "storage")
	RunAsEmulator(st, WithEmulatorPorts(10000, 0, 0), WithEmulatorDataVolume(""))
	RunAsEmulator(st)
	blobs := AddBlobs(st, "blobs")
	hosting.AddContainer(b, "api", "api", "1").WithReference(blobs.Resource())

	emu, ok := st.Resource().Emulator()
	require.True(t, ok)
	assert.Equal(t, "storage-emulator", emu.Name())
	assert.Same(t, st.Resource(), emu.Parent())

	app, err := b.Build()
	require.NoError(t, err)
	_, err = app.Start(ctx)
	require.NoError(t, err)

	containers := rec.Containers()
	require.Len(t, containers, 2)
	assert.Equal(t, "storage-emulator", containers[0].Name)
	assert.Equal(t, "api", containers[1].Name)

	spec := containers[0]
	assert.Equal(t, "mcr.microsoft.com/azure-storage/azurite:3.33.0", spec.Image)
	assert.Equal(t, []launcher.PortBinding{
		{HostPort: 10000, TargetPort: BlobPort, Protocol: "tcp"},
		{HostPort: 20000, TargetPort: QueuePort, Protocol: "tcp"},
		{HostPort: 20001, TargetPort: TablePort, Protocol: "tcp"},
	}, spec.Ports)
	require.Len(t, spec.Mounts, 1)
	assert.Equal(t, "storage-data", spec.Mounts[0].Source)

	conn, _ := launcher.Env(containers[1].Env, "ConnectionStrings__blobs")
	assert.Equal(t, "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey="+DevAccountKey+
		";BlobEndpoint=http://host.docker.internal:10000/devstoreaccount1;", conn)

	e, err := st.Resource().ConnectionStringExpression()
	require.NoError(t, err)
	assert.Contains(t, e.ValueExpression(), "QueueEndpoint={storage-emulator.bindings.queue.url}/devstoreaccount1;")
}

func TestStorage_Publish(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := hosting.New(
		hosting.WithExecutionContext(model.NewExecutionContext(model.Publish)),
		hosting.WithLogger(logging.Discard()),
	)
	st := AddStorage(b, "storage")
	RunAsEmulator(st)
	ConfigureTemplate(st, func(tpl *Template) error {
		tpl.SKU = "Premium_LRS"
		return nil
	})
	AddQueues(st, "queues")
	hosting.AddContainer(b, "api", "api", "1").WithReference(st.Resource())
	hosting.AddContainer(b, "worker", "worker", "1").
		WithReference(st.Resource()).
		WithRoleAssignments(st.Resource(), BlobDataReader)

	_, emulated := st.Resource().Emulator()
	assert.False(t, emulated)

	app, err := b.Build()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, app.Publish(ctx, &buf, dir))

	var doc struct {
		Resources map[string]map[string]any `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.NotContains(t, doc.Resources, "storage-emulator")

	entry := doc.Resources["storage"]
	assert.Equal(t, "cloud.template.v0", entry["type"])
	assert.Equal(t, "{storage.outputs.connectionString}", entry["connectionString"])
	assert.Equal(t, "storage.module.json", entry["path"])
	assert.Equal(t, map[string]any{"principalId": "", "principalType": ""}, entry["params"])

	data, err := os.ReadFile(filepath.Join(dir, "storage.module.json"))
	require.NoError(t, err)
	var tpl Template
	require.NoError(t, json.Unmarshal(data, &tpl))
	assert.Equal(t, "Premium_LRS", tpl.SKU)

	queues := doc.Resources["queues"]
	assert.Equal(t, "value.v0", queues["type"])
	assert.Equal(t, "{storage.outputs.queueEndpoint}", queues["connectionString"])

	roles := doc.Resources["storage-roles"]
	require.NotNil(t, roles)
	assert.Equal(t, []any{
		map[string]any{"principal": "api", "definitions": []any{
			map[string]any{"id": BlobDataContributor.ID, "name": BlobDataContributor.Name},
			map[string]any{"id": TableDataContributor.ID, "name": TableDataContributor.Name},
			map[string]any{"id": QueueDataContributor.ID, "name": QueueDataContributor.Name},
		}},
		map[string]any{"principal": "worker", "definitions": []any{
			map[string]any{"id": BlobDataReader.ID, "name": BlobDataReader.Name},
		}},
	}, roles["roles"])
}

func TestConfigureTemplate_Error(t *testing.T) {
	b := hosting.New(hosting.WithLogger(logging.Discard()))
	st := AddStorage(b, "storage")
	ConfigureTemplate(st, nil)
	_, err := b.Build()
	assert.ErrorContains(t, err, "nil template callback")

	b = hosting.New(hosting.WithLogger(logging.Discard()))
	st = AddStorage(b, "storage")
	ConfigureTemplate(st, func(*Template) error { return assert.AnError })
	_, err = st.Resource().Template()
	assert.ErrorIs(t, err, assert.AnError)
}

package seq

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/launcher"
	"github.com/picklr-io/apphost/internal/lifecycle"
	"github.com/picklr-io/apphost/internal/logging"
	"github.com/picklr-io/apphost/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSeq_Run(t *testing.T) {
	ctx := context.Background()
	rec := launcher.NewRecorder()
	b := hosting.New(
		hosting.WithLauncher(rec),
		hosting.WithLogger(logging.Discard()),
		hosting.WithAllocator(&lifecycle.StaticAllocator{Next: 5341}),
	)
	logs := AddSeq(b, "logs", 0)
	WithDataVolume(logs, "")
	hosting.AddContainer(b, "api", "api", "1").WithReference(logs.Resource())

	app, err := b.Build()
	require.NoError(t, err)
	_, err = app.Start(ctx)
	require.NoError(t, err)

	spec, ok := rec.Container("logs")
	require.True(t, ok)
	assert.Equal(t, "docker.io/datalust/seq:2024.3", spec.Image)
	eula, _ := launcher.Env(spec.Env, "ACCEPT_EULA")
	assert.Equal(t, "Y", eula)
	require.Len(t, spec.Ports, 1)
	assert.Equal(t, 5341, spec.Ports[0].HostPort)
	assert.Equal(t, TargetPort, spec.Ports[0].TargetPort)
	require.Len(t, spec.Mounts, 1)
	assert.Equal(t, "logs-data", spec.Mounts[0].Source)

	api, ok := rec.Container("api")
	require.True(t, ok)
	conn, _ := launcher.Env(api.Env, "ConnectionStrings__logs")
	assert.Equal(t, "http://host.docker.internal:5341", conn)
}

func TestAddSeq_Publish(t *testing.T) {
	ctx := context.Background()
	b := hosting.New(
		hosting.WithExecutionContext(model.NewExecutionContext(model.Publish)),
		hosting.WithLogger(logging.Discard()),
	)
	AddSeq(b, "logs", 0)

	app, err := b.Build()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, app.Publish(ctx, &buf, t.TempDir()))

	var doc struct {
		Resources map[string]map[string]any `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	entry := doc.Resources["logs"]
	assert.Equal(t, "{logs.bindings.http.url}", entry["connectionString"])
	assert.Equal(t, map[string]any{"ACCEPT_EULA": "Y"}, entry["env"])
	assert.Equal(t, map[string]any{
		"http": map[string]any{"scheme": "http", "protocol": "tcp", "transport": "http", "targetPort": float64(TargetPort)},
	}, entry["bindings"])
}

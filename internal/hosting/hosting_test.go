package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/launcher"
	"github.com/picklr-io/apphost/internal/lifecycle"
	"github.com/picklr-io/apphost/internal/logging"
	"github.com/picklr-io/apphost/internal/model"
	"github.com/picklr-io/apphost/internal/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runBuilder(opts ...Option) (*Builder, *launcher.Recorder) {
	rec := launcher.NewRecorder()
	base := []Option{
		WithLauncher(rec),
		WithAllocator(&lifecycle.StaticAllocator{Next: 6000}),
		WithLogger(logging.Discard()),
		WithParallelism(1),
	}
	return New(append(base, opts...)...), rec
}

func publishBuilder(opts ...Option) *Builder {
	base := []Option{
		WithExecutionContext(model.NewExecutionContext(model.Publish)),
		WithLogger(logging.Discard()),
	}
	return New(append(base, opts...)...)
}

func TestResourceBuilder_ChainReturnsSameHandle(t *testing.T) {
	b, _ := runBuilder()
	rb := AddContainer(b, "api", "shop/api", "1.0")
	assert.Same(t, rb, rb.WithEnvironment("A", "1").WithArgs("--x").WithHTTPEndpoint(8080))
	assert.Equal(t, "api", rb.Name())
	assert.Same(t, b, rb.Builder())
}

func TestBuild_DuplicateNames(t *testing.T) {
	b, _ := runBuilder()
	AddContainer(b, "a", "img", "")
	AddContainer(b, "b", "img", "")
	AddParameter(b, "a")
	AddExecutable(b, "b", "go", ".")
	AddContainer(b, "c", "img", "")

	_, err := b.Build()
	var dup *model.DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, []string{"a", "b"}, dup.Names)

	ok, _ := runBuilder()
	AddContainer(ok, "a", "img", "")
	AddContainer(ok, "b", "img", "")
	_, err = ok.Build()
	assert.NoError(t, err)
}

func TestWithParent_Cycle(t *testing.T) {
	b, _ := runBuilder()
	root := AddContainer(b, "root", "img", "")
	mid := AddContainer(b, "mid", "img", "").WithParent(root.Resource())
	root.WithParent(mid.Resource())

	_, err := b.Build()
	var cyc *model.CyclicGraphError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"root", "mid", "root"}, cyc.Path)
}

func TestBuild_FreezesAndRejectsLateCalls(t *testing.T) {
	b, _ := runBuilder()
	api := AddContainer(b, "api", "img", "")
	_, err := b.Build()
	require.NoError(t, err)

	assert.ErrorIs(t, model.Annotate(api.Resource(), &model.WaitAnnotation{}), model.ErrFrozen)
	_, err = b.Build()
	assert.ErrorIs(t, err, ErrBuilt)

	AddContainer(b, "late", "img", "")
	assert.ErrorIs(t, b.Err(), ErrBuilt)
}

func TestBuild_ReportsEveryProblem(t *testing.T) {
	b, _ := runBuilder()
	outside := model.NewContainer("outside")
	api := AddContainer(b, "api", "img", "")
	api.WaitFor(outside)
	api.WithHTTPEndpoint(80).WithHTTPEndpoint(81)
	api.WithReference(model.NewContainer("bare"))
	Add(b, model.NewParameter("p", false)).WithImage("x", "y")

	_, err := b.Build()
	require.Error(t, err)
	assert.ErrorContains(t, err, "outside which is not part of the application")
	assert.ErrorContains(t, err, "endpoint http already declared")
	assert.ErrorContains(t, err, "bare exposes neither")
	assert.ErrorContains(t, err, "only containers have an image")
}

func TestAddLifecycleHook_Validates(t *testing.T) {
	b, _ := runBuilder()
	b.AddLifecycleHook(struct{}{})
	assert.ErrorContains(t, b.Err(), "implements no phase")
}

func TestWithImage_Registry(t *testing.T) {
	tests := []struct {
		image, registry, name string
	}{
		{"redis", "", "redis"},
		{"library/redis", "", "library/redis"},
		{"docker.io/library/redis", "docker.io", "library/redis"},
		{"quay.io/keycloak/keycloak", "quay.io", "keycloak/keycloak"},
		{"localhost:5000/app", "localhost:5000", "app"},
		{"localhost/app", "localhost", "app"},
	}
	for _, tt := range tests {
		t.Run(tt.image, func(t *testing.T) {
			registry, name := splitRegistry(tt.image)
			assert.Equal(t, tt.registry, registry)
			assert.Equal(t, tt.name, name)
		})
	}

	b, _ := runBuilder()
	c := AddContainer(b, "c", "redis", "7").WithImageRegistry("mirror.local")
	img, err := model.Image(c.Resource())
	require.NoError(t, err)
	assert.Equal(t, "mirror.local/redis:7", img.Reference())
}

type startCanceller struct{ cancel context.CancelFunc }

func (s startCanceller) AfterResourcesCreated(context.Context, *lifecycle.Model) error {
	s.cancel()
	return nil
}

func TestApplication_RunResolvesReferences(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, rec := runBuilder(WithParameterStore(params.Map{
		"Parameters:db-user":      "admin",
		"ConnectionStrings:legacy": "Server=old",
	}))
	user := AddParameter(b, "db-user")
	legacy := AddConnectionString(b, "legacy")
	db := AddContainer(b, "db", "postgres", "16").
		WithEndpoint("tcp", 5432).
		WithEnvironmentExpr("POSTGRES_USER", user.Resource())
	db.WithConnectionString(func() (*expr.ReferenceExpression, error) {
		return expr.New(
			expr.Literal("Host="), expr.Ref(db.Endpoint("tcp").Host()),
			expr.Literal(";Port="), expr.Ref(db.Endpoint("tcp").Port()),
		)
	})
	api := AddExecutable(b, "api", "go", ".", "run", "./cmd/api").
		WithHTTPEndpoint(8080, Port(8080)).
		WithReference(db.Resource()).
		WithReference(legacy.Resource())
	AddContainer(b, "web", "shop/web", "latest").WithReference(api.Resource()).WaitFor(api.Resource())
	b.AddLifecycleHook(startCanceller{cancel: cancel})

	app, err := b.Build()
	require.NoError(t, err)
	require.NoError(t, app.Run(ctx))

	dbSpec, ok := rec.Container("db")
	require.True(t, ok)
	v, _ := launcher.Env(dbSpec.Env, "POSTGRES_USER")
	assert.Equal(t, "admin", v)
	assert.Equal(t, []launcher.PortBinding{{HostPort: 6000, TargetPort: 5432, Protocol: "tcp"}}, dbSpec.Ports)

	exes := rec.Executables()
	require.Len(t, exes, 1)
	assert.Equal(t, []string{"run", "./cmd/api"}, exes[0].Args)
	v, _ = launcher.Env(exes[0].Env, "ConnectionStrings__db")
	assert.Equal(t, "Host=localhost;Port=6000", v)
	v, _ = launcher.Env(exes[0].Env, "ConnectionStrings__legacy")
	assert.Equal(t, "Server=old", v)

	web, ok := rec.Container("web")
	require.True(t, ok)
	v, _ = launcher.Env(web.Env, "services__api__http__0")
	assert.Equal(t, "http://host.docker.internal:8080", v)

	// Everything started is stopped again, in reverse order.
	stopped := rec.Stopped()
	require.Len(t, stopped, 3)
	assert.Equal(t, "web", stopped[0].Name)
	assert.Equal(t, "db", stopped[2].Name)
}

func TestApplication_ModeChecks(t *testing.T) {
	ctx := context.Background()

	b, _ := runBuilder()
	app, err := b.Build()
	require.NoError(t, err)
	assert.ErrorContains(t, app.Publish(ctx, &bytes.Buffer{}, ""), "publish mode")

	pub, err := publishBuilder().Build()
	require.NoError(t, err)
	_, err = pub.Start(ctx)
	assert.ErrorContains(t, err, "run mode")
}

func TestApplication_StartTwiceIsAllocationReuse(t *testing.T) {
	ctx := context.Background()
	b, _ := runBuilder()
	AddContainer(b, "c", "img", "").WithEndpoint("tcp", 1)
	app, err := b.Build()
	require.NoError(t, err)

	_, err = app.Start(ctx)
	require.NoError(t, err)
	_, err = app.Start(ctx)
	var reuse *model.AllocationReuseError
	assert.ErrorAs(t, err, &reuse)
}

func TestApplication_Publish(t *testing.T) {
	ctx := context.Background()
	b := publishBuilder()
	pass := AddGeneratedPassword(b, "db-password")
	db := AddContainer(b, "db", "postgres", "16").
		WithEndpoint("tcp", 5432).
		WithEnvironmentExpr("POSTGRES_PASSWORD", pass.Resource())
	db.WithConnectionString(func() (*expr.ReferenceExpression, error) {
		return expr.New(expr.Ref(db.Endpoint("tcp").Host()), expr.Literal(":"), expr.Ref(db.Endpoint("tcp").Port()))
	})
	AddContainer(b, "api", "shop/api", "1").WithReference(db.Resource())
	AddContainer(b, "debug", "busybox", "").ExcludeFromManifest()

	app, err := b.Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, app.Publish(ctx, &buf, t.TempDir()))

	var doc struct {
		Resources map[string]map[string]any `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.NotContains(t, doc.Resources, "debug")
	assert.Equal(t, "{db.bindings.tcp.host}:{db.bindings.tcp.port}", doc.Resources["db"]["connectionString"])
	assert.Equal(t, map[string]any{"POSTGRES_PASSWORD": "{db-password.value}"}, doc.Resources["db"]["env"])
	assert.Equal(t, map[string]any{"ConnectionStrings__db": "{db.connectionString}"}, doc.Resources["api"]["env"])
	assert.Equal(t, "parameter.v0", doc.Resources["db-password"]["type"])

	// Nothing was allocated.
	ep, _ := model.FindEndpoint(db.Resource(), "tcp")
	assert.Equal(t, model.EndpointDeclared, ep.State())
}

type failingSaver struct{}

func (failingSaver) Save(context.Context, string, string) error { return errors.New("read-only") }

func TestParameters_BoundToStores(t *testing.T) {
	ctx := context.Background()
	b, _ := runBuilder(WithParameterStore(params.Map{}), WithValueSaver(failingSaver{}))
	p := AddGeneratedPassword(b, "pw")
	_, err := p.Resource().Value(ctx)
	assert.ErrorContains(t, err, "read-only")

	missing := AddSecretParameter(b, "absent")
	_, err = missing.Resource().Value(ctx)
	assert.True(t, expr.IsMissingValue(err))
}

func TestBuild_RejectsNamesOutsidePlaceholderGrammar(t *testing.T) {
	b := publishBuilder()
	db := AddConnectionString(b, "my.db")
	AddContainer(b, "api", "shop/api", "1").WithReference(db.Resource())
	AddContainer(b, "two words", "img", "")

	_, err := b.Build()
	var invalid *model.InvalidNameError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "my.db", invalid.Name)
	assert.ErrorContains(t, err, `"two words"`)

	ok := publishBuilder()
	AddConnectionString(ok, "my-db_2")
	AddContainer(ok, "0api", "img", "")
	_, err = ok.Build()
	assert.NoError(t, err)
}

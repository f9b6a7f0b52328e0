package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/launcher"
	"github.com/picklr-io/apphost/internal/metrics"
	"github.com/picklr-io/apphost/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func container(t *testing.T, name string, annotations ...model.Annotation) *model.ContainerResource {
	t.Helper()
	c := model.NewContainer(name)
	require.NoError(t, model.Annotate(c, &model.ContainerImageAnnotation{Image: name, Tag: "latest"}))
	for _, a := range annotations {
		require.NoError(t, model.Annotate(c, a))
	}
	return c
}

func intPtr(v int) *int { return &v }

func TestAllocateEndpoints_ExactlyOnce(t *testing.T) {
	ctx := context.Background()
	cache := container(t, "cache", &model.EndpointAnnotation{Name: "tcp", TargetPort: 6379})
	m := NewModel(model.NewExecutionContext(model.Run), []model.Resource{cache})
	alloc := &StaticAllocator{Next: 5000}

	require.NoError(t, AllocateEndpoints(ctx, m, alloc, nil))
	assert.True(t, m.Allocated())

	err := AllocateEndpoints(ctx, m, alloc, nil)
	var reuse *model.AllocationReuseError
	require.ErrorAs(t, err, &reuse)
	assert.Equal(t, "cache", reuse.Resource)
	assert.Equal(t, "tcp", reuse.Endpoint)

	ep, _ := model.FindEndpoint(cache, "tcp")
	a, _ := ep.Allocated()
	assert.Equal(t, 5000, a.Port, "second run must not reassign")
}

func TestAllocateEndpoints_FixedAndRequested(t *testing.T) {
	ctx := context.Background()
	fixed := &model.AllocatedEndpoint{Address: "db.internal", Port: 5432, ContainerHost: "db.internal"}
	svc := container(t, "svc",
		&model.EndpointAnnotation{Name: "http", TargetPort: 80, Port: intPtr(8080)},
		&model.EndpointAnnotation{Name: "db", Fixed: fixed},
	)
	m := NewModel(model.NewExecutionContext(model.Run), []model.Resource{svc})
	mc := metrics.NewCollector("test")

	require.NoError(t, AllocateEndpoints(ctx, m, NewPortAllocator(), mc))

	http, _ := model.FindEndpoint(svc, "http")
	a, _ := http.Allocated()
	assert.Equal(t, model.AllocatedEndpoint{Address: "localhost", Port: 8080, ContainerHost: "host.docker.internal"}, a)

	db, _ := model.FindEndpoint(svc, "db")
	b, _ := db.Allocated()
	assert.Equal(t, *fixed, b)
}

func TestPortAllocator(t *testing.T) {
	ctx := context.Background()
	alloc := NewPortAllocator()
	r := model.NewContainer("svc")

	a1, err := alloc.Allocate(ctx, r, &model.EndpointAnnotation{Name: "a"})
	require.NoError(t, err)
	a2, err := alloc.Allocate(ctx, r, &model.EndpointAnnotation{Name: "b"})
	require.NoError(t, err)
	assert.NotZero(t, a1.Port)
	assert.NotEqual(t, a1.Port, a2.Port)

	_, err = alloc.Allocate(ctx, r, &model.EndpointAnnotation{Name: "c", Port: intPtr(a1.Port)})
	assert.ErrorContains(t, err, "already used")
}

func TestStaticAllocator(t *testing.T) {
	ctx := context.Background()
	r := model.NewContainer("cache1")
	alloc := &StaticAllocator{Bindings: map[string]model.AllocatedEndpoint{
		"cache1/tcp": {Address: "A", Port: 5001, ContainerHost: "A"},
	}}

	a, err := alloc.Allocate(ctx, r, &model.EndpointAnnotation{Name: "tcp"})
	require.NoError(t, err)
	assert.Equal(t, 5001, a.Port)

	_, err = alloc.Allocate(ctx, r, &model.EndpointAnnotation{Name: "other"})
	assert.Error(t, err)
}

type phaseRecorder struct {
	name   string
	events *[]string
	check  func(ctx context.Context, m *Model) error
}

func (p *phaseRecorder) BeforeStart(context.Context, *Model) error {
	*p.events = append(*p.events, p.name+":before-start")
	return nil
}

func (p *phaseRecorder) AfterEndpointsAllocated(ctx context.Context, m *Model) error {
	*p.events = append(*p.events, p.name+":allocated")
	if p.check != nil {
		return p.check(ctx, m)
	}
	return nil
}

func (p *phaseRecorder) AfterResourcesCreated(context.Context, *Model) error {
	*p.events = append(*p.events, p.name+":created")
	return nil
}

// hookedContainer is a resource that also observes the lifecycle.
type hookedContainer struct {
	model.ContainerResource
	events *[]string
}

func (h *hookedContainer) AfterEndpointsAllocated(context.Context, *Model) error {
	*h.events = append(*h.events, h.Name()+":allocated")
	return nil
}

func TestOrchestrator_PhaseOrder(t *testing.T) {
	ctx := context.Background()
	var events []string

	a := container(t, "a", &model.EndpointAnnotation{Name: "tcp", TargetPort: 1})
	b := container(t, "b", &model.EndpointAnnotation{Name: "tcp", TargetPort: 2})
	hooked := &hookedContainer{ContainerResource: *model.NewContainer("h"), events: &events}
	require.NoError(t, model.Annotate(hooked, &model.ContainerImageAnnotation{Image: "h"}))

	m := NewModel(model.NewExecutionContext(model.Run), []model.Resource{a, b, hooked})

	allResolvable := func(ctx context.Context, m *Model) error {
		for _, r := range m.Resources {
			for _, ep := range model.Endpoints(r) {
				if _, err := model.EndpointFor(r, ep.Name).Port().Value(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	}

	rec := launcher.NewRecorder()
	o := &Orchestrator{
		Allocator:   &StaticAllocator{Next: 7000},
		Launcher:    rec,
		Parallelism: 1,
		Hooks: []Hook{
			&phaseRecorder{name: "first", events: &events, check: allResolvable},
			&phaseRecorder{name: "second", events: &events},
		},
	}

	session, err := o.Start(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"first:before-start",
		"second:before-start",
		"first:allocated",
		"second:allocated",
		"h:allocated",
		"first:created",
		"second:created",
	}, events)
	assert.Len(t, session.Handles(), 3)

	require.NoError(t, session.Stop(ctx))
	stopped := rec.Stopped()
	require.Len(t, stopped, 3)
	assert.Equal(t, "h", stopped[0].Name)
	assert.Equal(t, "a", stopped[2].Name)
}

func TestOrchestrator_ContainerSpec(t *testing.T) {
	ctx := context.Background()
	pass := model.NewParameter("pass", true)
	pass.Default = &model.ParameterDefault{Value: "p@ssw0rd1"}

	db := container(t, "db", &model.EndpointAnnotation{Name: "tcp", TargetPort: 5432})
	api := container(t, "api",
		&model.EndpointAnnotation{Name: "http", TargetPort: 8080},
		&model.MountAnnotation{Source: "api-data", Target: "/data", Type: model.MountVolume},
		&model.WaitAnnotation{Resource: db},
		&model.EnvironmentCallbackAnnotation{Callback: func(ec *model.EnvironmentContext) error {
			ec.Env.Set("DB_PORT", model.EndpointFor(db, "tcp").Port())
			return nil
		}},
		&model.ArgsCallbackAnnotation{Callback: func(ac *model.ArgsContext) error {
			ac.AddString("--password")
			ac.Add(pass)
			return nil
		}},
	)
	m := NewModel(model.NewExecutionContext(model.Run), []model.Resource{api, db, pass})

	rec := launcher.NewRecorder()
	mc := metrics.NewCollector("test")
	o := &Orchestrator{Allocator: &StaticAllocator{Next: 6000}, Launcher: rec, Metrics: mc}
	_, err := o.Start(ctx, m)
	require.NoError(t, err)

	started := rec.Containers()
	require.Len(t, started, 2)
	assert.Equal(t, "db", started[0].Name, "db is waited for")

	spec := started[1]
	assert.Equal(t, "api:latest", spec.Image)
	assert.Equal(t, []string{"--password", "p@ssw0rd1"}, spec.Args)
	v, ok := launcher.Env(spec.Env, "DB_PORT")
	require.True(t, ok)
	assert.Equal(t, "6001", v)
	assert.Equal(t, []launcher.PortBinding{{HostPort: 6000, TargetPort: 8080, Protocol: "tcp"}}, spec.Ports)
	assert.Equal(t, []launcher.Mount{{Type: "volume", Source: "api-data", Target: "/data"}}, spec.Mounts)

	series, err := testutil.GatherAndCount(mc.Registry(), "test_resource_starts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestOrchestrator_ContainerConsumersUseContainerHost(t *testing.T) {
	ctx := context.Background()
	cache := container(t, "cache", &model.EndpointAnnotation{Name: "tcp", TargetPort: 6379})
	tcp := model.EndpointFor(cache, "tcp")
	conn := expr.MustNew(expr.Ref(tcp.Host()), expr.Literal(":"), expr.Ref(tcp.Port()), expr.Literal(",password=pw"))
	setConn := &model.EnvironmentCallbackAnnotation{Callback: func(ec *model.EnvironmentContext) error {
		ec.Env.Set("ConnectionStrings__cache", conn)
		return nil
	}}

	api := container(t, "api", setConn)
	worker := model.NewExecutable("worker", "go", "/src/worker")
	require.NoError(t, model.Annotate(worker, setConn))
	m := NewModel(model.NewExecutionContext(model.Run), []model.Resource{cache, api, worker})

	rec := launcher.NewRecorder()
	o := &Orchestrator{
		Allocator: &StaticAllocator{Bindings: map[string]model.AllocatedEndpoint{
			"cache/tcp": {Address: "localhost", Port: 7000, ContainerHost: "host.docker.internal"},
		}},
		Launcher: rec,
		Metrics:  metrics.NewCollector("test"),
	}
	_, err := o.Start(ctx, m)
	require.NoError(t, err)

	apiSpec, ok := rec.Container("api")
	require.True(t, ok)
	v, _ := launcher.Env(apiSpec.Env, "ConnectionStrings__cache")
	assert.Equal(t, "host.docker.internal:7000,password=pw", v)

	exes := rec.Executables()
	require.Len(t, exes, 1)
	v, _ = launcher.Env(exes[0].Env, "ConnectionStrings__cache")
	assert.Equal(t, "localhost:7000,password=pw", v)
}

func TestOrchestrator_StartFailureStopsStarted(t *testing.T) {
	ctx := context.Background()
	a := container(t, "a")
	b := container(t, "b", &model.WaitAnnotation{Resource: a})
	m := NewModel(model.NewExecutionContext(model.Run), []model.Resource{a, b})

	rec := launcher.NewRecorder()
	rec.Fail = map[string]error{"b": errors.New("image not found")}
	o := &Orchestrator{Allocator: &StaticAllocator{Next: 1}, Launcher: rec}

	_, err := o.Start(ctx, m)
	assert.ErrorContains(t, err, "failed to start b")
	require.Len(t, rec.Stopped(), 1)
	assert.Equal(t, "a", rec.Stopped()[0].Name)
}

func TestOrchestrator_MissingValueIsFatal(t *testing.T) {
	ctx := context.Background()
	secret := model.NewParameter("secret", true)
	svc := container(t, "svc", &model.EnvironmentCallbackAnnotation{Callback: func(ec *model.EnvironmentContext) error {
		ec.Env.Set("SECRET", secret)
		return nil
	}})
	m := NewModel(model.NewExecutionContext(model.Run), []model.Resource{secret, svc})

	o := &Orchestrator{Allocator: &StaticAllocator{Next: 1}, Launcher: launcher.NewRecorder()}
	_, err := o.Start(ctx, m)
	require.Error(t, err)
	assert.True(t, expr.IsMissingValue(err))
	assert.ErrorContains(t, err, "not ready after allocation")
}

func TestOrchestrator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewModel(model.NewExecutionContext(model.Run), nil)
	o := &Orchestrator{Launcher: launcher.NewRecorder()}
	_, err := o.Start(ctx, m)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildDAG(t *testing.T) {
	t.Run("waves keep registration order", func(t *testing.T) {
		db := model.NewContainer("db")
		cache := model.NewContainer("cache")
		api := model.NewContainer("api")
		worker := model.NewContainer("worker")
		require.NoError(t, model.Annotate(api, &model.WaitAnnotation{Resource: db}))
		require.NoError(t, model.Annotate(api, &model.ResourceRelationshipAnnotation{Resource: cache, Type: model.RelationshipReference}))
		require.NoError(t, model.Annotate(worker, &model.WaitAnnotation{Resource: api}))

		dag, err := BuildDAG([]model.Resource{worker, api, db, cache})
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"db", "cache"}, {"api"}, {"worker"}}, dag.Waves())
		assert.Equal(t, []string{"db", "cache", "api", "worker"}, dag.StartOrder())
		assert.Equal(t, []string{"worker", "api", "cache", "db"}, dag.StopOrder())
		assert.Equal(t, []string{"db", "cache"}, dag.Dependencies("api"))
	})

	t.Run("cycle", func(t *testing.T) {
		a := model.NewContainer("a")
		b := model.NewContainer("b")
		require.NoError(t, model.Annotate(a, &model.WaitAnnotation{Resource: b}))
		require.NoError(t, model.Annotate(b, &model.WaitAnnotation{Resource: a}))

		_, err := BuildDAG([]model.Resource{a, b})
		var cyc *model.CyclicGraphError
		require.ErrorAs(t, err, &cyc)
		assert.Equal(t, []string{"a", "b", "a"}, cyc.Path)
	})
}

func TestValidateHook(t *testing.T) {
	assert.NoError(t, ValidateHook(&phaseRecorder{events: new([]string)}))
	assert.Error(t, ValidateHook(struct{}{}))
}

func TestOrchestrator_BeforePublish(t *testing.T) {
	ctx := context.Background()
	var events []string
	a := container(t, "a", &model.EndpointAnnotation{Name: "tcp", TargetPort: 1})
	o := &Orchestrator{Hooks: []Hook{&phaseRecorder{name: "p", events: &events}}}

	m := NewModel(model.NewExecutionContext(model.Publish), []model.Resource{a})
	require.NoError(t, o.BeforePublish(ctx, m))
	assert.Equal(t, []string{"p:before-start"}, events)
	assert.False(t, m.Allocated())

	err := o.BeforePublish(ctx, NewModel(model.NewExecutionContext(model.Run), nil))
	assert.ErrorContains(t, err, "publish mode")
}

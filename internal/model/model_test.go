package model

import (
	"context"
	"errors"
	"testing"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AddPreservesOrder(t *testing.T) {
	c := NewContainer("api")
	require.NoError(t, Annotate(c, &EndpointAnnotation{Name: "http"}))
	require.NoError(t, Annotate(c, &MountAnnotation{Target: "/data"}))
	require.NoError(t, Annotate(c, &EndpointAnnotation{Name: "https"}))

	eps := Endpoints(c)
	require.Len(t, eps, 2)
	assert.Equal(t, "http", eps[0].Name)
	assert.Equal(t, "https", eps[1].Name)

	assert.Len(t, c.Annotations().OfKind(KindMount), 1)
	assert.Empty(t, c.Annotations().OfKind(KindWait))
	assert.Equal(t, 3, c.Annotations().Len())
}

func TestStore_SingletonReplaces(t *testing.T) {
	c := NewContainer("cache")
	require.NoError(t, Annotate(c, &ContainerImageAnnotation{Image: "redis", Tag: "7"}))
	require.NoError(t, Annotate(c, &EndpointAnnotation{Name: "tcp"}))
	require.NoError(t, Annotate(c, &ContainerImageAnnotation{Image: "redis", Tag: "7.4"}))

	imgs := All[*ContainerImageAnnotation](c)
	require.Len(t, imgs, 1)
	assert.Equal(t, "7.4", imgs[0].Tag)

	// The replacement moves to the end.
	items := c.Annotations().Items()
	assert.IsType(t, &ContainerImageAnnotation{}, items[len(items)-1])
}

func TestStore_ReplaceOrAddOnMulti(t *testing.T) {
	c := NewContainer("svc")
	require.NoError(t, Annotate(c, &EndpointAnnotation{Name: "a"}))
	require.NoError(t, Annotate(c, &EndpointAnnotation{Name: "b"}))
	require.NoError(t, c.Annotations().ReplaceOrAdd(&EndpointAnnotation{Name: "c"}))

	eps := Endpoints(c)
	require.Len(t, eps, 1)
	assert.Equal(t, "c", eps[0].Name)
}

func TestStore_Frozen(t *testing.T) {
	c := NewContainer("svc")
	c.Annotations().Freeze()

	err := Annotate(c, &EndpointAnnotation{Name: "http"})
	assert.ErrorIs(t, err, ErrFrozen)
	assert.ErrorIs(t, c.Annotations().ReplaceOrAdd(&ContainerImageAnnotation{}), ErrFrozen)
	assert.ErrorIs(t, c.Annotations().RemoveKind(KindEndpoint), ErrFrozen)
}

func TestLast(t *testing.T) {
	c := NewContainer("svc")
	_, ok := Last[*WaitAnnotation](c)
	assert.False(t, ok)

	a, b := NewContainer("a"), NewContainer("b")
	require.NoError(t, Annotate(c, &WaitAnnotation{Resource: a}))
	require.NoError(t, Annotate(c, &WaitAnnotation{Resource: b}))

	w, ok := Last[*WaitAnnotation](c)
	require.True(t, ok)
	assert.Equal(t, b, w.Resource)
}

func TestSetParent(t *testing.T) {
	root := NewContainer("root")
	mid := NewContainer("mid")
	leaf := NewContainer("leaf")

	require.NoError(t, SetParent(mid, root))
	require.NoError(t, SetParent(leaf, mid))

	assert.Equal(t, []Resource{mid, root}, Ancestors(leaf))
	assert.Equal(t, root, Root(leaf))
	assert.Equal(t, []Resource{mid, leaf}, Descendants([]Resource{root, mid, leaf}, root))

	t.Run("cycle", func(t *testing.T) {
		err := SetParent(root, leaf)
		var cyc *CyclicGraphError
		require.ErrorAs(t, err, &cyc)
		assert.Equal(t, []string{"root", "leaf", "mid", "root"}, cyc.Path)
		assert.Nil(t, root.Parent())
	})

	t.Run("self", func(t *testing.T) {
		err := SetParent(root, root)
		var cyc *CyclicGraphError
		assert.ErrorAs(t, err, &cyc)
	})
}

func TestEndpoint_AllocateOnce(t *testing.T) {
	c := NewContainer("cache")
	ep := &EndpointAnnotation{Name: "tcp", TargetPort: 6379}
	require.NoError(t, Annotate(c, ep))
	assert.Equal(t, EndpointDeclared, ep.State())

	require.NoError(t, ep.Allocate(c, AllocatedEndpoint{Address: "localhost", Port: 2000}))
	assert.Equal(t, EndpointAllocated, ep.State())

	err := ep.Allocate(c, AllocatedEndpoint{Address: "localhost", Port: 3000})
	var reuse *AllocationReuseError
	require.ErrorAs(t, err, &reuse)
	assert.Equal(t, "cache", reuse.Resource)
	assert.Equal(t, "tcp", reuse.Endpoint)

	a, ok := ep.Allocated()
	require.True(t, ok)
	assert.Equal(t, 2000, a.Port)
}

func TestEndpointReference_Values(t *testing.T) {
	ctx := context.Background()
	c := NewContainer("myRedis")
	ref := EndpointFor(c, "tcp")

	assert.Equal(t, "{myRedis.bindings.tcp.host}", ref.Host().ValueExpression())
	assert.Equal(t, "{myRedis.bindings.tcp.port}", ref.Port().ValueExpression())
	assert.Equal(t, "{myRedis.bindings.tcp.url}", ref.URL().ValueExpression())
	assert.False(t, ref.Exists())

	_, err := ref.Host().Value(ctx)
	assert.True(t, expr.IsMissingValue(err))

	ep := &EndpointAnnotation{Name: "tcp", TargetPort: 6379}
	require.NoError(t, Annotate(c, ep))
	_, err = ref.Port().Value(ctx)
	assert.True(t, expr.IsMissingValue(err), "declared but unallocated")

	require.NoError(t, ep.Allocate(c, AllocatedEndpoint{Address: "localhost", Port: 2000}))

	tests := []struct {
		name     string
		provider expr.ValueProvider
		want     string
	}{
		{"host", ref.Host(), "localhost"},
		{"port", ref.Port(), "2000"},
		{"url", ref.URL(), "tcp://localhost:2000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.provider.Value(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpointProperty_ContainerConsumer(t *testing.T) {
	ctx := context.Background()
	c := NewContainer("cache")
	ep := &EndpointAnnotation{Name: "tcp", TargetPort: 6379}
	require.NoError(t, Annotate(c, ep))
	require.NoError(t, ep.Allocate(c, AllocatedEndpoint{Address: "localhost", Port: 7000, ContainerHost: "host.docker.internal"}))
	ref := EndpointFor(c, "tcp")

	got, err := ref.Host().Value(ForContainer(ctx))
	require.NoError(t, err)
	assert.Equal(t, "host.docker.internal", got)
	got, err = ref.URL().Value(ForContainer(ctx))
	require.NoError(t, err)
	assert.Equal(t, "tcp://host.docker.internal:7000", got)

	got, err = ref.Host().Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "localhost", got, "host processes keep the address")

	bare := NewContainer("bare")
	bep := &EndpointAnnotation{Name: "tcp"}
	require.NoError(t, Annotate(bare, bep))
	require.NoError(t, bep.Allocate(bare, AllocatedEndpoint{Address: "10.0.0.5", Port: 80}))
	got, err = EndpointFor(bare, "tcp").Host().Value(ForContainer(ctx))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", got, "no container host falls back to the address")
}

type mapSource map[string]string

func (m mapSource) Lookup(_ context.Context, name string) (string, bool, error) {
	v, ok := m[name]
	return v, ok, nil
}

type recordingSaver struct {
	saved map[string]string
}

func (r *recordingSaver) Save(_ context.Context, name, value string) error {
	if r.saved == nil {
		r.saved = make(map[string]string)
	}
	r.saved[name] = value
	return nil
}

func TestParameter_Value(t *testing.T) {
	ctx := context.Background()

	t.Run("from source", func(t *testing.T) {
		p := NewParameter("pass", true)
		p.Bind(mapSource{"Parameters:pass": "p@ssw0rd1"}, nil)
		v, err := p.Value(ctx)
		require.NoError(t, err)
		assert.Equal(t, "p@ssw0rd1", v)
		assert.Equal(t, "{pass.value}", p.ValueExpression())
	})

	t.Run("missing", func(t *testing.T) {
		p := NewParameter("pass", true)
		_, err := p.Value(ctx)
		var mv *expr.MissingValueError
		require.ErrorAs(t, err, &mv)
		assert.Equal(t, "{pass.value}", mv.Placeholder)
	})

	t.Run("constant default", func(t *testing.T) {
		p := NewParameter("user", false)
		p.Default = &ParameterDefault{Value: "admin"}
		v, err := p.Value(ctx)
		require.NoError(t, err)
		assert.Equal(t, "admin", v)
	})

	t.Run("generated default is stable and saved", func(t *testing.T) {
		saver := &recordingSaver{}
		p := NewParameter("gen", true)
		p.Default = &ParameterDefault{MinLength: 22}
		p.Bind(mapSource{}, saver)

		v1, err := p.Value(ctx)
		require.NoError(t, err)
		v2, err := p.Value(ctx)
		require.NoError(t, err)
		assert.Len(t, v1, 22)
		assert.Equal(t, v1, v2)
		assert.Equal(t, v1, saver.saved["Parameters:gen"])
	})

	t.Run("connection string key", func(t *testing.T) {
		p := NewParameter("db", true)
		p.ConnectionString = true
		p.Bind(mapSource{"ConnectionStrings:db": "Server=x"}, nil)
		v, err := p.Value(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Server=x", v)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		p := NewParameter("user", false)
		p.Default = &ParameterDefault{Value: "admin"}
		_, err := p.Value(cctx)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestEvaluateEnvironment(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutionContext(Run)
	c := NewContainer("svc")

	require.NoError(t, Annotate(c, &EnvironmentCallbackAnnotation{Callback: func(ec *EnvironmentContext) error {
		ec.Env.SetString("A", "1")
		ec.Env.SetString("B", "2")
		return nil
	}}))
	require.NoError(t, Annotate(c, &EnvironmentCallbackAnnotation{Callback: func(ec *EnvironmentContext) error {
		assert.True(t, ec.Execution.IsRunMode())
		ec.Env.SetString("A", "3")
		return nil
	}}))

	env, err := EvaluateEnvironment(ctx, exec, c)
	require.NoError(t, err)
	vars, err := env.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, []EnvVar{{Name: "A", Value: "3"}, {Name: "B", Value: "2"}}, vars)

	t.Run("callback error", func(t *testing.T) {
		bad := NewContainer("bad")
		require.NoError(t, Annotate(bad, &EnvironmentCallbackAnnotation{Callback: func(*EnvironmentContext) error {
			return errors.New("boom")
		}}))
		_, err := EvaluateEnvironment(ctx, exec, bad)
		assert.ErrorContains(t, err, "boom")
	})
}

func TestEvaluateArgs(t *testing.T) {
	ctx := context.Background()
	c := NewContainer("svc")
	p := NewParameter("pass", true)
	p.Bind(mapSource{"Parameters:pass": "secret"}, nil)

	require.NoError(t, Annotate(c, &ArgsCallbackAnnotation{Callback: func(ac *ArgsContext) error {
		ac.AddString("--requirepass")
		ac.Add(p)
		return nil
	}}))

	args, err := EvaluateArgs(ctx, NewExecutionContext(Run), c)
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, "{pass.value}", args[1].ValueExpression())

	resolved, err := ResolveArgs(ctx, args)
	require.NoError(t, err)
	assert.Equal(t, []string{"--requirepass", "secret"}, resolved)
}

func TestConnectionStringReference(t *testing.T) {
	ctx := context.Background()
	c := NewContainer("db")
	ref := ConnectionStringOf(c)
	assert.Equal(t, "{db.connectionString}", ref.ValueExpression())

	_, err := ref.Value(ctx)
	assert.True(t, expr.IsMissingValue(err))

	require.NoError(t, Annotate(c, &ConnectionStringAnnotation{Expression: func() (*expr.ReferenceExpression, error) {
		return expr.String("Host=db"), nil
	}}))
	v, err := ref.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Host=db", v)
}

func TestOutputReference(t *testing.T) {
	ctx := context.Background()
	s := NewContainer("storage")
	outputs := &OutputsAnnotation{}
	require.NoError(t, Annotate(s, outputs))

	ref := OutputOf(s, "blobEndpoint")
	assert.Equal(t, "{storage.outputs.blobEndpoint}", ref.ValueExpression())
	_, err := ref.Value(ctx)
	assert.True(t, expr.IsMissingValue(err))

	outputs.Set("blobEndpoint", "https://x.blob")
	v, err := ref.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://x.blob", v)
}

func TestEffectiveRoles(t *testing.T) {
	reader := RoleDefinition{ID: "r", Name: "Reader"}
	writer := RoleDefinition{ID: "w", Name: "Writer"}
	owner := RoleDefinition{ID: "o", Name: "Owner"}

	storage := NewContainer("storage")
	require.NoError(t, Annotate(storage, &DefaultRoleAssignmentsAnnotation{Roles: []RoleDefinition{owner}}))

	t.Run("defaults when no explicit", func(t *testing.T) {
		api := NewContainer("api")
		require.NoError(t, Annotate(api, &ResourceRelationshipAnnotation{Resource: storage, Type: RelationshipReference}))
		assert.Equal(t, []RoleDefinition{owner}, EffectiveRoles(api, storage))
		assert.Equal(t, []Resource{storage}, RoleTargets(api))
	})

	t.Run("explicit assignments accumulate", func(t *testing.T) {
		api := NewContainer("api")
		require.NoError(t, Annotate(api, &RoleAssignmentAnnotation{Target: storage, Roles: []RoleDefinition{reader}}))
		require.NoError(t, Annotate(api, &RoleAssignmentAnnotation{Target: storage, Roles: []RoleDefinition{writer, reader}}))
		assert.Equal(t, []RoleDefinition{reader, writer}, EffectiveRoles(api, storage))
	})

	t.Run("cleared defaults", func(t *testing.T) {
		target := NewContainer("t")
		require.NoError(t, Annotate(target, &DefaultRoleAssignmentsAnnotation{Roles: []RoleDefinition{owner}}))
		require.NoError(t, ClearDefaultRoleAssignments(target))
		assert.Empty(t, EffectiveRoles(NewContainer("api"), target))
	})
}

func TestDependencies(t *testing.T) {
	db := NewContainer("db")
	cache := NewContainer("cache")
	pass := NewParameter("pass", true)
	api := NewContainer("api")

	require.NoError(t, Annotate(api, &ResourceRelationshipAnnotation{Resource: cache, Type: RelationshipReference}))
	require.NoError(t, Annotate(api, &WaitAnnotation{Resource: db}))
	require.NoError(t, Annotate(api, &WaitAnnotation{Resource: cache}))
	require.NoError(t, Annotate(api, &ResourceRelationshipAnnotation{Resource: pass, Type: RelationshipReference}))

	assert.Equal(t, []Resource{cache, db}, Dependencies(api))
}

func TestExcludedFromManifest(t *testing.T) {
	c := NewContainer("svc")
	assert.False(t, ExcludedFromManifest(c))
	require.NoError(t, Annotate(c, &ManifestPublishingCallbackAnnotation{}))
	assert.True(t, ExcludedFromManifest(c))
}

func TestContainerImageReference(t *testing.T) {
	tests := []struct {
		img  ContainerImageAnnotation
		want string
	}{
		{ContainerImageAnnotation{Image: "redis"}, "redis"},
		{ContainerImageAnnotation{Image: "redis", Tag: "7.4"}, "redis:7.4"},
		{ContainerImageAnnotation{Registry: "docker.io", Image: "library/redis", Tag: "7.4"}, "docker.io/library/redis:7.4"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.img.Reference())
		})
	}
}

// rawProvider hands out whatever template it holds, valid or not.
type rawProvider string

func (p rawProvider) ValueExpression() string { return string(p) }
func (p rawProvider) Value(context.Context) (string, error) { return "v", nil }

func TestEvaluate_RejectsInvalidPlaceholders(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutionContext(Publish)

	c := NewContainer("api")
	require.NoError(t, Annotate(c, &EnvironmentCallbackAnnotation{Callback: func(ec *EnvironmentContext) error {
		ec.Env.Set("GOOD", rawProvider("{db.value}"))
		ec.Env.Set("BAD", rawProvider("{my.db.value}"))
		return nil
	}}))
	require.NoError(t, Annotate(c, &ArgsCallbackAnnotation{Callback: func(ac *ArgsContext) error {
		ac.Add(rawProvider("{db.bindings.tcp.port}"), rawProvider("{db.secret}"))
		return nil
	}}))

	_, err := EvaluateEnvironment(ctx, exec, c)
	var ip *expr.InvalidPlaceholderError
	require.ErrorAs(t, err, &ip)
	assert.Equal(t, "{my.db.value}", ip.Placeholder)
	assert.ErrorContains(t, err, "env BAD")

	_, err = EvaluateArgs(ctx, exec, c)
	require.ErrorAs(t, err, &ip)
	assert.Equal(t, "{db.secret}", ip.Placeholder)

	env := NewEnvSet()
	env.Set("NIL", nil)
	assert.Error(t, env.Err())
	assert.Zero(t, env.Len())
}

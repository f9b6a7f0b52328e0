package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/picklr-io/apphost/internal/expr"
	"github.com/picklr-io/apphost/internal/launcher"
	"github.com/picklr-io/apphost/internal/metrics"
	"github.com/picklr-io/apphost/internal/model"
)

// BuildContainerSpec resolves everything needed to start container r. All
// endpoints must be allocated.
func BuildContainerSpec(ctx context.Context, exec *model.ExecutionContext, r model.Resource, mc *metrics.Collector) (launcher.ContainerSpec, error) {
	c, ok := model.AsContainer(r)
	if !ok {
		return launcher.ContainerSpec{}, fmt.Errorf("resource %s is not a container", r.Name())
	}
	img, err := model.Image(r)
	if err != nil {
		return launcher.ContainerSpec{}, err
	}

	env, args, err := resolveEnvAndArgs(model.ForContainer(ctx), exec, r, mc)
	if err != nil {
		return launcher.ContainerSpec{}, err
	}

	spec := launcher.ContainerSpec{
		Name:       r.Name(),
		Image:      img.Reference(),
		Platform:   img.Platform,
		Entrypoint: c.Entrypoint,
		Args:       args,
		Env:        env,
	}

	for _, ep := range model.Endpoints(r) {
		a, ok := ep.Allocated()
		if !ok {
			return launcher.ContainerSpec{}, &expr.MissingValueError{
				Placeholder: model.EndpointFor(r, ep.Name).Port().ValueExpression(),
				Reason:      "endpoint not allocated",
			}
		}
		if ep.Fixed != nil {
			continue
		}
		target := ep.TargetPort
		if target == 0 {
			target = a.Port
		}
		spec.Ports = append(spec.Ports, launcher.PortBinding{
			HostPort:   a.Port,
			TargetPort: target,
			Protocol:   portProtocol(ep.Protocol),
		})
	}

	for _, m := range model.All[*model.MountAnnotation](r) {
		spec.Mounts = append(spec.Mounts, launcher.Mount{
			Type:     string(m.Type),
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	for _, ra := range model.All[*model.ContainerRuntimeArgsAnnotation](r) {
		spec.RuntimeArgs = append(spec.RuntimeArgs, ra.Args...)
	}
	return spec, nil
}

// BuildExecutableSpec resolves everything needed to start executable r.
func BuildExecutableSpec(ctx context.Context, exec *model.ExecutionContext, r model.Resource, mc *metrics.Collector) (launcher.ExecutableSpec, error) {
	e, ok := model.AsExecutable(r)
	if !ok {
		return launcher.ExecutableSpec{}, fmt.Errorf("resource %s is not an executable", r.Name())
	}
	env, args, err := resolveEnvAndArgs(ctx, exec, r, mc)
	if err != nil {
		return launcher.ExecutableSpec{}, err
	}
	return launcher.ExecutableSpec{
		Name:       r.Name(),
		Command:    e.Command,
		Args:       args,
		WorkingDir: e.WorkingDir,
		Env:        env,
	}, nil
}

func resolveEnvAndArgs(ctx context.Context, exec *model.ExecutionContext, r model.Resource, mc *metrics.Collector) ([]launcher.EnvVar, []string, error) {
	envSet, err := model.EvaluateEnvironment(ctx, exec, r)
	if err != nil {
		return nil, nil, err
	}
	vars, err := envSet.Resolve(ctx)
	mc.RecordResolution(err)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve environment of %s: %w", r.Name(), err)
	}

	providers, err := model.EvaluateArgs(ctx, exec, r)
	if err != nil {
		return nil, nil, err
	}
	args, err := model.ResolveArgs(ctx, providers)
	mc.RecordResolution(err)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve args of %s: %w", r.Name(), err)
	}

	env := make([]launcher.EnvVar, 0, len(vars))
	for _, v := range vars {
		env = append(env, launcher.EnvVar{Name: v.Name, Value: v.Value})
	}
	return env, args, nil
}

func portProtocol(p string) string {
	if strings.EqualFold(p, "udp") {
		return "udp"
	}
	return "tcp"
}

// Package launcher starts containers and local processes for run mode.
package launcher

import (
	"context"
	"errors"
	"fmt"
)

// EnvVar is a resolved environment variable.
type EnvVar struct {
	Name  string
	Value string
}

// PortBinding publishes a container port on the host.
type PortBinding struct {
	HostIP     string
	HostPort   int
	TargetPort int
	// Protocol is tcp or udp.
	Protocol string
}

// Mount attaches storage to a container.
type Mount struct {
	// Type is volume or bind.
	Type     string
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerSpec is a fully resolved container to start.
type ContainerSpec struct {
	Name       string
	Image      string
	Platform   string
	Entrypoint string
	Args       []string
	Env        []EnvVar
	Ports      []PortBinding
	Mounts     []Mount
	Labels     map[string]string
	// RuntimeArgs are extra flags for the container runtime CLI.
	RuntimeArgs []string
}

// ExecutableSpec is a fully resolved local process to start.
type ExecutableSpec struct {
	Name       string
	Command    string
	Args       []string
	WorkingDir string
	Env        []EnvVar
}

// Handle identifies a started container or process.
type Handle struct {
	ID   string
	Name string
	Kind string
}

const (
	KindContainer  = "container"
	KindExecutable = "executable"
)

// ContainerLauncher starts and stops containers.
type ContainerLauncher interface {
	StartContainer(ctx context.Context, spec ContainerSpec) (Handle, error)
	StopContainer(ctx context.Context, h Handle) error
}

// ExecutableLauncher starts and stops local processes.
type ExecutableLauncher interface {
	StartExecutable(ctx context.Context, spec ExecutableSpec) (Handle, error)
	StopExecutable(ctx context.Context, h Handle) error
}

// Launcher starts resources in run mode.
type Launcher interface {
	ContainerLauncher
	ExecutableLauncher
	Stop(ctx context.Context, h Handle) error
}

// ErrUnsupported is returned by a Local launcher missing a backend.
var ErrUnsupported = errors.New("launcher backend not configured")

// Local combines a container backend and a process backend. Either may be
// nil, in which case starts of that kind fail with ErrUnsupported.
type Local struct {
	Containers  ContainerLauncher
	Executables ExecutableLauncher
}

func (l *Local) StartContainer(ctx context.Context, spec ContainerSpec) (Handle, error) {
	if l.Containers == nil {
		return Handle{}, fmt.Errorf("failed to start container %s: %w", spec.Name, ErrUnsupported)
	}
	return l.Containers.StartContainer(ctx, spec)
}

func (l *Local) StopContainer(ctx context.Context, h Handle) error {
	if l.Containers == nil {
		return ErrUnsupported
	}
	return l.Containers.StopContainer(ctx, h)
}

func (l *Local) StartExecutable(ctx context.Context, spec ExecutableSpec) (Handle, error) {
	if l.Executables == nil {
		return Handle{}, fmt.Errorf("failed to start executable %s: %w", spec.Name, ErrUnsupported)
	}
	return l.Executables.StartExecutable(ctx, spec)
}

func (l *Local) StopExecutable(ctx context.Context, h Handle) error {
	if l.Executables == nil {
		return ErrUnsupported
	}
	return l.Executables.StopExecutable(ctx, h)
}

// Stop dispatches on the handle kind.
func (l *Local) Stop(ctx context.Context, h Handle) error {
	switch h.Kind {
	case KindContainer:
		return l.StopContainer(ctx, h)
	case KindExecutable:
		return l.StopExecutable(ctx, h)
	}
	return fmt.Errorf("unknown handle kind %q", h.Kind)
}

func envList(env []EnvVar) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		out = append(out, fmt.Sprintf("%s=%s", e.Name, e.Value))
	}
	return out
}

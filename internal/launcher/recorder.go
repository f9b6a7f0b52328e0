package launcher

import (
	"context"
	"fmt"
	"sync"
)

// Recorder is a Launcher that starts nothing and records every call. It backs
// dry runs and tests.
type Recorder struct {
	mu          sync.Mutex
	containers  []ContainerSpec
	executables []ExecutableSpec
	stopped     []Handle
	// Fail makes starts of the named resources fail.
	Fail map[string]error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) StartContainer(ctx context.Context, spec ContainerSpec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail[spec.Name]; err != nil {
		return Handle{}, err
	}
	r.containers = append(r.containers, spec)
	return Handle{ID: fmt.Sprintf("container-%d", len(r.containers)), Name: spec.Name, Kind: KindContainer}, nil
}

func (r *Recorder) StopContainer(_ context.Context, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, h)
	return nil
}

func (r *Recorder) StartExecutable(ctx context.Context, spec ExecutableSpec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail[spec.Name]; err != nil {
		return Handle{}, err
	}
	r.executables = append(r.executables, spec)
	return Handle{ID: fmt.Sprintf("executable-%d", len(r.executables)), Name: spec.Name, Kind: KindExecutable}, nil
}

func (r *Recorder) StopExecutable(_ context.Context, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, h)
	return nil
}

func (r *Recorder) Stop(ctx context.Context, h Handle) error {
	if h.Kind == KindExecutable {
		return r.StopExecutable(ctx, h)
	}
	return r.StopContainer(ctx, h)
}

// Containers returns the started containers in start order.
func (r *Recorder) Containers() []ContainerSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ContainerSpec(nil), r.containers...)
}

// Container returns the spec of the container called name.
func (r *Recorder) Container(name string) (ContainerSpec, bool) {
	for _, c := range r.Containers() {
		if c.Name == name {
			return c, true
		}
	}
	return ContainerSpec{}, false
}

// Executables returns the started executables in start order.
func (r *Recorder) Executables() []ExecutableSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExecutableSpec(nil), r.executables...)
}

// Stopped returns the stopped handles in stop order.
func (r *Recorder) Stopped() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Handle(nil), r.stopped...)
}

// Env returns the value of name in env.
func Env(env []EnvVar, name string) (string, bool) {
	for _, e := range env {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

package launcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Process starts executables as child processes of the host.
type Process struct {
	logger *slog.Logger

	mu    sync.Mutex
	procs map[string]*exec.Cmd
	done  map[string]chan struct{}
	// GracePeriod is how long Stop waits after SIGTERM before killing.
	GracePeriod time.Duration
}

// NewProcess returns a process launcher that logs child output to logger.
func NewProcess(logger *slog.Logger) *Process {
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{
		logger:      logger,
		procs:       make(map[string]*exec.Cmd),
		done:        make(map[string]chan struct{}),
		GracePeriod: 5 * time.Second,
	}
}

func (p *Process) StartExecutable(ctx context.Context, spec ExecutableSpec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = append(os.Environ(), envList(spec.Env)...)
	cmd.Stdout = &lineLogger{logger: p.logger, resource: spec.Name, stream: "stdout"}
	cmd.Stderr = &lineLogger{logger: p.logger, resource: spec.Name, stream: "stderr"}

	if err := cmd.Start(); err != nil {
		return Handle{}, fmt.Errorf("failed to start executable %s: %w", spec.Name, err)
	}

	id := strconv.Itoa(cmd.Process.Pid)
	done := make(chan struct{})
	p.mu.Lock()
	p.procs[id] = cmd
	p.done[id] = done
	p.mu.Unlock()

	go func() {
		err := cmd.Wait()
		close(done)
		p.logger.Info("executable exited", "resource", spec.Name, "pid", id, "error", err)
	}()

	p.logger.Info("executable started", "resource", spec.Name, "pid", id, "command", spec.Command)
	return Handle{ID: id, Name: spec.Name, Kind: KindExecutable}, nil
}

func (p *Process) StopExecutable(ctx context.Context, h Handle) error {
	p.mu.Lock()
	cmd, ok := p.procs[h.ID]
	done := p.done[h.ID]
	delete(p.procs, h.ID)
	delete(p.done, h.ID)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return nil
	case <-time.After(p.GracePeriod):
	case <-ctx.Done():
	}
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill executable %s: %w", h.Name, err)
	}
	<-done
	return nil
}

// lineLogger forwards complete output lines to slog.
type lineLogger struct {
	logger   *slog.Logger
	resource string
	stream   string
	buf      bytes.Buffer
	mu       sync.Mutex
}

func (l *lineLogger) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(b)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(l.buf.Next(i+1), "\r\n")
		l.logger.Info(string(line), "resource", l.resource, "stream", l.stream)
	}
	return len(b), nil
}

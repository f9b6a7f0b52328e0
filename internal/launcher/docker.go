package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	// LabelSession tags every container started by one host run.
	LabelSession = "io.picklr.apphost.session"
	// LabelResource carries the resource name.
	LabelResource = "io.picklr.apphost.resource"
)

// dockerAPI is the subset of the Docker client the launcher uses.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error)
}

// Docker starts containers through the Docker Engine API.
type Docker struct {
	client  dockerAPI
	session string
	retry   *RetryPolicy
	logger  *slog.Logger
	// StopTimeout is the grace period in seconds before a container is killed.
	StopTimeout int
}

// NewDocker connects to the daemon named by the DOCKER_* environment.
func NewDocker(logger *slog.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return newDocker(cli, logger), nil
}

func newDocker(api dockerAPI, logger *slog.Logger) *Docker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Docker{
		client:      api,
		session:     uuid.NewString(),
		retry:       DefaultRetryPolicy(),
		logger:      logger,
		StopTimeout: 10,
	}
}

// Session returns the label value shared by this launcher's containers.
func (d *Docker) Session() string { return d.session }

func (d *Docker) StartContainer(ctx context.Context, spec ContainerSpec) (Handle, error) {
	if err := d.pull(ctx, spec.Image); err != nil {
		return Handle{}, err
	}

	for _, m := range spec.Mounts {
		if m.Type != "volume" || m.Source == "" {
			continue
		}
		if _, err := d.client.VolumeCreate(ctx, volume.CreateOptions{
			Name:   m.Source,
			Labels: map[string]string{LabelSession: d.session},
		}); err != nil {
			return Handle{}, fmt.Errorf("failed to create volume %s: %w", m.Source, err)
		}
	}

	config, hostConfig, err := d.containerConfig(spec)
	if err != nil {
		return Handle{}, err
	}
	if len(spec.RuntimeArgs) > 0 {
		d.logger.Warn("container runtime args are not supported by the Docker API launcher",
			"resource", spec.Name, "args", strings.Join(spec.RuntimeArgs, " "))
	}

	resp, err := d.client.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, parsePlatform(spec.Platform), spec.Name)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		err = fmt.Errorf("failed to start container %s: %w", spec.Name, err)
		// The created container is not handed out, so nothing else removes it.
		if rmErr := d.client.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil && !client.IsErrNotFound(rmErr) {
			err = errors.Join(err, fmt.Errorf("failed to remove container %s: %w", spec.Name, rmErr))
		}
		return Handle{}, err
	}

	d.logger.Info("container started", "resource", spec.Name, "id", shortID(resp.ID), "image", spec.Image)
	return Handle{ID: resp.ID, Name: spec.Name, Kind: KindContainer}, nil
}

func (d *Docker) StopContainer(ctx context.Context, h Handle) error {
	timeout := d.StopTimeout
	_ = d.client.ContainerStop(ctx, h.ID, container.StopOptions{Timeout: &timeout})
	if err := d.client.ContainerRemove(ctx, h.ID, container.RemoveOptions{Force: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove container %s: %w", h.Name, err)
		}
	}
	d.logger.Info("container removed", "resource", h.Name, "id", shortID(h.ID))
	return nil
}

func (d *Docker) pull(ctx context.Context, ref string) error {
	err := RetryWithBackoff(ctx, d.retry, func() error {
		reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return err
		}
		defer reader.Close()
		_, err = io.Copy(io.Discard, reader)
		return err
	}, IsTransientError)
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

func (d *Docker) containerConfig(spec ContainerSpec) (*container.Config, *container.HostConfig, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, strconv.Itoa(p.TargetPort))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid target port %d: %w", p.TargetPort, err)
		}
		hostIP := p.HostIP
		if hostIP == "" {
			hostIP = "0.0.0.0"
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   hostIP,
			HostPort: strconv.Itoa(p.HostPort),
		})
	}

	var mounts []mount.Mount
	for _, m := range spec.Mounts {
		mt := mount.TypeVolume
		source := m.Source
		if m.Type == "bind" {
			mt = mount.TypeBind
			abs, err := filepath.Abs(source)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to resolve bind mount source %s: %w", source, err)
			}
			source = abs
		}
		mounts = append(mounts, mount.Mount{
			Type:     mt,
			Source:   source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	labels := map[string]string{LabelSession: d.session, LabelResource: spec.Name}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	config := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Args,
		Env:          envList(spec.Env),
		Labels:       labels,
		ExposedPorts: exposed,
	}
	if spec.Entrypoint != "" {
		config.Entrypoint = []string{spec.Entrypoint}
	}

	hostConfig := &container.HostConfig{
		PortBindings: bindings,
		Mounts:       mounts,
		ExtraHosts:   []string{"host.docker.internal:host-gateway"},
	}
	return config, hostConfig, nil
}

// parsePlatform turns os/arch[/variant] into an OCI platform.
func parsePlatform(s string) *v1.Platform {
	if s == "" {
		return nil
	}
	parts := strings.SplitN(s, "/", 3)
	p := &v1.Platform{OS: parts[0]}
	if len(parts) > 1 {
		p.Architecture = parts[1]
	}
	if len(parts) > 2 {
		p.Variant = parts[2]
	}
	return p
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

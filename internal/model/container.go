package model

import "fmt"

// ContainerResource is a resource started from a container image.
type ContainerResource struct {
	Base
	// Entrypoint overrides the image entrypoint when set.
	Entrypoint string
}

// NewContainer returns a container resource.
func NewContainer(name string) *ContainerResource {
	return &ContainerResource{Base: NewBase(name)}
}

// ExecutableResource is a resource started as a local process.
type ExecutableResource struct {
	Base
	Command    string
	WorkingDir string
}

// NewExecutable returns an executable resource.
func NewExecutable(name, command, workingDir string) *ExecutableResource {
	return &ExecutableResource{Base: NewBase(name), Command: command, WorkingDir: workingDir}
}

// ContainerImageAnnotation names the image of a container resource.
type ContainerImageAnnotation struct {
	Registry string
	Image    string
	Tag      string
	// Platform is an os/arch[/variant] string, e.g. linux/amd64.
	Platform string
}

func (*ContainerImageAnnotation) Kind() Kind               { return KindContainerImage }
func (*ContainerImageAnnotation) Cardinality() Cardinality { return Singleton }

// Reference returns registry/image:tag.
func (a *ContainerImageAnnotation) Reference() string {
	ref := a.Image
	if a.Registry != "" {
		ref = a.Registry + "/" + ref
	}
	if a.Tag != "" {
		ref += ":" + a.Tag
	}
	return ref
}

// Image returns r's image annotation.
func Image(r Resource) (*ContainerImageAnnotation, error) {
	img, ok := Last[*ContainerImageAnnotation](r)
	if !ok {
		return nil, fmt.Errorf("resource %s has no container image", r.Name())
	}
	return img, nil
}

// MountType distinguishes named volumes from host bind mounts.
type MountType string

const (
	MountVolume MountType = "volume"
	MountBind   MountType = "bind"
)

// MountAnnotation attaches storage to a container.
type MountAnnotation struct {
	// Source is the volume name or the host path. An empty volume source is
	// an anonymous volume.
	Source   string
	Target   string
	Type     MountType
	ReadOnly bool
}

func (*MountAnnotation) Kind() Kind               { return KindMount }
func (*MountAnnotation) Cardinality() Cardinality { return Multi }

// ContainerRuntimeArgsAnnotation passes extra flags to the container runtime.
type ContainerRuntimeArgsAnnotation struct {
	Args []string
}

func (*ContainerRuntimeArgsAnnotation) Kind() Kind               { return KindContainerRuntimeArgs }
func (*ContainerRuntimeArgsAnnotation) Cardinality() Cardinality { return Multi }

// Container is satisfied by every type embedding ContainerResource.
type Container interface {
	Resource
	container() *ContainerResource
}

func (c *ContainerResource) container() *ContainerResource { return c }

// AsContainer returns the container part of r.
func AsContainer(r Resource) (*ContainerResource, bool) {
	c, ok := r.(Container)
	if !ok {
		return nil, false
	}
	return c.container(), true
}

// Executable is satisfied by every type embedding ExecutableResource.
type Executable interface {
	Resource
	executable() *ExecutableResource
}

func (e *ExecutableResource) executable() *ExecutableResource { return e }

// AsExecutable returns the executable part of r.
func AsExecutable(r Resource) (*ExecutableResource, bool) {
	e, ok := r.(Executable)
	if !ok {
		return nil, false
	}
	return e.executable(), true
}

package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/lifecycle"
	"github.com/picklr-io/apphost/internal/model"
)

const (
	CommanderName     = "redis-commander"
	CommanderImage    = "rediscommander/redis-commander"
	CommanderTag      = "latest"
	CommanderHTTPPort = 8081
)

// CommanderResource is the admin UI shared by every cache in the model.
// Once endpoints are allocated it computes REDIS_HOSTS as
// name:host:port:0 per cache, comma joined in registration order.
type CommanderResource struct {
	model.ContainerResource

	mu    sync.Mutex
	hosts string
	ready bool
}

var _ lifecycle.AfterEndpointsAllocatedHook = (*CommanderResource)(nil)

func (c *CommanderResource) AfterEndpointsAllocated(ctx context.Context, m *lifecycle.Model) error {
	caches := lifecycle.ResourcesOf[*Resource](m)
	parts := make([]string, 0, len(caches))
	for _, cache := range caches {
		if err := ctx.Err(); err != nil {
			return err
		}
		a, err := cache.PrimaryEndpoint().Allocated()
		if err != nil {
			return err
		}
		host := a.ContainerHost
		if host == "" {
			host = a.Address
		}
		parts = append(parts, cache.Name()+":"+host+":"+strconv.Itoa(a.Port)+":0")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts = strings.Join(parts, ",")
	c.ready = true
	return nil
}

// Hosts returns the computed REDIS_HOSTS value.
func (c *CommanderResource) Hosts() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hosts, c.ready
}

// WithRedisCommander attaches the cache to the shared commander, creating
// it on first use. It does nothing in publish mode.
func WithRedisCommander(rb *hosting.ResourceBuilder[*Resource], hostPort int) *hosting.ResourceBuilder[*Resource] {
	b := rb.Builder()
	if b.Execution().IsPublishMode() {
		return rb
	}

	commander, found := findCommander(b)
	if !found {
		commander = &CommanderResource{ContainerResource: model.ContainerResource{Base: model.NewBase(CommanderName)}}
		var epOpts []hosting.EndpointOption
		if hostPort != 0 {
			epOpts = append(epOpts, hosting.Port(hostPort))
		}
		hosting.Add(b, commander).
			WithImage(CommanderImage, CommanderTag).
			WithHTTPEndpoint(CommanderHTTPPort, epOpts...).
			WithEnvironmentCallback(func(ec *model.EnvironmentContext) error {
				hosts, ok := commander.Hosts()
				if !ok {
					return fmt.Errorf("REDIS_HOSTS for %s requested before endpoints were allocated", CommanderName)
				}
				ec.Env.SetString("REDIS_HOSTS", hosts)
				return nil
			}).
			ExcludeFromManifest()
	}

	if err := model.Annotate(commander, &model.WaitAnnotation{Resource: rb.Resource()}); err != nil {
		return rb.Fail(fmt.Errorf("failed to attach %s: %w", CommanderName, err))
	}
	return rb
}

func findCommander(b *hosting.Builder) (*CommanderResource, bool) {
	for _, r := range b.Resources() {
		if c, ok := r.(*CommanderResource); ok {
			return c, true
		}
	}
	return nil, false
}

package params

import (
	"context"
	"sync"

	"github.com/picklr-io/apphost/internal/ir"
	"github.com/picklr-io/apphost/internal/model"
	"github.com/picklr-io/apphost/internal/state"
)

// Generated serves values generated on earlier runs and records new ones in
// the state backend.
type Generated struct {
	backend state.Backend

	mu     sync.Mutex
	values map[string]string
}

var _ model.ValueSaver = (*Generated)(nil)

func NewGenerated(backend state.Backend) *Generated {
	return &Generated{backend: backend}
}

func (g *Generated) load(ctx context.Context) error {
	if g.values != nil {
		return nil
	}
	s, err := g.backend.Read(ctx)
	if err != nil {
		return err
	}
	g.values = make(map[string]string, len(s.Parameters))
	for k, v := range s.Parameters {
		g.values[k] = v
	}
	return nil
}

func (g *Generated) Lookup(ctx context.Context, key string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.load(ctx); err != nil {
		return "", false, err
	}
	v, ok := g.values[key]
	return v, ok, nil
}

func (g *Generated) Save(ctx context.Context, key, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := state.Update(ctx, g.backend, func(s *ir.State) error {
		if s.Parameters == nil {
			s.Parameters = map[string]string{}
		}
		s.Parameters[key] = value
		return nil
	}); err != nil {
		return err
	}
	if g.values == nil {
		g.values = map[string]string{}
	}
	g.values[key] = value
	return nil
}

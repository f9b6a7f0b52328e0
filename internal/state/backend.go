package state

import (
	"context"
	"fmt"

	"github.com/picklr-io/apphost/internal/eval"
	"github.com/picklr-io/apphost/internal/ir"
)

// Backend defines the interface for state storage backends.
type Backend interface {
	// Read loads the state from the backend.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state to the backend.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state.
	Lock() error

	// Unlock releases the lock on the state.
	Unlock() error
}

// BackendConfig holds configuration for a state backend.
type BackendConfig struct {
	Type   string            `json:"type" yaml:"type"` // "local" or "s3"
	Config map[string]string `json:"config" yaml:"config"`
}

// NewBackend creates a state backend from configuration.
// The evaluator parses the Pkl state content.
func NewBackend(ctx context.Context, cfg *BackendConfig, evaluator *eval.Evaluator) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			path = DefaultPath
		}
		return NewManager(path, evaluator), nil
	case "s3":
		return newS3Backend(ctx, cfg.Config, evaluator)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// Update applies fn to the current state under the backend lock and writes
// the result back. The written serial is one higher than the one read.
func Update(ctx context.Context, b Backend, fn func(*ir.State) error) error {
	if err := b.Lock(); err != nil {
		return err
	}
	defer b.Unlock()

	s, err := b.Read(ctx)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	return b.Write(ctx, s)
}

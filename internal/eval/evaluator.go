package eval

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"
	"github.com/picklr-io/apphost/internal/ir"
)

// DefaultEntryPoint is the topology file looked up in the project directory.
const DefaultEntryPoint = "apphost.pkl"

// Evaluator handles PKL evaluation into IR types.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadAppHost evaluates the topology module and returns the IR. Properties
// are exposed to the module as read("prop:<name>").
func (e *Evaluator) LoadAppHost(ctx context.Context, entryPoint string, properties map[string]string) (*ir.AppHost, error) {
	dir, err := filepath.Abs(e.projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	u, err := url.Parse("file://" + filepath.ToSlash(dir) + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
	}

	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	if entryPoint == "" {
		entryPoint = DefaultEntryPoint
	}
	if !filepath.IsAbs(entryPoint) {
		entryPoint = filepath.Join(dir, entryPoint)
	}

	var evaluator pkl.Evaluator
	if _, statErr := os.Stat(filepath.Join(dir, "PklProject")); statErr == nil {
		evaluator, err = pkl.NewProjectEvaluator(ctx, u, opts...)
	} else {
		evaluator, err = pkl.NewEvaluator(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var app ir.AppHost
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(entryPoint), &app); err != nil {
		return nil, fmt.Errorf("failed to evaluate topology: %w", err)
	}

	return &app, nil
}

// LoadState evaluates a state file and returns the IR.
func (e *Evaluator) LoadState(ctx context.Context, stateFile string) (*ir.State, error) {
	return e.loadState(ctx, pkl.FileSource(stateFile))
}

// LoadStateText evaluates state content held in memory.
func (e *Evaluator) LoadStateText(ctx context.Context, text string) (*ir.State, error) {
	return e.loadState(ctx, pkl.TextSource(text))
}

func (e *Evaluator) loadState(ctx context.Context, src *pkl.ModuleSource) (*ir.State, error) {
	evaluator, err := pkl.NewEvaluator(ctx, pkl.PreconfiguredOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var state ir.State
	if err := evaluator.EvaluateModule(ctx, src, &state); err != nil {
		return nil, fmt.Errorf("failed to evaluate state: %w", err)
	}
	if state.Parameters == nil {
		state.Parameters = map[string]string{}
	}

	return &state, nil
}

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/picklr-io/apphost/internal/eval"
	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/ir"
	"github.com/picklr-io/apphost/internal/params"
	"github.com/picklr-io/apphost/internal/state"
	"github.com/picklr-io/apphost/internal/topology"
)

// resolveEntry splits an optional path argument into the project directory
// and the topology file name.
func resolveEntry(args []string) (dir, entryPoint string, err error) {
	dir, err = os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint = eval.DefaultEntryPoint
	if len(args) == 0 {
		return dir, entryPoint, nil
	}

	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
	}
	if info.IsDir() {
		return absPath, entryPoint, nil
	}
	return filepath.Dir(absPath), filepath.Base(absPath), nil
}

// project is a loaded topology together with its parameter stores.
type project struct {
	dir       string
	evaluator *eval.Evaluator
	topology  *ir.AppHost
	backend   state.Backend
	generated *params.Generated
	source    params.Chain
}

func loadProject(ctx context.Context, args []string) (*project, error) {
	dir, entryPoint, err := resolveEntry(args)
	if err != nil {
		return nil, err
	}
	evaluator := eval.NewEvaluator(dir)

	app, err := evaluator.LoadAppHost(ctx, entryPoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology: %w", err)
	}

	backend, err := openBackend(ctx, dir, evaluator)
	if err != nil {
		return nil, err
	}
	source, generated, err := parameterChain(ctx, dir, backend)
	if err != nil {
		return nil, err
	}
	return &project{
		dir:       dir,
		evaluator: evaluator,
		topology:  app,
		backend:   backend,
		generated: generated,
		source:    source,
	}, nil
}

func openBackend(ctx context.Context, dir string, evaluator *eval.Evaluator) (state.Backend, error) {
	cfg := &state.BackendConfig{Type: stateBackend, Config: map[string]string{}}
	switch stateBackend {
	case "", "local":
		path := statePath
		if path == "" {
			path = state.DefaultPath
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		cfg.Config["path"] = path
	default:
		for k, v := range map[string]string{
			"bucket":         stateBucket,
			"key":            statePath,
			"region":         awsRegion,
			"dynamodb_table": stateTable,
		} {
			if v != "" {
				cfg.Config[k] = v
			}
		}
	}
	backend, err := state.NewBackend(ctx, cfg, evaluator)
	if err != nil {
		return nil, fmt.Errorf("failed to open state backend: %w", err)
	}
	return backend, nil
}

// parameterChain layers the settings file, the AWS stores and the
// generated values, in that order of precedence.
func parameterChain(ctx context.Context, dir string, backend state.Backend) (params.Chain, *params.Generated, error) {
	cfg, err := params.LoadConfig(inDir(dir, configFile), inDir(dir, envFile))
	if err != nil {
		return nil, nil, err
	}
	chain := params.Chain{cfg}

	if ssmPrefix != "" {
		s, err := params.NewSSM(ctx, awsRegion, ssmPrefix)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, s)
	}
	if secretsPrefix != "" || secretsBundle != "" {
		s, err := params.NewSecretsManager(ctx, awsRegion, secretsPrefix)
		if err != nil {
			return nil, nil, err
		}
		s.Bundle = secretsBundle
		chain = append(chain, s)
	}

	generated := params.NewGenerated(backend)
	return append(chain, generated), generated, nil
}

func inDir(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// builder compiles the topology onto a new builder.
func (p *project) builder(opts ...hosting.Option) (*hosting.Builder, error) {
	opts = append([]hosting.Option{
		hosting.WithParameterStore(p.source),
		hosting.WithValueSaver(p.generated),
	}, opts...)
	b := hosting.New(opts...)
	if err := topology.Compile(b, p.topology, topology.WithBaseDir(p.dir)); err != nil {
		return nil, fmt.Errorf("failed to compile topology: %w", err)
	}
	return b, nil
}

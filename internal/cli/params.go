package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/logging"
	"github.com/picklr-io/apphost/internal/model"
	"github.com/picklr-io/apphost/internal/params"
)

var showValues bool

var paramsCmd = &cobra.Command{
	Use:   "params [path]",
	Short: "List parameters and whether a value is configured",
	Long: `Lists every parameter of the topology, including those integrations
declare on their own, with the key it is looked up under and where its
value comes from. Secret values are never printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runParams,
}

func init() {
	paramsCmd.Flags().BoolVar(&showValues, "show-values", false, "Print values of non-secret parameters")
}

func runParams(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := loadProject(ctx, args)
	if err != nil {
		return err
	}
	b, err := p.builder(hosting.WithLogger(logging.For("hosting")))
	if err != nil {
		return err
	}
	return listParams(ctx, cmd.OutOrStdout(), p.source, b.Resources(), showValues)
}

// paramStatus describes where a parameter value comes from.
func paramStatus(ctx context.Context, source params.Store, p *model.ParameterResource) (status, value string, err error) {
	v, ok, err := source.Lookup(ctx, p.ConfigKey())
	if err != nil {
		return "", "", err
	}
	switch {
	case ok:
		return "set", v, nil
	case p.Default.Generated():
		return "generated on first run", "", nil
	case p.Default != nil:
		return "default", p.Default.Value, nil
	}
	return "missing", "", nil
}

func listParams(ctx context.Context, w io.Writer, source params.Store, resources []model.Resource, values bool) error {
	n := 0
	for _, r := range resources {
		p, ok := r.(*model.ParameterResource)
		if !ok {
			continue
		}
		n++
		status, value, err := paramStatus(ctx, source, p)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", p.Name(), err)
		}
		kind := "plain"
		if p.Secret {
			kind = "secret"
		}
		line := fmt.Sprintf("  %s (%s, %s): %s", p.Name(), p.ConfigKey(), kind, status)
		if values && !p.Secret && value != "" {
			line += " = " + value
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\nTotal: %d parameter(s)\n", n)
	return nil
}

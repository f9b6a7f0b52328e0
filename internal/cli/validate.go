package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/logging"
	"github.com/picklr-io/apphost/internal/model"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate the topology",
	Long: `Evaluates apphost.pkl, compiles it and builds the resource graph in
both modes without starting or publishing anything.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, "Loading topology... ")
	p, err := loadProject(cmd.Context(), args)
	if err != nil {
		fmt.Fprintln(out, "FAILED")
		return err
	}
	fmt.Fprintln(out, "OK")

	for _, op := range []model.Operation{model.Run, model.Publish} {
		fmt.Fprintf(out, "Building for %s... ", op)
		b, err := p.builder(
			hosting.WithExecutionContext(model.NewExecutionContext(op)),
			hosting.WithLogger(logging.For("hosting")),
		)
		if err == nil {
			_, err = b.Build()
		}
		if err != nil {
			fmt.Fprintln(out, "FAILED")
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintln(out, "OK")
	}

	fmt.Fprintln(out, "\nTopology is valid!")
	return nil
}

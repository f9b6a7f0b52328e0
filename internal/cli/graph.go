package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/logging"
	"github.com/picklr-io/apphost/internal/model"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Output the resource graph in DOT format",
	Long: `Generates a visual representation of the resource graph in Graphviz
DOT format. Solid edges are start dependencies, dashed edges point to the
parent. Pipe the output to 'dot' to generate an image:

  apphost graph | dot -Tpng > graph.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	p, err := loadProject(cmd.Context(), args)
	if err != nil {
		return err
	}
	b, err := p.builder(hosting.WithLogger(logging.For("hosting")))
	if err != nil {
		return err
	}
	app, err := b.Build()
	if err != nil {
		return fmt.Errorf("invalid topology: %w", err)
	}
	return writeDOT(cmd.OutOrStdout(), app.Resources())
}

func writeDOT(w io.Writer, resources []model.Resource) error {
	ew := &errWriter{w: w}
	ew.printf("digraph apphost {\n")
	ew.printf("  rankdir = \"BT\";\n")
	ew.printf("  node [shape = rect];\n\n")

	for _, r := range resources {
		if _, ok := r.(*model.ParameterResource); ok {
			ew.printf("  %q [shape = ellipse];\n", r.Name())
			continue
		}
		ew.printf("  %q;\n", r.Name())
	}
	ew.printf("\n")

	for _, r := range resources {
		for _, dep := range model.Dependencies(r) {
			ew.printf("  %q -> %q;\n", r.Name(), dep.Name())
		}
		if parent := r.Parent(); parent != nil {
			ew.printf("  %q -> %q [style = dashed];\n", r.Name(), parent.Name())
		}
	}

	ew.printf("}\n")
	return ew.err
}

// errWriter keeps the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

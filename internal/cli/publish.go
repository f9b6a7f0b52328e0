package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/picklr-io/apphost/internal/hosting"
	"github.com/picklr-io/apphost/internal/logging"
	"github.com/picklr-io/apphost/internal/model"
)

// ManifestFile is the file name of the published manifest.
const ManifestFile = "manifest.json"

var (
	publisher  string
	outputPath string
)

var publishCmd = &cobra.Command{
	Use:   "publish [path]",
	Short: "Write the deployment manifest",
	Long: `Builds the topology in publish mode and writes manifest.json to the
output path. Nothing is started; values are written as placeholders.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publisher, "publisher", "manifest", "Output format (manifest)")
	publishCmd.Flags().StringVarP(&outputPath, "output-path", "o", ".", "Directory the manifest is written to")
}

func runPublish(cmd *cobra.Command, args []string) error {
	if publisher != "manifest" {
		return fmt.Errorf("unknown publisher %q", publisher)
	}
	ctx := cmd.Context()

	p, err := loadProject(ctx, args)
	if err != nil {
		return err
	}
	b, err := p.builder(
		hosting.WithExecutionContext(model.NewExecutionContext(model.Publish)),
		hosting.WithLogger(logging.For("hosting")),
	)
	if err != nil {
		return err
	}
	app, err := b.Build()
	if err != nil {
		return fmt.Errorf("invalid topology: %w", err)
	}

	dir, err := filepath.Abs(outputPath)
	if err != nil {
		return fmt.Errorf("failed to resolve output path: %w", err)
	}
	path := filepath.Join(dir, ManifestFile)
	if err := app.PublishFile(ctx, path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

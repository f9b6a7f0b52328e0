package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/picklr-io/apphost/internal/eval"
	"github.com/picklr-io/apphost/internal/params"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a new apphost project",
	Long:  `Creates apphost.pkl, the AppHost.pkl schema it amends and an apphost.yaml settings file.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

const starterTopology = `// apphost topology
amends "AppHost.pkl"

name = "myapp"

parameters {
  new { name = "api-key"; secret = true }
}

resources {
  new {
    kind = "redis"
    name = "cache"
    options { ["commander"] = "true" }
  }
  new {
    kind = "container"
    name = "api"
    image = "ghcr.io/example/api"
    tag = "latest"
    endpoints { new { name = "http"; scheme = "http"; targetPort = 8080 } }
    env { ["API_KEY"] = "{api-key.value}" }
    references { "cache" }
  }
}
`

const starterSettings = `# Parameter values. Environment variables such as Parameters__api-key
# and entries in .env take precedence.
parameters: {}
#  api-key: change-me
connectionStrings: {}
`

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	return initProject(cmd.OutOrStdout(), dir)
}

func initProject(out io.Writer, dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, ".apphost"), 0755); err != nil {
		return fmt.Errorf("failed to create .apphost directory: %w", err)
	}

	schema, err := eval.WriteSchema(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", schema)

	for name, content := range map[string]string{
		eval.DefaultEntryPoint:   starterTopology,
		params.DefaultConfigFile: starterSettings,
	} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		fmt.Fprintf(out, "Created %s\n", path)
	}

	fmt.Fprintln(out, "\napphost initialized successfully!")
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Edit apphost.pkl to declare your resources")
	fmt.Fprintln(out, "  2. Run 'apphost run' to start them locally")
	fmt.Fprintln(out, "  3. Run 'apphost publish' to write the deployment manifest")
	return nil
}

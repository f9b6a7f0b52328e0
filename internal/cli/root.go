package cli

import (
	"github.com/spf13/cobra"

	"github.com/picklr-io/apphost/internal/logging"
)

var (
	logLevel      string
	logFormat     string
	configFile    string
	envFile       string
	awsRegion     string
	ssmPrefix     string
	secretsPrefix string
	secretsBundle string
	stateBackend  string
	statePath     string
	stateBucket   string
	stateTable    string
)

var rootCmd = &cobra.Command{
	Use:   "apphost",
	Short: "Compose and run local application topologies",
	Long: `apphost composes containers, executables, parameters and cloud resources
declared in apphost.pkl, wires their connection strings, environment and
endpoints, and either runs them locally or publishes a deployment manifest.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel, logFormat)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	flags.StringVar(&configFile, "config", "apphost.yaml", "Parameter settings file")
	flags.StringVar(&envFile, "env-file", ".env", "Env file overlaying the settings file")
	flags.StringVar(&awsRegion, "aws-region", "", "AWS region for parameter stores and the s3 state backend")
	flags.StringVar(&ssmPrefix, "ssm-prefix", "", "Read parameters from SSM below this path")
	flags.StringVar(&secretsPrefix, "secrets-prefix", "", "Read parameters from Secrets Manager below this name")
	flags.StringVar(&secretsBundle, "secrets-bundle", "", "Secrets Manager secret holding all parameters as JSON")
	flags.StringVar(&stateBackend, "state-backend", "local", "Where generated values are kept (local, s3)")
	flags.StringVar(&statePath, "state-path", "", "Local state file or s3 object key")
	flags.StringVar(&stateBucket, "state-bucket", "", "S3 bucket of the s3 state backend")
	flags.StringVar(&stateTable, "state-lock-table", "", "DynamoDB table locking the s3 state backend")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(paramsCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(versionCmd)
}

package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/ccsched/internal/config"
	"github.com/me/ccsched/internal/logging"
)

var (
	flagServer    string
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.Config
	logger *slog.Logger
	client *Client
)

// defaultServer returns the default debug server URL, checking CCSCHED_SERVER first.
func defaultServer() string {
	if s := os.Getenv("CCSCHED_SERVER"); s != "" {
		return s
	}
	return "http://localhost:9090"
}

// NewRootCmd creates the root cobra command for the ccsched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ccsched",
		Short: "Compositor frame scheduler",
		Long:  "ccsched runs a simulated compositor under the frame scheduler, replays scheduler scenarios and inspects running compositors.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig(cmd)
			if err != nil {
				return err
			}
			logger = logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Debug server URL (or CCSCHED_SERVER env)")
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newScriptCmd(),
		newStateCmd(),
		newCommandCmd(),
		newTraceCmd(),
		newConfigCmd(),
	)

	return root
}

// loadConfig reads --config over the defaults, then the environment, then the
// logging flags given explicitly on the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	c := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return c, err
		}
		c = loaded
	}
	c.ApplyEnv(os.LookupEnv)

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.LogLevel = flagLogLevel
	}
	if flags.Changed("log-format") {
		c.LogFormat = flagLogFormat
	}
	if flagDebug {
		c.LogLevel = "debug"
	}
	return c, c.Validate()
}

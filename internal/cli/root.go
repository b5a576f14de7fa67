// Package cli implements the memarena command line: the server, a terminal
// chat client and session and config management.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/soyeahso/memarena/internal/config"
	"github.com/soyeahso/memarena/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memarena",
		Short: "memarena: three memory agents, one question",
		Long: "memarena sends each message to the memorylake, mem0 and supermemory agents at once\n" +
			"and shows their streamed replies side by side, round by round.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "warn"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.memarena/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// loadConfig reads the config file, falling back to defaults when it cannot
// be read.
func loadConfig() config.Config {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		log.Warn().Err(err).Str("path", paths.Config).Msg("using default config")
		return config.Defaults()
	}
	return cfg
}

package cmd

import (
	"fmt"
	"os"

	"dndj/config"
	"dndj/logger"

	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	catalogFlag  string
	hostFlag     string
	portFlag     int
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:          "dndj",
	Short:        "dndj plays scheduled background music for tabletop sessions.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()

		flags := cmd.Flags()
		if flags.Changed("catalog") {
			cfg.CatalogPath = catalogFlag
		}
		if flags.Changed("host") {
			cfg.Host = hostFlag
		}
		if flags.Changed("port") {
			cfg.Port = portFlag
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevelFlag
		}

		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   cfg.LogCompress,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&catalogFlag, "catalog", "c", "music.yaml", "path to the catalog file")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "127.0.0.1", "address to listen on")
	rootCmd.PersistentFlags().IntVarP(&portFlag, "port", "p", 8080, "port to listen on")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "debug, info, warn or error")
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

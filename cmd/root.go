package cmd

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/provenance/config"
)

var (
	cfgFile string
	debug   bool
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "provenance",
	Short: "Batch provenance ledger",
	Long: `A ledger of product batches and their chain-of-custody events.

Functions:
- Register batches with their baseline images
- Append hashed custody events to each batch timeline
- Decode scanned QR payloads into event drafts
- Serve verification and tamper audits of a batch history`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() error {
	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
	}

	var err error
	cfg, err = config.LoadConfig()
	if err != nil {
		return err
	}

	configureLogging(cfg.Logging)
	return nil
}

func configureLogging(logging config.LoggingConfig) {
	if strings.EqualFold(logging.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(strings.ToLower(logging.Level))
	if err != nil || logging.Level == "" {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"eventstream/internal/config"
	"eventstream/internal/logging"

	// drivers register themselves
	_ "eventstream/sink/kafka"
	_ "eventstream/sink/kafkago"
	_ "eventstream/sink/stdout"
	_ "eventstream/source/kafka"

	"github.com/spf13/cobra"
)

func main() {
	// Respect EVENTSTREAM_LOG_LEVEL before the config file is read.
	logging.InitFromEnv()

	rootCmd := &cobra.Command{
		Use:           "eventstream",
		Short:         "Event publisher and post-process relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("EVENTSTREAM_CONFIG"), "Path to eventstream.yml (optional)")

	rootCmd.AddCommand(relayCmd(), publishCmd(), healthCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.L().Error("eventstream: exit", "err", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads --config and applies the log section.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if os.Getenv("EVENTSTREAM_LOG_LEVEL") == "" {
		logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	}
	return cfg, nil
}

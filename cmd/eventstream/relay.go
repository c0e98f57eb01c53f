package main

import (
	"fmt"

	"eventstream/internal/engine"

	"github.com/spf13/cobra"
)

func relayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Forward events from the log to post-processing",
		Long: "relay consumes the events topic in lockstep with --synchronize-commit-group, " +
			"enqueues a post-process task per event and commits every --commit-batch-size messages.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("consumer-group") {
				cfg.Relay.ConsumerGroup, _ = f.GetString("consumer-group")
			}
			if f.Changed("commit-log-topic") {
				cfg.Relay.CommitLogTopic, _ = f.GetString("commit-log-topic")
			}
			if f.Changed("synchronize-commit-group") {
				cfg.Relay.SynchronizeCommitGroup, _ = f.GetString("synchronize-commit-group")
			}
			if f.Changed("commit-batch-size") {
				n, _ := f.GetInt("commit-batch-size")
				if n <= 0 {
					return fmt.Errorf("--commit-batch-size must be a positive integer, got %d", n)
				}
				cfg.Relay.CommitBatchSize = n
			}

			e, err := engine.Bootstrap(cfg)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			if err := e.Run(cmd.Context()); err != nil {
				return fmt.Errorf("relay: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("consumer-group", "", "Consumer group of the relay")
	cmd.Flags().String("commit-log-topic", "", "Topic the synchronize group publishes its commits to")
	cmd.Flags().String("synchronize-commit-group", "", "Group the relay must not run ahead of")
	cmd.Flags().Int("commit-batch-size", 100, "Messages consumed between synchronous commits")
	return cmd
}

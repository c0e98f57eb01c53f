package main

import (
	"context"
	"fmt"
	"time"

	"eventstream/internal/transport"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running relay's gRPC health service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			st, err := transport.CheckHealth(ctx, addr, transport.RelayService)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st)
			if st != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("relay at %s is %s", addr, st)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "localhost:7070", "gRPC address of the relay")
	return cmd
}

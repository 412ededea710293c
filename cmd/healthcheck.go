package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/deepfake-detector/internal/grpchealth"
)

func newHealthcheckCommand(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running server's gRPC health endpoint; exits non-zero unless SERVING",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if addr == "" {
				addr = cfg.Server.GRPCAddr
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			conn, err := grpchealth.Dial(ctx, addr, logger)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := grpchealth.Check(ctx, conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "SERVING")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "health endpoint address (default server.grpc_addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "overall probe timeout")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkeye/Rover/internal/adapters/mqtt"
)

func newProbeCmd() *cobra.Command {
	var (
		broker  string
		topic   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that the control bus broker accepts a connection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := (mqtt.Prober{ClientID: "rover-cli"}).Probe(ctx, broker, topic); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reachable\n", broker)
			return nil
		},
	}
	cmd.Flags().StringVar(&broker, "broker", "tcp://localhost:1883", "broker URL")
	cmd.Flags().StringVar(&topic, "topic", "cmd_vel", "topic the robot listens on")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "connect timeout")
	return cmd
}

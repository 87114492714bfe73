package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Connect to the mesh gateway and run one keep-alive/poll cycle",
	Long: `Connect to the strongest known gateway candidate if not already
connected, send a keep-alive, request a poll, and prepare the gateway for
the next event. Exits non-zero if the keep-alive did not succeed.`,
	RunE: runPing,
}

func runPing(cmd *cobra.Command, args []string) error {
	m, _, err := initManager(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	defer m.Disconnect()

	ok, err := m.Ping(context.Background())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("keep-alive was not acknowledged by the gateway")
	}
	fmt.Println("ping OK")
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var blacklistCmd = &cobra.Command{
	Use:   "blacklist [address...]",
	Short: "Set the gateway candidate blacklist",
	Long: `Mark the given BLE addresses as blacklisted gateway candidates and
every other known node as not blacklisted, then reconnect. If the
current gateway was newly blacklisted, the session is dropped first so
the next connect attempt picks a different candidate.

Pass no addresses to clear the blacklist entirely.`,
	RunE: runBlacklist,
}

func runBlacklist(cmd *cobra.Command, args []string) error {
	m, _, err := initManager(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	defer m.Disconnect()

	blacklisted := make(map[string]bool, len(args))
	for _, addr := range args {
		blacklisted[addr] = true
	}

	if err := m.SetBlacklist(context.Background(), blacklisted); err != nil {
		return err
	}
	fmt.Printf("blacklisted %d address(es)\n", len(args))
	return nil
}

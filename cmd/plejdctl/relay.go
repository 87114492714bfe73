package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/plejdctl/internal/roster"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Control a Relay device",
}

var relayOnCmd = &cobra.Command{
	Use:   "on <name>",
	Short: "Turn a relay on",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelay(func(r *roster.Relay) []roster.Command { return r.TurnOn() }),
}

var relayOffCmd = &cobra.Command{
	Use:   "off <name>",
	Short: "Turn a relay off",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelay(func(r *roster.Relay) []roster.Command { return r.TurnOff() }),
}

func init() {
	relayCmd.AddCommand(relayOnCmd, relayOffCmd)
}

func runRelay(build func(*roster.Relay) []roster.Command) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		m, dev, err := connectToDevice(cmd, args)
		if err != nil {
			return err
		}
		defer m.Disconnect()

		relay, ok := dev.(*roster.Relay)
		if !ok {
			return fmt.Errorf("%q is not a relay", args[0])
		}
		if err := m.Execute(context.Background(), build(relay)); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	}
}

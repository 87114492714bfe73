package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/plejdctl/internal/plejd"
	"github.com/srg/plejdctl/internal/roster"
)

// connectToDevice loads and initializes a Manager, ensures a mesh session
// is up, and resolves args[0] to a loaded roster.Device by name. Every
// device-control subcommand shares this sequence.
func connectToDevice(cmd *cobra.Command, args []string) (*plejd.Manager, roster.Device, error) {
	if len(args) == 0 {
		return nil, nil, fmt.Errorf("a device name is required")
	}

	m, _, err := initManager(cmd)
	if err != nil {
		return nil, nil, err
	}
	cmd.SilenceUsage = true

	dev, ok := m.FindDevice(args[0])
	if !ok {
		return nil, nil, fmt.Errorf("no device named %q in the loaded roster", args[0])
	}

	if _, err := m.Ping(context.Background()); err != nil {
		return nil, nil, err
	}
	return m, dev, nil
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/plejdctl/internal/roster"
)

var coverCmd = &cobra.Command{
	Use:   "cover",
	Short: "Control a Cover device",
}

var coverOpenCmd = &cobra.Command{
	Use:   "open <name>",
	Short: "Fully open a cover",
	Args:  cobra.ExactArgs(1),
	RunE:  runCover(func(c *roster.Cover) []roster.Command { return c.Open() }),
}

var coverCloseCmd = &cobra.Command{
	Use:   "close <name>",
	Short: "Fully close a cover",
	Args:  cobra.ExactArgs(1),
	RunE:  runCover(func(c *roster.Cover) []roster.Command { return c.Close() }),
}

var coverStopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a cover's movement",
	Args:  cobra.ExactArgs(1),
	RunE:  runCover(func(c *roster.Cover) []roster.Command { return c.Stop() }),
}

var coverSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Move a cover to a target position and/or tilt",
	Args:  cobra.ExactArgs(1),
	RunE: runCover(func(c *roster.Cover) []roster.Command {
		var position, tilt *int
		if coverPosition >= 0 {
			position = &coverPosition
		}
		if coverTilt >= 0 {
			tilt = &coverTilt
		}
		return c.SetPosition(position, tilt)
	}),
}

var (
	coverPosition int
	coverTilt     int
)

func init() {
	coverCmd.AddCommand(coverOpenCmd, coverCloseCmd, coverStopCmd, coverSetCmd)
	coverSetCmd.Flags().IntVar(&coverPosition, "position", -1, "Target position, 0 (closed) to 100 (open)")
	coverSetCmd.Flags().IntVar(&coverTilt, "tilt", -1, "Target tilt angle (device-specific range)")
}

func runCover(build func(*roster.Cover) []roster.Command) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		m, dev, err := connectToDevice(cmd, args)
		if err != nil {
			return err
		}
		defer m.Disconnect()

		cover, ok := dev.(*roster.Cover)
		if !ok {
			return fmt.Errorf("%q is not a cover", args[0])
		}
		if err := m.Execute(context.Background(), build(cover)); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	}
}

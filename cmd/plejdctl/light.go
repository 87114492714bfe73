package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/plejdctl/internal/roster"
)

var lightCmd = &cobra.Command{
	Use:   "light",
	Short: "Control a Light device",
}

var lightOnCmd = &cobra.Command{
	Use:   "on <name>",
	Short: "Turn a light on, optionally setting dim level and/or color temperature",
	Args:  cobra.ExactArgs(1),
	RunE:  runLightOn,
}

var lightOffCmd = &cobra.Command{
	Use:   "off <name>",
	Short: "Turn a light off",
	Args:  cobra.ExactArgs(1),
	RunE:  runLightOff,
}

var (
	lightDim       int
	lightColorTemp int
)

func init() {
	lightCmd.AddCommand(lightOnCmd, lightOffCmd)
	lightOnCmd.Flags().IntVar(&lightDim, "dim", 0, "Dim level, 0-255 (0 leaves the current level unchanged)")
	lightOnCmd.Flags().IntVar(&lightColorTemp, "color-temp", 0, "White-balance color temperature in Kelvin (0 leaves it unchanged)")
}

func runLightOn(cmd *cobra.Command, args []string) error {
	m, dev, err := connectToDevice(cmd, args)
	if err != nil {
		return err
	}
	defer m.Disconnect()

	light, ok := dev.(*roster.Light)
	if !ok {
		return fmt.Errorf("%q is not a light", args[0])
	}

	var dim, colorTemp *int
	if lightDim > 0 {
		dim = &lightDim
	}
	if lightColorTemp > 0 {
		colorTemp = &lightColorTemp
	}
	if err := m.Execute(context.Background(), light.TurnOn(dim, colorTemp)); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func runLightOff(cmd *cobra.Command, args []string) error {
	m, dev, err := connectToDevice(cmd, args)
	if err != nil {
		return err
	}
	defer m.Disconnect()

	light, ok := dev.(*roster.Light)
	if !ok {
		return fmt.Errorf("%q is not a light", args[0])
	}
	if err := m.Execute(context.Background(), light.TurnOff()); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

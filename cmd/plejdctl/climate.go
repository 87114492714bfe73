package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/plejdctl/internal/roster"
)

var climateCmd = &cobra.Command{
	Use:   "climate",
	Short: "Control a Climate (thermostat) device",
}

var climateSetTempCmd = &cobra.Command{
	Use:   "set-temperature <name> <celsius>",
	Short: "Set a thermostat's target temperature in Celsius",
	Args:  cobra.ExactArgs(2),
	RunE:  runClimateSetTemp,
}

var climateModeCmd = &cobra.Command{
	Use:   "set-mode <name> <off|heating>",
	Short: "Set a thermostat's HVAC mode",
	Args:  cobra.ExactArgs(2),
	RunE:  runClimateSetMode,
}

func init() {
	climateCmd.AddCommand(climateSetTempCmd, climateModeCmd)
}

func runClimateSetTemp(cmd *cobra.Command, args []string) error {
	var celsius float64
	if _, err := fmt.Sscanf(args[1], "%f", &celsius); err != nil {
		return fmt.Errorf("invalid temperature %q: %w", args[1], err)
	}

	m, dev, err := connectToDevice(cmd, args)
	if err != nil {
		return err
	}
	defer m.Disconnect()

	climate, ok := dev.(*roster.Climate)
	if !ok {
		return fmt.Errorf("%q is not a thermostat", args[0])
	}
	if err := m.Execute(context.Background(), climate.SetTemperature(celsius)); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func runClimateSetMode(cmd *cobra.Command, args []string) error {
	mode := args[1]
	if mode != roster.ModeOff && mode != roster.ModeHeating {
		return fmt.Errorf("invalid mode %q: must be off or heating", mode)
	}

	m, dev, err := connectToDevice(cmd, args)
	if err != nil {
		return err
	}
	defer m.Disconnect()

	climate, ok := dev.(*roster.Climate)
	if !ok {
		return fmt.Errorf("%q is not a thermostat", args[0])
	}
	if err := m.Execute(context.Background(), climate.SetMode(mode)); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds a 'v' prefix if version starts with a digit.
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "plejdctl",
	Short: "Plejd BLE mesh command-line client",
	Long: `A command-line client for Plejd BLE lighting mesh networks.

- Fetch a site's roster from the Plejd cloud API
- Scan for and connect to a site's mesh gateway
- Keep a mesh session alive and broadcast the current time
- Control lights, relays, covers, thermostats, and scenes
- Manage the gateway candidate blacklist

Credentials and the active site are read from a config file (see --config),
environment variables prefixed PLEJDCTL_, or per-command flags.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(sitesCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(broadcastTimeCmd)
	rootCmd.AddCommand(blacklistCmd)
	rootCmd.AddCommand(lightCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(coverCmd)
	rootCmd.AddCommand(climateCmd)
	rootCmd.AddCommand(sceneCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: ./config.yaml or ~/.plejdctl/config.yaml)")
	rootCmd.PersistentFlags().String("username", "", "Plejd account username (overrides config)")
	rootCmd.PersistentFlags().String("password", "", "Plejd account password (overrides config)")
	rootCmd.PersistentFlags().String("site", "", "Site ID to operate on (overrides config)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

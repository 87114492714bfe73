package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/plejdctl/internal/plejd"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify Plejd account credentials",
	Long: `Verify that a Plejd account's username and password are accepted by the
cloud API, without selecting a site or opening a mesh session.

Use the 'sites' command to discover a site ID, then pass
--site (or set plejd.site_id in your config file) for every other
command.`,
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	if err := plejd.VerifyCredentials(context.Background(), cfg.Plejd.Username, cfg.Plejd.Password, logger); err != nil {
		return err
	}
	fmt.Println("credentials OK")
	return nil
}

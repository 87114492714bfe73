package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/plejdctl/internal/plejd"
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List the sites a Plejd account has access to",
	RunE:  runSites,
}

func runSites(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	sites, err := plejd.ListSites(context.Background(), cfg.Plejd.Username, cfg.Plejd.Password, logger)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		fmt.Println("no sites found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SITE ID\tTITLE\tDEVICES")
	for _, s := range sites {
		fmt.Fprintf(w, "%s\t%s\t%d\n", s.SiteID, s.Title, s.DeviceCount)
	}
	return w.Flush()
}

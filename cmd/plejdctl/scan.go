package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/plejdctl/internal/meshscan"
	"github.com/srg/plejdctl/internal/roster"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Plejd mesh nodes over BLE",
	Long: `Scan for BLE advertisements from Plejd mesh nodes, tracking each node's
current and peak RSSI. By default only advertisements carrying the Plejd
mesh service are shown; pass --all to see every nearby BLE advertiser.`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanAll       bool
	scanAllowList []string
	scanBlockList []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show every BLE advertisement, not just Plejd mesh nodes")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show nodes with these BLE addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide nodes with these BLE addresses")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format %q: must be table or json", scanFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	s := meshscan.New(logger)
	opts := meshscan.DefaultOptions()
	opts.Duration = scanDuration
	opts.RequirePlejdService = !scanAll
	opts.AllowList = scanAllowList
	opts.BlockList = scanBlockList

	baseCtx := context.Background()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\ncancelling scan...")
		cancel()
	}()

	progress := NewCountdownProgressPrinter("Scanning for Plejd mesh nodes", "Scanning", scanDuration, "Processing results")
	progress.Start()
	defer progress.Stop()

	nodes, err := s.Scan(ctx, opts, progress.Callback())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return displayNodes(nodes)
}

func displayNodes(nodes map[string]*roster.MeshNode) error {
	if len(nodes) == 0 {
		fmt.Println("no mesh nodes discovered")
		return nil
	}

	addrs := make([]string, 0, len(nodes))
	for addr := range nodes {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	if scanFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		out := make([]map[string]any, 0, len(addrs))
		for _, addr := range addrs {
			n := nodes[addr]
			out = append(out, map[string]any{
				"address":     addr,
				"rssi":        n.RSSI(),
				"peakRssi":    n.PeakRSSI(),
				"connectable": n.Connectable,
			})
		}
		return encoder.Encode(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tRSSI\tPEAK RSSI\tCONNECTABLE")
	for _, addr := range addrs {
		n := nodes[addr]
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", addr, rssiString(n.RSSI()), rssiString(n.PeakRSSI()), n.Connectable)
	}
	return w.Flush()
}

func rssiString(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d dBm", *v)
}

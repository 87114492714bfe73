package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/plejdctl/internal/roster"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Keep a mesh session open and print device state changes",
	Long: `Connect to the mesh gateway, subscribe to every device's and scene's
state changes, and keep the session alive with a periodic keep-alive
until interrupted (Ctrl+C).`,
	RunE: runConnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	m := newManager(cfg, logger)
	if err := m.Init(context.Background(), nil); err != nil {
		return err
	}
	defer m.Disconnect()

	var unsubscribe []func()
	defer func() {
		for _, u := range unsubscribe {
			u()
		}
	}()
	for _, d := range m.Devices() {
		d := d
		unsubscribe = append(unsubscribe, d.Subscribe(func(state any) {
			fmt.Printf("[%s] %s: %+v\n", time.Now().Format(time.RFC3339), d.Name(), state)
		}))
	}
	for _, s := range m.Scenes() {
		s := s
		unsubscribe = append(unsubscribe, subscribeScene(s, func() {
			fmt.Printf("[%s] scene %q triggered\n", time.Now().Format(time.RFC3339), s.Name())
		}))
	}

	if _, err := m.Ping(context.Background()); err != nil {
		return err
	}
	fmt.Println("connected; press Ctrl+C to exit")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	interval := cfg.Mesh.PingInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\ndisconnecting...")
			return nil
		case <-ticker.C:
			if _, err := m.Ping(ctx); err != nil {
				logger.WithError(err).Warn("keep-alive failed")
			}
		}
	}
}

// subscribeScene adapts a Scene's generic Subscribe to a no-argument
// "triggered" callback.
func subscribeScene(s *roster.Scene, onTriggered func()) func() {
	return s.Subscribe(func(any) { onTriggered() })
}

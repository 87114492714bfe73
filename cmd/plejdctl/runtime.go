package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/plejdctl/internal/config"
	"github.com/srg/plejdctl/internal/device"
	"github.com/srg/plejdctl/internal/devicefactory"
	"github.com/srg/plejdctl/internal/plejd"
)

// loadConfig reads the config file named by --config (or the default
// search path), then applies any --username/--password/--site overrides
// a command was invoked with.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("username"); v != "" {
		cfg.Plejd.Username = v
	}
	if v, _ := cmd.Flags().GetString("password"); v != "" {
		cfg.Plejd.Password = v
	}
	if v, _ := cmd.Flags().GetString("site"); v != "" {
		cfg.Plejd.SiteID = v
	}
	return cfg, nil
}

// newManager builds a plejd.Manager wired to the real BLE stack
// (internal/devicefactory) from a loaded config and logger.
func newManager(cfg *config.Config, logger *logrus.Logger) *plejd.Manager {
	newDevice := func(bleAddress string) device.Device {
		return devicefactory.NewDevice(bleAddress, logger)
	}

	return plejd.New(plejd.Options{
		Username:       cfg.Plejd.Username,
		Password:       cfg.Plejd.Password,
		SiteID:         cfg.Plejd.SiteID,
		Logger:         logger,
		NewDevice:      newDevice,
		ConnectTimeout: cfg.Mesh.ConnectTimeout,
		GATTTimeout:    cfg.Mesh.GATTTimeout,
		PingInterval:   cfg.Mesh.PingInterval,
	})
}

// initManager loads config, builds a logger and Manager, and runs Init,
// the sequence every mesh-facing command needs before it can do anything.
func initManager(cmd *cobra.Command) (*plejd.Manager, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Plejd.SiteID == "" {
		return nil, nil, ErrNoSite
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}

	m := newManager(cfg, logger)
	if err := m.Init(context.Background(), nil); err != nil {
		return nil, nil, err
	}
	return m, logger, nil
}

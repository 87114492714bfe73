package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/plejdctl/internal/config"
)

// configureLogger loads the config file (if any) and builds a logger from
// it, letting --log-level override whatever the config/environment
// resolved to. This keeps the teacher's --log-level-takes-precedence rule
// while layering in the config package's own LogConfig.NewLogger recipe.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr == "" {
		return cfg.Log.NewLogger(), nil
	}

	if _, err := logrus.ParseLevel(logLevelStr); err != nil {
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
	}
	cfg.Log.Level = logLevelStr
	return cfg.Log.NewLogger(), nil
}

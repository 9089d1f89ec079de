// Drawpool - weighted reward pools with asynchronous randomness
package main

import (
	"context"
	"os"

	"github.com/lootlabs/drawpool/internal/config"
	"github.com/lootlabs/drawpool/internal/logging"
	"github.com/lootlabs/drawpool/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting drawpool",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"min_flex_payment", cfg.MinFlexPayment,
		"max_pool_items", cfg.MaxPoolItems,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"log"

	"github.com/hilthontt/pokersync/internal/dependency"
	"github.com/hilthontt/pokersync/internal/infrastructure/configs"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
)

func main() {
	configPath := configs.DetermineConfigPath()
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.NewLogger(&cfg.Logger)
	logger.Info(logging.General, logging.Startup, "starting pokersync", map[logging.ExtraKey]any{
		"Config": configPath,
	})

	container, err := dependency.NewContainer(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal(logging.General, logging.Startup, "failed to initialize dependencies", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer container.Close(context.Background())

	app := container.Application()
	mux := app.Mount()
	if err := app.Run(mux); err != nil {
		logger.Error(logging.General, logging.Shutdown, "server stopped", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}

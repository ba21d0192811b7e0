package configs

import (
	"flag"
	"os"

	"github.com/caarlos0/env/v11"
)

type pathEnv struct {
	ConfigPath string `env:"POKER_CONFIG"`
}

// DetermineConfigPath resolves the config file from the --config flag, the
// POKER_CONFIG variable or a list of well-known locations. An empty result
// means defaults and environment variables only.
func DetermineConfigPath() string {
	var configPath string

	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	if configPath == "" {
		if e, err := env.ParseAs[pathEnv](); err == nil {
			configPath = e.ConfigPath
		}
	}

	if configPath == "" {
		configPath = findConfig([]string{
			"./config.yaml",
			"./config.yml",
			"../../config.yaml", // keep for local dev
			"/etc/pokersync/config.yaml",
			"/app/config.yaml", // common in Docker
		})
	}

	return configPath
}

func findConfig(candidates []string) string {
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

package main

import (
	"fmt"
	"os"

	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/hilthontt/pokersync/pkg/client"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	logLevel  string
	logFile   string
)

var rootCmd = &cobra.Command{
	Use:           "pokerctl",
	Short:         "pokerctl talks to a pokersync server from the terminal.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "server base URL (default $POKERSYNC_BASE_URL or "+client.DefaultBaseURL+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "error", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stdout")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	if serverURL == "" {
		return client.NewClient()
	}
	return client.NewClient(client.WithBaseURL(serverURL))
}

func newLogger() logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Logger:   "zerolog",
		Encoding: "console",
		Level:    logLevel,
		FilePath: logFile,
	})
}

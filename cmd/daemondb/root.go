package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"daemondb/engine"
)

// Grounded on leftmike-maho.v1's cmd/maho.go root-command-plus-persistent-
// flags shape: one package-level root command, subcommands registered onto
// it from their own init()s, package-level vars for shared flags.
var (
	rootCmd = &cobra.Command{
		Use:   "daemondb",
		Short: "A disk-backed transactional storage engine",
	}

	dataDir string
	prodLog bool
)

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVar(&dataDir, "data-dir", "./data", "database data directory")
	fs.BoolVar(&prodLog, "prod-log", false, "use a production (JSON) logger instead of a development one")
}

func Execute() error {
	return rootCmd.Execute()
}

func newLogger() (*zap.Logger, error) {
	if prodLog {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func openEngine() (*engine.Engine, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	cfg := engine.DefaultConfig()
	cfg.DataDir = dataDir
	return engine.Open(cfg, logger)
}

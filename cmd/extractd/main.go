package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwygoda/extractd/internal/config"
	"github.com/cwygoda/extractd/internal/logging"
)

func main() {
	if err := RootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by all subcommands.
type app struct {
	configPath string
	dbPath     string
	stdout     io.Writer
	stderr     io.Writer
}

// RootCmd builds the extractd command tree.
func RootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:          "extractd",
		Short:        "Extraction job record service",
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (.toml, .yaml); defaults to $"+config.EnvConfigFile)
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path")

	root.AddCommand(ServeCmd(a))
	root.AddCommand(MigrateCmd(a))
	root.AddCommand(ListCmd(a))
	return root
}

// load reads configuration and applies flags that override it.
func (a *app) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = a.dbPath
		cfg.DatabaseURL = ""
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format, a.stderr), nil
}

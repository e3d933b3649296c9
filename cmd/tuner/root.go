package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/config"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/logger"
)

// app carries the process settings shared by the subcommands
type app struct {
	v        *viper.Viper
	logger   *slog.Logger
	closeLog io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "tuner",
		Short:         "Bayesian tuning of a staged processing pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closeLog != nil {
				return a.closeLog.Close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "tuning configuration file (YAML)")
	flags.String("log-level", "", "log level (debug, info, warn, error); defaults to the config log_level")
	flags.String("log-file", "", "also write JSON logs to this rotating file")
	flags.String("env-file", ".env", "dotenv file loaded before reading TUNER_* variables")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newRunCmd(a), newReportCmd(a), newValidateCmd(a))
	return root
}

// initialize loads the dotenv file, binds flags and TUNER_* variables and
// installs a console logger.
func (a *app) initialize(cmd *cobra.Command) error {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		// a missing dotenv file is normal
		_ = godotenv.Load(envFile)
	}

	a.v.SetEnvPrefix("TUNER")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	a.setLogger(cmd.ErrOrStderr(), a.v.GetString("log-level"))
	return nil
}

// setLogger replaces the process logger; a previous log file is closed
func (a *app) setLogger(console io.Writer, level string) {
	if level == "" {
		level = "info"
	}
	if a.closeLog != nil {
		a.closeLog.Close()
	}
	a.logger, a.closeLog = logger.NewFanout(level, console, logger.FileOptions{
		Path:       a.v.GetString("log-file"),
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
	})
	logger.SetDefault(a.logger)
}

// loadConfig reads the configuration named by --config or TUNER_CONFIG
func (a *app) loadConfig() (*config.Config, error) {
	path := a.v.GetString("config")
	if path == "" {
		return nil, fmt.Errorf("a configuration file is required (--config or TUNER_CONFIG)")
	}
	return config.LoadConfig(path)
}

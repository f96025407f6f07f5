package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tinkerbell/hook/internal/config"
	"github.com/tinkerbell/hook/internal/db"
	"github.com/tinkerbell/hook/internal/inventory"
	"github.com/tinkerbell/hook/internal/logger"
	"github.com/tinkerbell/hook/internal/psid"
	"github.com/tinkerbell/hook/internal/runner"
	"github.com/tinkerbell/hook/internal/sed"
	"github.com/tinkerbell/hook/internal/version"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   version.AppName,
	Short: "Hardware inventory and self-encrypting drive reset",
	Long: `hwinfo collects the hardware inventory of a freshly booted machine,
resets every NVMe self-encrypting drive with its PSID and reports the
result to the self-test service.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", version.AppName, version.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/hwinfo/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(sedCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	closer io.Closer
	runner runner.Runner
}

func setup(cmd *cobra.Command) (context.Context, *app, error) {
	cfg, err := config.Load(config.Options{File: cfgFile, LogLevel: logLevel})
	if err != nil {
		return nil, nil, err
	}

	log, closer, err := logger.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}
	log = log.With().Str("app", version.AppName).Str("version", version.Version).Logger()
	log.Debug().Fields(cfg.AsLogFields()).Msg("configuration loaded")

	ctx := logger.AddToContext(cmd.Context(), log)

	return ctx, &app{cfg: cfg, log: log, closer: closer, runner: runner.Exec{}}, nil
}

func (a *app) Close() {
	if err := a.closer.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "closing log file: %v\n", err)
	}
}

// openHistory opens the history database. A failure is logged and runs are
// simply not recorded.
func (a *app) openHistory() *db.DB {
	database, err := db.New(a.cfg.SED.HistoryDB)
	if err != nil {
		a.log.Warn().Err(err).Msg("history database unavailable")
		return nil
	}
	return database
}

func (a *app) secrets() (sed.SecretProvider, error) {
	return psid.New(psid.Config{
		BaseURL: a.cfg.SelfTestBaseURL,
		Retries: a.cfg.HTTP.Retries,
		Timeout: a.cfg.HTTP.Timeout,
	}, a.log.With().Str("component", "psid").Logger())
}

// engine builds the SED engine; history may be nil.
func (a *app) engine(secrets sed.SecretProvider, history *db.DB) *sed.Engine {
	e := sed.NewEngine(sed.Options{
		SedutilPath:  a.cfg.SED.SedutilPath,
		TypeTag:      a.cfg.SED.TypeTag,
		PollInterval: a.cfg.SED.PollInterval,
		MaxWait:      a.cfg.SED.MaxWait,
		SinkDir:      a.cfg.SED.SinkDir,
	}, a.runner, secrets, a.log.With().Str("component", "sed").Logger())
	if history != nil {
		e.Recorder = history
	}
	return e
}

// collector builds the inventory collector. The SED step is dropped when it
// is disabled or no secret authority is configured.
func (a *app) collector(history *db.DB) *inventory.Collector {
	c := &inventory.Collector{
		Runner: a.runner,
		Logger: a.log.With().Str("component", "inventory").Logger(),
	}
	if a.cfg.SED.Disabled {
		a.log.Info().Msg("sed reset disabled")
		return c
	}

	secrets, err := a.secrets()
	if err != nil {
		a.log.Warn().Err(err).Msg("no secret authority, skipping sed reset")
		return c
	}
	c.SED = a.engine(secrets, history)
	return c
}

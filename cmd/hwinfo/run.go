package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinkerbell/hook/internal/logger"
	"github.com/tinkerbell/hook/internal/report"
	"github.com/tinkerbell/hook/internal/sed"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect inventory, reset SEDs and check in",
	Long: `Collect the hardware inventory (resetting NVMe self-encrypting drives
along the way), post it to the self-test service and then sleep.

Settings come from the config file, the kernel command line and the
environment, in that order of precedence.`,
	RunE: runRun,
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect inventory and print it as JSON",
	RunE:  runCollect,
}

func init() {
	runCmd.Flags().Bool("no-sleep", false, "exit after checking in")
	collectCmd.Flags().Bool("no-sed", false, "skip the SED reset step")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	warnings, err := a.cfg.Verify()
	if err != nil {
		return err
	}
	for _, w := range warnings {
		a.log.Warn().Msg(w)
	}
	a.log.Info().Fields(a.cfg.AsLogFields()).Msg("starting hwinfo")

	history := a.openHistory()
	if history != nil {
		defer history.Close()
	}

	client, err := report.New(report.Config{
		BaseURL:       a.cfg.SelfTestBaseURL,
		Tries:         a.cfg.Report.Tries,
		RetryInterval: a.cfg.Report.RetryInterval,
		Timeout:       a.cfg.HTTP.Timeout,
	}, a.log.With().Str("component", "report").Logger())
	if err != nil {
		return err
	}

	info := a.collector(history).Collect(ctx)
	return checkIn(ctx, cmd, client, report.Message{Info: info, MAC: a.cfg.MAC, IP: a.cfg.IP, ID: a.cfg.ID}, a.cfg.Report.SleepAfter)
}

// checkIn posts the message and then holds the machine for sleepAfter so the
// service can reach it before the next boot action.
func checkIn(ctx context.Context, cmd *cobra.Command, client *report.Client, msg report.Message, sleepAfter time.Duration) error {
	log := logger.FromContext(ctx)

	if err := client.CheckIn(ctx, msg); err != nil {
		log.Error().Err(err).Msg("check-in failed")
	}

	if noSleep, _ := cmd.Flags().GetBool("no-sleep"); noSleep || sleepAfter <= 0 {
		return nil
	}

	log.Info().Dur("sleep", sleepAfter).Msg("sleeping before exit")
	select {
	case <-ctx.Done():
	case <-time.After(sleepAfter):
	}
	return nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	ctx, a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if noSED, _ := cmd.Flags().GetBool("no-sed"); noSED {
		a.cfg.SED.Disabled = true
	}

	history := a.openHistory()
	if history != nil {
		defer history.Close()
	}

	info := a.collector(history).Collect(ctx)
	return sed.PrintJSON(os.Stdout, info)
}

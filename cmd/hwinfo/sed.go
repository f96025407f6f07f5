package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tinkerbell/hook/internal/db"
	"github.com/tinkerbell/hook/internal/sed"
)

var sedCmd = &cobra.Command{
	Use:   "sed",
	Short: "Self-encrypting drive operations",
}

var sedScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List encryption-capable drives and their identities",
	Long: `Scan for encryption-capable drives and query each one for its
serial number and locking state. Nothing is reset.`,
	RunE: runSedScan,
}

var sedResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset every SED with its PSID",
	Long: `Revert every NVMe self-encrypting drive to factory state using the
PSID fetched from the self-test service. All data on those drives is lost.`,
	RunE: runSedReset,
}

var sedHistoryCmd = &cobra.Command{
	Use:   "history [serial]",
	Short: "Show recorded reset runs, or one drive's outcomes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSedHistory,
}

func init() {
	sedCmd.AddCommand(sedScanCmd)
	sedCmd.AddCommand(sedResetCmd)
	sedCmd.AddCommand(sedHistoryCmd)

	sedScanCmd.Flags().Bool("json", false, "Output as JSON")
	sedResetCmd.Flags().Bool("json", false, "Output as JSON")
	sedHistoryCmd.Flags().Bool("json", false, "Output as JSON")
	sedHistoryCmd.Flags().Int("limit", 20, "Maximum number of entries to show")
}

func runSedScan(cmd *cobra.Command, args []string) error {
	ctx, a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	dir, ids, err := a.engine(nil, nil).Scan(ctx)
	if err != nil {
		return err
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return sed.PrintJSON(os.Stdout, map[string]any{"directory": dir, "identities": ids})
	}
	if dir.Len() == 0 {
		fmt.Println("No encryption-capable drives found.")
		return nil
	}
	sed.PrintScanTable(os.Stdout, dir, ids)
	return nil
}

func runSedReset(cmd *cobra.Command, args []string) error {
	ctx, a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	secrets, err := a.secrets()
	if err != nil {
		return errors.Wrap(err, "secret authority")
	}

	history := a.openHistory()
	if history != nil {
		defer history.Close()
	}

	rep, err := a.engine(secrets, history).Reset(ctx)
	if err != nil {
		return err
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return sed.PrintJSON(os.Stdout, rep)
	}
	if len(rep.Results) == 0 {
		fmt.Println("No self-encrypting drives to reset.")
		return nil
	}
	sed.PrintResultsTable(os.Stdout, rep)
	return nil
}

func runSedHistory(cmd *cobra.Command, args []string) error {
	ctx, a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	database, err := db.New(a.cfg.SED.HistoryDB)
	if err != nil {
		return err
	}
	defer database.Close()

	jsonOut, _ := cmd.Flags().GetBool("json")
	limit, _ := cmd.Flags().GetInt("limit")

	if len(args) == 1 {
		outcomes, err := database.OutcomesBySerial(ctx, args[0], limit)
		if err != nil {
			return err
		}
		if jsonOut {
			return sed.PrintJSON(os.Stdout, outcomes)
		}
		if len(outcomes) == 0 {
			fmt.Printf("No recorded resets for %s.\n", args[0])
			return nil
		}
		printOutcomes(outcomes)
		return nil
	}

	runs, err := database.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOut {
		return sed.PrintJSON(os.Stdout, runs)
	}
	if len(runs) == 0 {
		fmt.Println("No recorded reset runs.")
		return nil
	}
	printRuns(runs)
	return nil
}

func printRuns(runs []*db.RunRecord) {
	fmt.Printf("%-36s %-16s %-10s %7s %9s %6s %7s\n", "RUN", "STARTED", "TOOK", "DEVICES", "SUCCEEDED", "FAILED", "SKIPPED")
	fmt.Println(strings.Repeat("-", 99))

	for _, r := range runs {
		took := r.FinishedAt.Sub(r.StartedAt).Round(100 * time.Millisecond)
		fmt.Printf("%-36s %-16s %-10s %7d %9d %6d %7d\n",
			r.RunID, humanize.Time(r.StartedAt), took, r.Devices, r.Succeeded, r.Failed, r.Skipped)
	}
}

func printOutcomes(outcomes []*db.OutcomeRecord) {
	fmt.Printf("%-16s %-14s %-10s %-10s %s\n", "WHEN", "DEVICE", "STATUS", "TOOK", "DETAIL")
	fmt.Println(strings.Repeat("-", 80))

	for _, o := range outcomes {
		detail := o.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Printf("%-16s %-14s %-10s %-10s %s\n",
			humanize.Time(o.StartedAt), o.DevicePath, strings.ToUpper(string(o.Status)), o.Duration, detail)
	}
}

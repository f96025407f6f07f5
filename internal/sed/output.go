package sed

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintScanTable writes the directory and which devices resolved.
func PrintScanTable(w io.Writer, dir *Directory, ids Identities) {
	if dir.Len() == 0 {
		fmt.Fprintln(w, "No Opal compliant devices found.")
		return
	}

	resolved := make(map[string]Identity, len(ids))
	for _, id := range ids {
		resolved[id.DevicePath] = id
	}

	fmt.Fprintf(w, "%-14s %-6s %-22s %-32s %-10s %s\n", "DEVICE", "TYPE", "SERIAL", "MODEL", "OPAL", "LOCKING")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, path := range dir.Paths() {
		dev := dir.Get(path)
		opal := "no"
		if dev.IsEncryptionCapable {
			opal = "yes"
		}

		locking := "-"
		if id, ok := resolved[path]; ok {
			locking = "supported"
			if !id.Capabilities.LockingSupported {
				locking = "unsupported"
			} else if id.Capabilities.Locked {
				locking = "locked"
			}
		}

		fmt.Fprintf(w, "%-14s %-6s %-22s %-32s %-10s %s\n",
			path, orDash(dev.TypeTag), orDash(dev.SerialNumber), truncate(orDash(dev.Model), 32), opal, locking)
	}
}

// PrintResultsTable writes one line per outcome and a summary.
func PrintResultsTable(w io.Writer, report *Report) {
	fmt.Fprintf(w, "Run:      %s\n", report.RunID)
	fmt.Fprintf(w, "Duration: %s\n", report.Finished.Sub(report.Started).Round(time.Millisecond))
	fmt.Fprintln(w)

	if len(report.Results) == 0 {
		fmt.Fprintln(w, "No resolvable SED devices.")
		return
	}

	fmt.Fprintf(w, "%-22s %-14s %-10s %-10s %s\n", "SERIAL", "DEVICE", "STATUS", "ELAPSED", "DETAIL")
	fmt.Fprintln(w, strings.Repeat("-", 90))

	for _, serial := range report.Results.Serials() {
		o := report.Results[serial]
		elapsed := "-"
		if o.Duration > 0 {
			elapsed = o.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%-22s %-14s %-10s %-10s %s\n", serial, o.DevicePath, o.Status, elapsed, o.Detail)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d succeeded, %d failed, %d skipped\n",
		report.Results.Count(StatusSucceeded),
		report.Results.Count(StatusFailed),
		report.Results.Count(StatusSkipped))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

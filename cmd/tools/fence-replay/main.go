// Command fence-replay runs a captured bridge feed through the fence engine
// offline and reports what the collar would have done.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/collar.amc/internal/amc"
	"github.com/banshee-data/collar.amc/internal/config"
	"github.com/banshee-data/collar.amc/internal/fence"
	"github.com/banshee-data/collar.amc/internal/fsutil"
	"github.com/banshee-data/collar.amc/internal/states"
	"github.com/banshee-data/collar.amc/internal/version"
)

func main() {
	if err := newRootCmd(fsutil.OSFileSystem{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(fsys fsutil.FileSystem) *cobra.Command {
	var (
		pasturePath string
		configPath  string
		plotPath    string
		modeName    string
		startAt     string
		interval    time.Duration
		showKinds   bool
	)

	cmd := &cobra.Command{
		Use:   "fence-replay CAPTURE",
		Short: "Replay a captured bridge feed through the fence engine",
		Long: `fence-replay reads bridge lines (one JSON object per line, the format the
collar daemon replays in --dev mode) and runs them through the engine on a
simulated clock.

Fix timestamps drive the clock. Fixes without one are spaced by --interval.
The pasture comes from --pasture or from pasture lines in the capture.

Examples:
  fence-replay --pasture pasture.json walk.jsonl
  fence-replay --pasture pasture.json --mode fence --plot walk.png walk.jsonl`,
		Args:         cobra.ExactArgs(1),
		Version:      version.String(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tuning := config.EmptyTuningConfig()
			if configPath != "" {
				var err error
				if tuning, err = config.LoadTuningConfig(configPath); err != nil {
					return err
				}
			}
			opts := Options{
				Config:   amc.ConfigFromTuning(tuning),
				Interval: interval,
			}
			if pasturePath != "" {
				p, err := loadPasture(fsys, pasturePath)
				if err != nil {
					return err
				}
				opts.Pasture = p
			}
			if modeName != "" {
				m, err := parseMode(modeName)
				if err != nil {
					return err
				}
				opts.Mode = m
			}
			if startAt != "" {
				t, err := time.Parse(time.RFC3339, startAt)
				if err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
				opts.Start = t
			}

			lines, err := fsutil.ReadLines(fsys, args[0])
			if err != nil {
				return err
			}
			res, err := Replay(cmd.Context(), lines, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printSummary(out, res, showKinds)
			if plotPath != "" {
				if err := PlotResult(res, plotPath); err != nil {
					return fmt.Errorf("plot: %w", err)
				}
				fmt.Fprintf(out, "plot written to %s\n", plotPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&pasturePath, "pasture", "p", "", "Pasture JSON file installed before the capture")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "JSON tuning file (defaults are used when empty)")
	cmd.Flags().StringVarP(&plotPath, "plot", "o", "", "Write a distance plot to this file (.png, .svg or .pdf)")
	cmd.Flags().StringVarP(&modeName, "mode", "m", "", "Operating mode to set after the pasture is installed (teach, fence or trace)")
	cmd.Flags().StringVar(&startAt, "start", "", "RFC 3339 start time of the simulated clock")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Spacing of fixes without a timestamp")
	cmd.Flags().BoolVar(&showKinds, "events", false, "List the count of every event kind")

	return cmd
}

// loadPasture reads a pasture JSON file. A pasture without a checksum is
// sealed so hand-drawn test pastures install.
func loadPasture(fsys fsutil.FileSystem, path string) (*fence.Pasture, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pasture: %w", err)
	}
	var p fence.Pasture
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pasture %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Checksum == 0 {
		p.Seal()
	}
	return &p, nil
}

func parseMode(s string) (states.Mode, error) {
	for m := states.ModeTeach; m <= states.ModeTrace; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return states.ModeUnknown, fmt.Errorf("unknown mode %q", s)
}

func printSummary(w io.Writer, res *Result, showKinds bool) {
	fmt.Fprintf(w, "lines:      %d (%d skipped)\n", res.Lines, res.Skipped)
	fmt.Fprintf(w, "positions:  %d\n", len(res.Samples))
	if n := len(res.Samples); n > 0 {
		minD, maxD := res.Samples[0].Distance, res.Samples[0].Distance
		for _, s := range res.Samples {
			minD = min(minD, s.Distance)
			maxD = max(maxD, s.Distance)
		}
		fmt.Fprintf(w, "distance:   %d..%d dm over %v\n", minD, maxD, res.Samples[n-1].Offset)
	}
	fmt.Fprintf(w, "zones:      %d changes\n", res.Kinds["zone_changed"])
	fmt.Fprintf(w, "warnings:   %d started, %d paused, %d ended\n",
		res.Kinds["correction_started"], res.Kinds["correction_paused"], res.Kinds["correction_ended"])
	fmt.Fprintf(w, "zaps:       %d\n", len(res.Zaps))

	f := res.Final
	fmt.Fprintf(w, "final:      zone=%s mode=%s fence=%s correction=%s\n",
		f.Zone, f.Status.Mode, f.Status.Fence, f.Correction)

	if showKinds {
		kinds := make([]string, 0, len(res.Kinds))
		for k := range res.Kinds {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-24s %d\n", k, res.Kinds[k])
		}
	}
}

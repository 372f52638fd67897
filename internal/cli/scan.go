package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/swarmguard/binscan/core/otelinit"
	"github.com/swarmguard/binscan/internal/config"
	"github.com/swarmguard/binscan/internal/output"
	"github.com/swarmguard/binscan/internal/sweep"
	"github.com/swarmguard/binscan/internal/target"
)

type scanFlags struct {
	detectors []string
	json      bool
	verbose   bool
	cachePath string
	publish   bool
	workers   int
}

func newScanCommand(g *globalFlags) *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan [flags] PATH...",
		Short: "Run detectors over files or directories",
		Long: `Run detectors over files. Directories are walked recursively.

Output:
  Human-readable reports by default, or a JSON array of reports with --json.

Exit codes:
  0 = nothing found
  1 = at least one detector flagged a file
  2 = partial failure (unreadable files or detectors that could not run)
  3 = fatal error (scan did not run)

Examples:
  binscan scan /tmp/sample.exe
  binscan scan --detectors clamav,peid /usr/local/bin
  binscan scan --json --cache ~/.cache/binscan/reports.db ./dist
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ov config.Overrides
			if f.cachePath != "" {
				ov.CachePath = f.cachePath
			}
			if cmd.Flags().Changed("workers") {
				ov.Workers = &f.workers
			}
			cfg, err := g.load(ov)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			a, err := buildApp(cfg, otelinit.NewMetrics(), f.publish)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			defer a.Close()
			if _, err := a.catalog.Select(f.detectors...); err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}

			ctx := cmd.Context()
			partial := false
			flagged := false
			var reports []sweep.Report
			onErr := func(path string, err error) {
				partial = true
				slog.Warn("skipping file", "path", path, "error", err)
			}
			for _, root := range args {
				bins, err := target.Walk(root, onErr)
				if err != nil {
					onErr(root, err)
					continue
				}
				for _, bin := range bins {
					rep, err := a.pipeline.AnalyzeBinary(ctx, bin, f.detectors...)
					if err != nil {
						if errors.Is(err, ctx.Err()) {
							return &ExitError{Code: ExitFatal, Err: err}
						}
						onErr(bin.Path(), err)
						continue
					}
					for _, res := range rep.Results {
						if res.Error != "" {
							partial = true
						}
					}
					if len(rep.Flagged()) > 0 {
						flagged = true
					}
					reports = append(reports, rep)
				}
			}

			out := cmd.OutOrStdout()
			if f.json {
				if reports == nil {
					reports = []sweep.Report{}
				}
				if err := output.JSON(out, reports); err != nil {
					return &ExitError{Code: ExitFatal, Err: fmt.Errorf("write json: %w", err)}
				}
			} else {
				console := output.Console{W: out, NoColor: g.noColor, Verbose: f.verbose}
				for _, rep := range reports {
					console.Report(rep)
				}
			}

			switch {
			case partial:
				return &ExitError{Code: ExitPartial}
			case flagged:
				return &ExitError{Code: ExitFlagged}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&f.detectors, "detectors", "d", nil, "Comma-separated detector ids (default all)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Write a JSON array of reports to stdout")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Also list detectors that found nothing")
	cmd.Flags().StringVar(&f.cachePath, "cache", "", "Report cache database (bbolt); unchanged files are not rescanned")
	cmd.Flags().BoolVar(&f.publish, "publish", false, "Publish reports to the configured NATS subject")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Detectors run in parallel per file (0 = all)")
	return cmd
}

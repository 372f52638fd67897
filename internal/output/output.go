// Package output renders reports and detector lists for the console.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/swarmguard/binscan/detector"
	"github.com/swarmguard/binscan/internal/sweep"
)

const rule = "----------------------------------------"

// Console writes human-readable output. Colors are off when NoColor is set
// or when color.NoColor says the terminal cannot render them.
type Console struct {
	W       io.Writer
	NoColor bool
	// Verbose also lists detectors that found nothing.
	Verbose bool
}

func (c Console) paint(attrs ...color.Attribute) *color.Color {
	col := color.New(attrs...)
	if c.NoColor {
		col.DisableColor()
	}
	return col
}

func (c Console) severityColor(s detector.Severity) *color.Color {
	switch s {
	case detector.SeverityMalicious:
		return c.paint(color.FgRed, color.Bold)
	case detector.SeveritySuspicious:
		return c.paint(color.FgYellow, color.Bold)
	case detector.SeverityInfo:
		return c.paint(color.FgCyan)
	default:
		return c.paint(color.FgGreen)
	}
}

// Report prints one sweep report.
func (c Console) Report(rep sweep.Report) {
	w := c.W
	bold := c.paint(color.Bold)
	dim := c.paint(color.Faint)

	fmt.Fprintln(w, rule)
	bold.Fprintf(w, "TARGET: %s\n", rep.Target.Path())
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "kind:   %s (%d bytes)", rep.Target.Kind, rep.Target.Size)
	if !rep.Target.Executable() {
		dim.Fprint(w, " not a known executable format")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "sha256: %s\n", rep.Target.SHA256)
	if rep.Cached {
		dim.Fprintln(w, "(cached report)")
	}
	fmt.Fprintln(w)

	for _, res := range rep.Results {
		switch {
		case res.Error != "":
			label := "error"
			if res.RulesUnavailable {
				label = "rules unavailable"
			}
			c.paint(color.FgMagenta).Fprintf(w, "! %s: %s: %s\n", res.ID, label, res.Error)
		case res.Finding.Empty():
			if c.Verbose {
				dim.Fprintf(w, "  %s: nothing found\n", res.ID)
			}
		default:
			c.severityColor(res.Finding.Severity).Fprintf(w, "[%s] ", strings.ToUpper(res.Finding.Severity.String()))
			bold.Fprintf(w, "%s: ", res.ID)
			fmt.Fprintln(w, res.Finding.Summary)
			for _, line := range res.Finding.Information {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprint(w, "Verdict: ")
	c.severityColor(rep.Verdict).Fprint(w, rep.Verdict.String())
	fmt.Fprintf(w, " (%d of %d detectors flagged, %s)\n", len(rep.Flagged()), len(rep.Results), rep.Duration.Round(100_000))
	fmt.Fprintln(w)
}

// Detectors prints the catalog. Quiet prints ids only.
func (c Console) Detectors(list []detector.Descriptor, quiet bool) {
	bold := c.paint(color.Bold)
	for _, d := range list {
		if quiet {
			fmt.Fprintln(c.W, d.ID)
			continue
		}
		fmt.Fprintln(c.W, rule)
		bold.Fprintf(c.W, "DETECTOR: %s\n", d.ID)
		fmt.Fprintln(c.W, rule)
		fmt.Fprintln(c.W, d.Description)
		fmt.Fprintln(c.W)
	}
}

// JSON writes v indented, followed by a newline.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

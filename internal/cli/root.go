// Package cli is the binscan command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/swarmguard/binscan/internal/config"
	"github.com/swarmguard/binscan/scanner"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

// EngineFactory builds the pattern engine for a run. The default only knows
// JSON literal rule files; main installs one that adds YARA.
type EngineFactory func(scanTimeout time.Duration) scanner.Engine

var engineFactory EngineFactory = func(time.Duration) scanner.Engine {
	return scanner.NewMux().Handle(scanner.NewLiteralEngine(), ".json")
}

// SetEngineFactory replaces the engine used by every command.
func SetEngineFactory(f EngineFactory) { engineFactory = f }

// SetBuildInfo records version metadata printed by "binscan version".
func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exit codes of "binscan scan".
const (
	ExitClean   = 0
	ExitFlagged = 1
	ExitPartial = 2
	ExitFatal   = 3
)

type globalFlags struct {
	configPath string
	rulesDir   string
	noColor    bool
}

func (g *globalFlags) load(extra config.Overrides) (config.RuntimeConfig, error) {
	if g.rulesDir != "" {
		extra.RulesDir = g.rulesDir
	}
	cfg, err := config.Loader{ConfigPath: g.configPath}.Load(extra)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "binscan",
		Short: "Scan executables with signature detectors",
		Long: `binscan runs signature detectors (ClamAV, compiler, PEiD and suspicious
string rule sets) over executable files and reports severity-levelled findings.

Examples:
  # Scan a file with every detector
  binscan scan /tmp/sample.exe

  # Only the packer detector, machine-readable
  binscan scan --detectors peid --json /tmp/sample.exe

  # List detectors
  binscan detectors list

  # Run the HTTP service with scheduled sweeps and rule watching
  binscan serve --config binscan.yml

Configuration:
  binscan.yml (or --config / BINSCAN_CONFIG), then .env, then BINSCAN_* variables,
  then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate),
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (default binscan.yml when present)")
	root.PersistentFlags().StringVar(&g.rulesDir, "rules-dir", "", "Directory holding the rule sets (default yara_rules)")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newScanCommand(g), newDetectorsCommand(g), newServeCommand(g), newVersionCommand())
	return root
}

// Execute runs the CLI and exits the process on error.
func Execute() {
	err := NewRootCommand().Execute()
	if err == nil {
		return
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exit.Err)
		}
		os.Exit(exit.Code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitFatal)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "binscan %s\ncommit: %s\nbuilt:  %s\n", buildVersion, buildCommit, buildDate)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swarmguard/binscan/detector"
	"github.com/swarmguard/binscan/internal/config"
	"github.com/swarmguard/binscan/internal/output"
)

func newDetectorsCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detectors",
		Short: "List and inspect detectors",
		Long: `List the detectors available to scans: the builtins plus any declared
under "detectors:" in the config file, minus those listed under "disabled:".

Examples:
  binscan detectors list
  binscan detectors show peid
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var quiet, asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List available detectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(g)
			if err != nil {
				return err
			}
			if asJSON {
				return output.JSON(cmd.OutOrStdout(), cat.Descriptors())
			}
			output.Console{W: cmd.OutOrStdout(), NoColor: g.noColor}.Detectors(cat.Descriptors(), quiet)
			return nil
		},
	}
	list.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print detector ids")
	list.Flags().BoolVar(&asJSON, "json", false, "Print descriptors as JSON")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show a detector's configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(g)
			if err != nil {
				return err
			}
			d, ok := cat.Lookup(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", detector.ErrUnknownDetector, args[0])
			}
			c := d.Config()
			w := cmd.OutOrStdout()
			output.Console{W: w, NoColor: g.noColor}.Detectors([]detector.Descriptor{d.Descriptor()}, false)
			fmt.Fprintf(w, "  Rule set:     %s\n", c.RuleSet)
			fmt.Fprintf(w, "  Severity:     %s\n", c.Severity)
			fmt.Fprintf(w, "  Summary:      %s\n", c.Summary)
			fmt.Fprintf(w, "  Field:        %s\n", c.Field)
			fmt.Fprintf(w, "  Show strings: %t\n", c.ShowStrings)
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func loadCatalog(g *globalFlags) (*detector.Catalog, error) {
	cfg, err := g.load(config.Overrides{})
	if err != nil {
		return nil, err
	}
	return buildCatalog(cfg)
}

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/FairForge/capplanner/internal/scenario"
)

func newScenariosCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List the scenario table in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(nil)
			if err != nil {
				return err
			}
			switch output {
			case "table":
				return writeTable(cmd.OutOrStdout(), cfg.Scenarios)
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(map[string]scenario.Table{"scenarios": cfg.Scenarios}); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown output %q (want table or yaml)", output)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table or yaml")
	return cmd
}

func writeTable(w io.Writer, table scenario.Table) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERS\tRAMP\tHOLD\tTOTAL\tDESCRIPTION")
	for _, d := range table {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			d.ID, d.TargetUsers, d.Ramp(), d.Duration(), d.TotalDuration(), d.Description)
	}
	return tw.Flush()
}

package cmd

import (
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stevehiehn/stepwise/internal/action"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "List built-in operations by family",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		families := action.Families()
		if jsonOutput {
			out := map[string][]string{}
			for _, f := range families {
				out[f.Name] = f.Names()
			}
			return printJSON(out)
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Family", "Op", "Qualified"})
		table.SetAutoMergeCells(true)
		for _, f := range families {
			for _, op := range f.Names() {
				table.Append([]string{f.Name, op, strings.Join([]string{f.Name, op}, ".")})
			}
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(opsCmd)
}

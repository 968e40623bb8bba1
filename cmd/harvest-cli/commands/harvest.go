package commands

import (
	"os"

	"docharvest/lib/harvest"
	"docharvest/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	harvestForce bool
	harvestMaxID string
)

func init() {
	harvestCmd.Flags().BoolVar(&harvestForce, "force", false, "Walk the entire history instead of stopping at the first stored item.")
	harvestCmd.Flags().StringVar(&harvestMaxID, "max-id", "", "The cursor to start the walk at.")
	rootCmd.AddCommand(harvestCmd)
}

var harvestCmd = &cobra.Command{
	Use:   "harvest <source> <identity>",
	Short: "Stores the items of a source identity that are not yet stored.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		result, err := service.Harvest(cmd.Context(), args[0], harvest.Request{
			Identity: args[1],
			Force:    harvestForce,
			MaxID:    harvestMaxID,
		})
		if err != nil {
			serviceutil.Fatal("harvest", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"State", "Stored", "Skipped", "Pages", "Credential", "Resume in"})
		resumeIn := ""
		if result.State == harvest.StateRateLimited {
			resumeIn = result.ResumeIn.String()
		}
		t.AppendRow(table.Row{result.State, result.Yielded, result.Skipped, result.Pages, result.Credential, resumeIn})
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

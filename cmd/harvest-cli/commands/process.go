package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"docharvest/lib/serviceutil"
	"docharvest/services/pipeline"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	processID      string
	processDoctype string
	processSave    bool
)

func init() {
	processCmd.Flags().StringVar(&processID, "id", "", "The id of the document to process.")
	processCmd.Flags().StringVar(&processDoctype, "doctype", "", "Process every document of this doctype.")
	processCmd.Flags().BoolVar(&processSave, "save", false, "Store the processed documents.")
	processCmd.MarkFlagsOneRequired("id", "doctype")
	processCmd.MarkFlagsMutuallyExclusive("id", "doctype")
	rootCmd.AddCommand(processCmd)

	renameCmd.Flags().BoolVar(&processSave, "save", false, "Store the renamed document.")
	rootCmd.AddCommand(renameCmd)

	rootCmd.AddCommand(processorsCmd)
}

func printDocuments(docs any) {
	out, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		serviceutil.Fatal("encode documents", err)
	}
	fmt.Println(string(out))
}

var processCmd = &cobra.Command{
	Use:   "process <processor> <field> [args...] (--id <id> | --doctype <doctype>) [--save]",
	Short: "Derives a new field from an existing one of stored documents.",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		docs, err := service.Process(cmd.Context(), pipeline.ProcessRequest{
			Processor: args[0],
			Field:     args[1],
			Args:      args[2:],
			Save:      processSave,
			ID:        processID,
			Doctype:   processDoctype,
		})
		if err != nil {
			serviceutil.Fatal("process", err)
		}
		printDocuments(docs)
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <id> <field> <new field> [--save]",
	Short: "Copies a field of a stored document to a new name.",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		docs, err := service.Process(cmd.Context(), pipeline.ProcessRequest{
			Processor: "rename_field",
			Field:     args[1],
			Args:      []string{args[2]},
			Save:      processSave,
			ID:        args[0],
		})
		if err != nil {
			serviceutil.Fatal("rename", err)
		}
		printDocuments(docs)
	},
}

var processorsCmd = &cobra.Command{
	Use:   "processors",
	Short: "Lists the processors process can run.",
	Run: func(cmd *cobra.Command, args []string) {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Name", "Description"})
		for _, p := range service.Processors() {
			t.AppendRow(table.Row{p.Name, p.Doc})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

package commands

import (
	"fmt"

	"docharvest/lib/serviceutil"

	"github.com/spf13/cobra"
)

var (
	showLimit   int
	showDoctype string
)

func init() {
	showCmd.Flags().StringVar(&showDoctype, "doctype", "", "The doctype of the documents to show.")
	showCmd.Flags().IntVar(&showLimit, "limit", 10, "The amount of documents to show for a doctype, 0 shows all.")
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show (<id> | --doctype <doctype>)",
	Short: "Prints stored documents.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			doc, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				serviceutil.Fatal("get document", err)
			}
			printDocuments(doc)
			return
		}

		if showDoctype == "" {
			serviceutil.Fatal("show", fmt.Errorf("either a document id or --doctype is required"))
		}
		docs, err := store.List(cmd.Context(), showDoctype, showLimit)
		if err != nil {
			serviceutil.Fatal("list documents", err)
		}
		printDocuments(docs)
	},
}

package commands

import (
	"fmt"
	"os"
	"time"

	"docharvest/lib/credential"
	"docharvest/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	credentialToken     string
	credentialTokenType string
)

func init() {
	credentialsAddCmd.Flags().StringVar(&credentialToken, "token", "", "The access token of the account.")
	credentialsAddCmd.Flags().StringVar(&credentialTokenType, "token-type", "Bearer", "The type of the access token.")
	credentialsAddCmd.MarkFlagRequired("token")

	credentialsCmd.AddCommand(credentialsAddCmd)
	credentialsCmd.AddCommand(credentialsListCmd)
	credentialsCmd.AddCommand(credentialsRemoveCmd)
	rootCmd.AddCommand(credentialsCmd)
	rootCmd.AddCommand(rateLimitsCmd)
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manages the credentials harvests run with.",
}

var credentialsAddCmd = &cobra.Command{
	Use:   "add <service> <account> --token <token>",
	Short: "Stores the token of a service account, replacing a stored one.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cred := credential.Credential{
			Service: args[0],
			Account: args[1],
			Payload: map[string]string{
				"access_token": credentialToken,
				"token_type":   credentialTokenType,
			},
		}
		err := store.AddCredential(cmd.Context(), cred)
		if err != nil {
			serviceutil.Fatal("add credential", err)
		}
		fmt.Println("stored", cred.ID())
	},
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the stored credentials.",
	Run: func(cmd *cobra.Command, args []string) {
		creds, err := store.ListCredentials(cmd.Context())
		if err != nil {
			serviceutil.Fatal("list credentials", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "Service", "Account"})
		for _, c := range creds {
			t.AppendRow(table.Row{c.ID(), c.Service, c.Account})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

var credentialsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Removes a stored credential by its id (<service>:<account>).",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := store.RemoveCredential(cmd.Context(), args[0])
		if err != nil {
			serviceutil.Fatal("remove credential", err)
		}
	},
}

var rateLimitsCmd = &cobra.Command{
	Use:   "ratelimits",
	Short: "Lists the last known rate limit of every credential endpoint.",
	Run: func(cmd *cobra.Command, args []string) {
		records, err := store.ListRateLimits(cmd.Context())
		if err != nil {
			serviceutil.Fatal("list rate limits", err)
		}

		now := time.Now()
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Credential", "Endpoint", "Remaining", "Resets at", "Usable"})
		for _, r := range records {
			t.AppendRow(table.Row{
				r.CredentialID,
				r.Endpoint,
				r.Remaining,
				r.ResetAt.Local().Format(time.DateTime),
				r.Usable(now),
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"docharvest/lib/alert"
	"docharvest/lib/chrono"
	"docharvest/lib/configutil"
	configsqlite "docharvest/lib/configutil/sqlite"
	"docharvest/lib/docstore"
	"docharvest/lib/docstore/db"
	"docharvest/lib/serviceutil"
	"docharvest/lib/telemetry"
	"docharvest/services/pipeline"

	"github.com/spf13/cobra"
)

type Config struct {
	Database configsqlite.Struct `json:"database"`
	Pipeline pipeline.Config     `json:"pipeline"`
}

var (
	configPath string
	verbose    bool
	dumpHttp   string

	database *sql.DB
	store    docstore.Store
	service  *pipeline.Service
	tel      telemetry.Telemetry
)

var rootCmd = &cobra.Command{
	Use:   "harvest-cli",
	Short: "harvest-cli harvests sources and processes stored documents once.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)

		var err error
		tel, err = telemetry.SetupFromEnv(cmd.Context(), "harvest-cli")
		if err != nil {
			serviceutil.Fatal("setup telemetry", err)
		}

		cfg, err := configutil.ReadConfig[Config](configPath)
		if err != nil {
			serviceutil.Fatal("read config", err)
		}
		if dumpHttp != "" {
			cfg.Pipeline.DumpHttp = dumpHttp
		}
		database, err = cfg.Database.OpenDB(db.Schema)
		if err != nil {
			serviceutil.Fatal("open database", err)
		}

		clock := chrono.Standard{}
		store = docstore.NewStore(database, clock)
		// a one-off run does not outlive a rate limit, walks only report
		// when they would resume
		service = pipeline.NewService(store, nil, alert.Log{}, clock, cfg.Pipeline.Options())
		err = service.AddSources(cfg.Pipeline)
		if err != nil {
			serviceutil.Fatal("init sources", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		database.Close()
		tel.Shutdown(context.Background())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json5", "The config file to read.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
	rootCmd.PersistentFlags().StringVar(&dumpHttp, "dump-http", "", "Write every http exchange of the sources to this directory.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

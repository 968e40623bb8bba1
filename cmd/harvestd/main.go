package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"docharvest/lib/alert"
	"docharvest/lib/chrono"
	"docharvest/lib/configutil"
	"docharvest/lib/deferred"
	"docharvest/lib/docstore"
	"docharvest/lib/docstore/db"
	"docharvest/lib/serviceutil"
	"docharvest/lib/telemetry"
	"docharvest/services/pipeline"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	initialHarvest := flag.Bool("harvest", false, "Run every job immediately on start.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	telemetry.InitSlog(*verbose)
	tel, err := telemetry.SetupFromEnv(ctx, "harvestd")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer tel.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx, 15*time.Second)

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	database, err := cfg.Database.OpenDB(db.Schema)
	if err != nil {
		serviceutil.Fatal("open database", err)
	}
	defer database.Close()

	clock := chrono.Standard{}
	store := docstore.NewStore(database, clock)

	runner := deferred.NewRunner(clock, cfg.Workers)
	defer runner.Close()

	notifier := alert.Multi{alert.Log{}}
	if cfg.Email.Enabled() {
		notifier = append(notifier, alert.NewEmail(cfg.Email))
	}

	service := pipeline.NewService(store, runner, notifier, clock, cfg.Pipeline.Options())
	err = service.AddSources(cfg.Pipeline)
	if err != nil {
		serviceutil.Fatal("init sources", err)
	}

	cron := chrono.NewStandardCron()
	defer cron.Stop(context.Background())
	err = service.ScheduleJobs(ctx, cron, cfg.Pipeline.Jobs)
	if err != nil {
		serviceutil.Fatal("schedule jobs", err)
	}

	if *initialHarvest {
		go service.HarvestAll(ctx, cfg.Pipeline.Jobs)
	}

	if cfg.StatusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /status", statusHandler(service, store))
		go serviceutil.StartHttpServer(ctx, cfg.StatusPort, mux)
	}

	<-ctx.Done()
}

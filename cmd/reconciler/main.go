package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dbmflow/internal/clients"
	"dbmflow/internal/config"
	"dbmflow/internal/controller"
	"dbmflow/internal/db"
	"dbmflow/internal/engine"
	"dbmflow/internal/logging"
	"dbmflow/internal/reconciler"
	"dbmflow/internal/ticket"
	"go.temporal.io/sdk/client"
)

func main() {
	logging.Init("reconciler", nil)
	if err := run(os.Args[1:]); err != nil {
		fatalf("reconciler: %v", err)
	}
}

var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var loadConfig = config.LoadConfig
var newDB = db.NewDB
var newTemporalClient = func(cfg config.EngineConfig) (client.Client, error) {
	return client.Dial(client.Options{HostPort: cfg.TemporalAddr, Namespace: cfg.Namespace})
}
var runLoop = func(ctx context.Context, rec *reconciler.Reconciler) error { return rec.Run(ctx) }

func run(args []string) error {
	fs := flag.NewFlagSet("reconciler", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("config required")
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if !cfg.Reconciler.Enabled {
		return errors.New("reconciler.enabled must be true for this process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	database, err := newDB(cfg.Storage.PostgresDSN)
	if err != nil {
		return err
	}
	defer database.Close()

	temporalClient, err := newTemporalClient(cfg.Engine)
	if err != nil {
		return fmt.Errorf("temporal dial: %w", err)
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	controller.RegisterBuilders()
	controllers := controller.NewRegistry()
	controller.RegisterFuncs(controllers)

	// Periodic tickets run with auto_execute, so the manager needs the
	// full submit path here too.
	manager := &ticket.Manager{
		Store: database,
		Engine: &engine.Facade{
			Client:    temporalClient,
			TaskQueue: cfg.Engine.TaskQueue,
			Store:     database,
		},
		Controllers: controllers,
		Dispatcher:  ticket.NewDispatcher(),
	}
	if cfg.Services.ResourceAddr != "" {
		manager.Resources = &clients.ResourceClient{
			BaseURL: cfg.Services.ResourceAddr,
			Token:   cfg.Services.Token,
		}
	}

	rec := reconciler.New()
	if cfg.Reconciler.PollIntervalSecs > 0 {
		rec.PollInterval = time.Duration(cfg.Reconciler.PollIntervalSecs) * time.Second
	}
	sweeper := &reconciler.AutofixSweeper{
		Store:    database,
		Tickets:  manager,
		DBABizID: int64(cfg.Server.DBAAppBkBizID),
	}
	rec.Add("proxy-autofix-sweep", cfg.Reconciler.AutofixCron, sweeper.Sweep)
	rec.Add("extension-stat-sync", "*/1 * * * *", reconciler.SyncExtensionStats(database))
	if cfg.Services.JobAddr != "" {
		jobs := &clients.JobClient{BaseURL: cfg.Services.JobAddr, Token: cfg.Services.Token}
		rec.Add("nginx-conf-sync", "*/1 * * * *", reconciler.SyncNginxConf(database, jobs))
	}
	if cfg.Reconciler.DrillCron != "" && cfg.Reconciler.DrillSpecPath != "" {
		rec.Add("failover-drill", cfg.Reconciler.DrillCron,
			reconciler.CreateFailoverDrills(manager, cfg.Reconciler.DrillSpecPath))
	}

	slog.Info("reconciler ready", "autofix_cron", cfg.Reconciler.AutofixCron, "tasks", rec.TaskNames())
	if err := runLoop(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"dbmflow/internal/clients"
	"dbmflow/internal/config"
	"dbmflow/internal/controller"
	"dbmflow/internal/db"
	"dbmflow/internal/engine"
	"dbmflow/internal/logging"
	"dbmflow/internal/pipeline"
	"dbmflow/internal/ticket"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	logging.Init("worker", nil)
	if err := run(os.Args[1:]); err != nil {
		fatalf("worker: %v", err)
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
var newWorker = func(c client.Client, taskQueue string) worker.Worker {
	return worker.New(c, taskQueue, worker.Options{})
}
var runWorker = func(w worker.Worker) error { return w.Run(worker.InterruptCh()) }

func run(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
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

	deps := controller.ComponentDeps{Store: database, SysInfo: database}
	if cfg.Services.JobAddr != "" {
		deps.Jobs = &clients.JobClient{BaseURL: cfg.Services.JobAddr, Token: cfg.Services.Token}
	}
	if cfg.Services.MonitorAddr != "" {
		deps.Monitor = &clients.MonitorClient{BaseURL: cfg.Services.MonitorAddr, Token: cfg.Services.Token}
	}
	if cfg.Services.CLBAddr != "" {
		deps.Cloud = &clients.CLBClient{BaseURL: cfg.Services.CLBAddr, Token: cfg.Services.Token}
	}
	components := pipeline.NewRegistry()
	controller.RegisterComponents(components, deps)

	// Terminal flow statuses advance or fail the owning ticket from the
	// worker side, so the manager here carries the same engine facade.
	facade := &engine.Facade{
		Client:    temporalClient,
		TaskQueue: cfg.Engine.TaskQueue,
		Store:     database,
	}
	manager := &ticket.Manager{
		Store:       database,
		Engine:      facade,
		Controllers: controllers,
		Dispatcher:  ticket.NewDispatcher(),
	}
	if cfg.Services.ResourceAddr != "" {
		manager.Resources = &clients.ResourceClient{
			BaseURL: cfg.Services.ResourceAddr,
			Token:   cfg.Services.Token,
		}
	}

	w := newWorker(temporalClient, cfg.Engine.TaskQueue)
	w.RegisterWorkflow(engine.PipelineWorkflow)
	w.RegisterActivity(&engine.Activities{
		Store:    database,
		Registry: components,
		Reporter: manager,
	})
	slog.Info("worker ready", "task_queue", cfg.Engine.TaskQueue, "components", len(components.Codes()))
	return runWorker(w)
}

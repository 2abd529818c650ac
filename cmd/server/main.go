package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"dbmflow/internal/clients"
	"dbmflow/internal/config"
	"dbmflow/internal/controller"
	"dbmflow/internal/db"
	"dbmflow/internal/engine"
	"dbmflow/internal/logging"
	"dbmflow/internal/reverseapi"
	"dbmflow/internal/ticket"
	"dbmflow/internal/web"
	"go.temporal.io/sdk/client"
)

func main() {
	logging.Init("server", nil)
	if err := run(os.Args[1:], func(srv *http.Server) error { return srv.ListenAndServe() }); err != nil {
		fatalf("server: %v", err)
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

func run(args []string, serve func(*http.Server) error) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
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

	facade := &engine.Facade{
		Client:    temporalClient,
		TaskQueue: cfg.Engine.TaskQueue,
		Store:     database,
	}
	dispatcher := ticket.NewDispatcher()
	dispatcher.RegisterHandler(ticket.TypeMySQLSemanticCheck, func(ctx context.Context, ev ticket.Event) error {
		slog.Info("semantic check finished", "ticket_id", ev.TicketID, "flow_id", ev.FlowID, "status", ev.Status)
		return nil
	})

	manager := &ticket.Manager{
		Store:       database,
		Engine:      facade,
		Controllers: controllers,
		Dispatcher:  dispatcher,
	}
	if cfg.Services.ResourceAddr != "" {
		manager.Resources = &clients.ResourceClient{
			BaseURL: cfg.Services.ResourceAddr,
			Token:   cfg.Services.Token,
		}
	}

	srv := web.NewServer(database, manager)
	srv.DBConn = database.Conn()
	srv.AuthToken = cfg.Server.AuthToken
	srv.MaxRequestBody = cfg.Server.MaxRequestBody
	srv.Goroutines = web.NewGoroutineTracker()
	srv.TemporalHealth = func(ctx context.Context) error {
		if temporalClient == nil {
			return nil
		}
		_, err := temporalClient.CheckHealth(ctx, nil)
		return err
	}
	if len(cfg.Reverse.KafkaOptions.Brokers) > 0 {
		pool := reverseapi.NewProducerPool(reverseapi.KafkaOptions{
			Brokers:  cfg.Reverse.KafkaOptions.Brokers,
			Username: cfg.Reverse.KafkaOptions.Username,
			Password: cfg.Reverse.KafkaOptions.Password,
		})
		srv.Reporter = reverseapi.NewReporter(pool)
	}
	srv.Crond = &reverseapi.CrondConfigProvider{
		Settings:     database,
		BeatPath:     cfg.Reverse.CrondBeatPath,
		AgentAddress: cfg.Reverse.CrondAgentAddr,
	}

	var wg sync.WaitGroup
	mainSrv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: srv.Handler()}
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- serve(mainSrv)
	}()
	slog.Info("server ready", "addr", cfg.Server.HTTPAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mainSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	wg.Wait()
	return nil
}

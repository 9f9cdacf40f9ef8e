package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clintrovert/ticketsync/internal/api/rest"
	"github.com/clintrovert/ticketsync/internal/config"
	"github.com/clintrovert/ticketsync/internal/graph"
	"github.com/clintrovert/ticketsync/internal/ingest"
	"github.com/clintrovert/ticketsync/internal/logging"
	"github.com/clintrovert/ticketsync/internal/lookup"
	"github.com/clintrovert/ticketsync/internal/notify"
	"github.com/clintrovert/ticketsync/internal/openproject"
	"github.com/clintrovert/ticketsync/internal/queue"
	"github.com/clintrovert/ticketsync/internal/sheet"
	"github.com/clintrovert/ticketsync/internal/supervisor"
	"github.com/clintrovert/ticketsync/internal/workitem"
	"github.com/clintrovert/ticketsync/pkg/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Remote clients
	tokenSource := graph.NewTokenSource(ctx, cfg.Graph)
	limiter := rate.NewLimiter(rate.Limit(cfg.Graph.RequestsPerSecond), cfg.Graph.Burst)
	graphClient := graph.NewClient(cfg.Graph.BaseURL, tokenSource, limiter, cfg.Graph.Timeout, logger)
	drive := graph.NewDrive(graphClient, cfg.Graph.FolderPath, cfg.Graph.ArchivePath, logger)
	opClient := openproject.NewClient(cfg.OpenProject.URL, cfg.OpenProject.Token, cfg.OpenProject.Timeout, logger)

	// Local state
	table := lookup.NewTable(cfg.Lookup.Dir, opClient, cfg.Lookup.UserIDs(), cfg.Lookup.RefreshInterval, logger)
	if err := table.Open(ctx); err != nil {
		logger.Fatal("failed to open lookup table", zap.Error(err))
	}

	updates := queue.Open(cfg.Queue.Path, queue.Options{
		DeadLetterPath: cfg.Queue.DeadLetterPath,
		MaxAttempts:    cfg.Queue.MaxAttempts,
	}, logger)

	location := types.LoadLocation(cfg.Sheet.Timezone)

	creator := workitem.NewCreator(opClient, table, drive, workitem.Options{
		TypeID:            cfg.OpenProject.TypeID,
		DefaultPriorityID: cfg.OpenProject.DefaultPriorityID,
		ReleaseDateField:  cfg.OpenProject.ReleaseDateField,
		NoteField:         cfg.OpenProject.NoteField,
	}, logger)

	synchronizer := sheet.NewSynchronizer(sheet.NewGraphStore(graphClient, cfg.Graph.WorkbookPath), sheet.Options{
		OpenProjectURL: opClient.BaseURL(),
		Location:       location,
		LockRetries:    cfg.Sheet.LockRetries,
		LockRetryDelay: cfg.Sheet.LockRetryDelay,
	}, logger)

	notifier := notify.NewNotifier(graphClient, opClient.BaseURL(), location, logger)

	// Services
	processor := ingest.NewProcessor(drive, creator, synchronizer, updates, notifier, logger)
	poller := ingest.NewPoller(processor, cfg.Ingest.Interval(), logger)
	drainer := queue.NewDrainer(updates, synchronizer, cfg.Queue.DrainInterval, logger)

	router := rest.NewRouter(rest.NewHandler(updates, drainer, table, logger))
	server := rest.NewServer(cfg.Server.Addr, router, cfg.Server.ShutdownTimeout, logger)

	tree := supervisor.NewTree(logger, cfg.Server.ShutdownTimeout)
	tree.AddSyncService(poller)
	tree.AddSyncService(drainer)
	tree.AddSyncService(table)
	tree.AddAPIService(server)

	logger.Info("starting ticketsync",
		zap.String("folder", cfg.Graph.FolderPath),
		zap.String("workbook", cfg.Graph.WorkbookPath),
		zap.Duration("interval", cfg.Ingest.Interval()),
	)

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor stopped", zap.Error(err))
	}

	logger.Info("shutting down")

	if err := updates.Close(); err != nil {
		logger.Error("failed to flush update queue", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

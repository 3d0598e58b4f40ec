package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/relaybot/internal/command"
	"github.com/ziadkadry99/relaybot/internal/config"
	"github.com/ziadkadry99/relaybot/internal/db"
	"github.com/ziadkadry99/relaybot/internal/dispatch"
	"github.com/ziadkadry99/relaybot/internal/gateway"
	"github.com/ziadkadry99/relaybot/internal/journal"
	"github.com/ziadkadry99/relaybot/internal/logger"
	"github.com/ziadkadry99/relaybot/internal/outbox"
	"github.com/ziadkadry99/relaybot/internal/server"
	"github.com/ziadkadry99/relaybot/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event engine",
	Long: `Starts the full process: the platform gateway feeding the dispatch
engine, the outbox relay delivering replies, and the HTTP API with
health probes, journal, and outbox inspection.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log := logger.Setup(level)

	// The local database always exists; the journal lives there even when
	// conversations are kept in Postgres.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	database, err := db.Open(filepath.Join(cfg.DataDir, "relaybot.db"))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	st, closeStore, err := openConversationStore(cfg, database)
	if err != nil {
		return err
	}
	defer closeStore()

	journalStore := journal.NewStore(database)

	registry := command.NewRegistry(cfg.CommandPrefix)
	command.RegisterBuiltins(registry, command.BuiltinOptions{
		Journal: journalStore,
		Ask:     command.NewAsker(config.AskAPIKey(), cfg.AskModel),
	})

	relay := outbox.NewRelay(st, gateway.NewHTTPSender(cfg.OutboundURL, cfg.OutboundToken), outbox.Options{
		PollInterval: time.Duration(cfg.Retry.PollSeconds) * time.Second,
		BatchSize:    cfg.Retry.BatchSize,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		BaseBackoff:  time.Duration(cfg.Retry.BaseSeconds) * time.Second,
		MaxBackoff:   time.Duration(cfg.Retry.MaxSeconds) * time.Second,
		JitterMax:    time.Duration(cfg.Retry.JitterSeconds) * time.Second,
		OnPark:       journalStore.RecordPark,
		Logger:       log,
	})

	dispatcher := dispatch.New(st, registry, dispatch.Options{
		HandlerTimeout: time.Duration(cfg.HandlerTimeoutSeconds) * time.Second,
		OnRecord:       journalStore.Record,
		OnCommit:       relay.Wake,
		Logger:         log,
	})
	engine := dispatch.NewEngine(dispatcher, cfg.Workers, cfg.QueueSize, log)

	srv := server.New(server.Config{Port: cfg.Port, AllowAll: true}, st, log)
	journal.RegisterRoutes(srv.Router(), journalStore)
	outbox.RegisterRoutes(srv.Router(), st)
	command.RegisterRoutes(srv.Router(), st)

	filter := gateway.NewFilter(cfg.Allow, cfg.Deny)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.Start()

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	relayDone := make(chan error, 1)
	go func() { relayDone <- relay.Run(relayCtx) }()

	var socketDone chan error
	switch cfg.GatewayMode {
	case config.ModeSocket:
		header := http.Header{}
		if cfg.SocketToken != "" {
			header.Set("Authorization", "Bearer "+cfg.SocketToken)
		}
		socket := gateway.NewSocket(cfg.SocketURL, gateway.SocketOptions{
			Header:   header,
			Filter:   filter,
			OnReject: journalStore.Record,
			Logger:   log,
		})
		socketDone = make(chan error, 1)
		go func() { socketDone <- socket.Run(ctx, engine) }()
	default:
		wh := gateway.NewWebhook(engine, gateway.WebhookOptions{
			Secret:   cfg.WebhookSecret,
			Filter:   filter,
			OnReject: journalStore.Record,
			Logger:   log,
		})
		gateway.RegisterRoutes(srv.Router(), wh)
	}

	go sweepDedup(ctx, st, time.Duration(cfg.DedupRetentionHours)*time.Hour, log)

	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Start() }()

	log.Info("relaybot started",
		"port", cfg.Port,
		"gateway_mode", cfg.GatewayMode,
		"storage_driver", cfg.StorageDriver,
		"workers", cfg.Workers,
	)

	// Block until a signal arrives or a component dies underneath us.
	var fatal error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverDone:
		fatal = fmt.Errorf("http server: %w", err)
	case err := <-socketDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			fatal = fmt.Errorf("socket gateway: %w", err)
		}
	}
	stop()

	// Intake first, then delivery, then the API. The stores close via the
	// deferred handles once everything above them is quiet.
	if err := engine.Stop(time.Duration(cfg.DrainTimeoutSeconds) * time.Second); err != nil {
		log.Warn("engine drain incomplete", "error", err)
	}
	stopRelay()
	<-relayDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown failed", "error", err)
	}

	log.Info("relaybot stopped")
	return fatal
}

// sweepDedup periodically drops processed-event records past the
// retention window. Replays older than the window are indistinguishable
// from new events, which is the documented trade for a bounded table.
func sweepDedup(ctx context.Context, st store.Store, retention time.Duration, log *slog.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := st.SweepDedup(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Warn("dedup sweep failed", "error", err)
			continue
		}
		if n > 0 {
			log.Info("dedup records swept", "removed", n)
		}
	}
}

package cli

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/relayq/relayq/internal/config"
	"github.com/relayq/relayq/internal/database"
	"github.com/relayq/relayq/internal/deliveries"
	"github.com/relayq/relayq/internal/dispatch"
	"github.com/relayq/relayq/internal/events"
	"github.com/relayq/relayq/internal/filter"
	"github.com/relayq/relayq/internal/server"
	"github.com/relayq/relayq/internal/transport"
	"github.com/relayq/relayq/internal/webhooks"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the delivery service",
	Long: `Start the RelayQ service: the HTTP API, the dispatcher that fans
captured events out to matching webhooks, the retry sweeper, and the
retention janitor.

The config file is watched; edits to delivery tuning and logging take
effect on the next engine cycle. Server and database settings require a
restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", config.DefaultHost, "Host to bind to")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// The watch callback fires before the engine exists, so it reaches
	// the engine through an atomic handle.
	var engine atomic.Pointer[dispatch.Engine]

	cfg, err := config.Watch(config.LoadOptions{ConfigFile: cfgFile},
		func(next *config.Config) {
			setupLogging(&next.Logging)
			if e := engine.Load(); e != nil {
				e.UpdateConfig(&next.Delivery)
			}
			log.Info().Msg("Configuration reloaded")
		},
		func(err error) {
			log.Warn().Err(err).Msg("Ignoring invalid configuration change")
		},
	)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}

	setupLogging(&cfg.Logging)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	filterEngine, err := filter.NewEngine()
	if err != nil {
		return err
	}

	whStore := webhooks.NewStore(db)
	whService := webhooks.NewService(whStore, filterEngine)
	eventStore := events.NewStore(db)
	deliveryStore := deliveries.NewStore(db)

	sender := transport.NewSender(transport.SenderOptions{
		Timeout:          cfg.Delivery.Timeout,
		MaxSnapshotBytes: int64(cfg.Delivery.SnapshotMaxBytes),
		UserAgent:        "relayq/" + version,
	})

	eng := dispatch.NewEngine(&cfg.Delivery, whService, whStore, eventStore, deliveryStore,
		sender, transport.NewLimiterRegistry())
	engine.Store(eng)

	janitor := dispatch.NewJanitor(&cfg.Retention, eventStore, deliveryStore)

	srv := server.New(cfg, db, whService, eventStore, deliveryStore)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	if err := janitor.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	eng.Stop()
	janitor.Stop()

	return nil
}

// Command relayd runs the speech translation relay: the websocket room
// fan-out, the session/upload HTTP API, and the observability server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guleriaishita/speech-translation/internal/app"
	"github.com/guleriaishita/speech-translation/internal/config"
	"github.com/guleriaishita/speech-translation/internal/events"
	"github.com/guleriaishita/speech-translation/internal/httpapi"
	"github.com/guleriaishita/speech-translation/internal/job"
	"github.com/guleriaishita/speech-translation/internal/observability"
	"github.com/guleriaishita/speech-translation/internal/pipeline"
	"github.com/guleriaishita/speech-translation/internal/relay"
	"github.com/guleriaishita/speech-translation/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	publisher := events.New(&cfg.Kafka)
	defer publisher.Close()

	// Inference adapters. The stub keeps the relay fully functional
	// without external speech services; swap here to integrate real ones.
	stub := pipeline.NewStub(pipeline.DefaultStubConfig())
	pipe := pipeline.New(stub, stub, stub)

	sessions := session.NewStore()
	jobs := job.NewStore()
	runner := job.NewRunner(stub, stub, stub, jobs, publisher)
	rly := relay.New(cfg.Relay, sessions, pipe, publisher)

	router := httpapi.NewRouter(&httpapi.API{
		Upload:   cfg.Upload,
		Sessions: sessions,
		Jobs:     jobs,
		Runner:   runner,
		Relay:    rly,
	})

	obsServer := observability.NewServer(cfg.Observability.MetricsAddr, func() bool {
		return !application.StartupTime.IsZero()
	})
	obsServer.Start()

	httpServer := &http.Server{
		Addr:    ":" + cfg.Service.HTTPPort,
		Handler: router,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Relay listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	if err := obsServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Observability shutdown failed")
	}
	application.Shutdown()
}

// Command server runs the WhatsApp ↔ bot-backend connector: it terminates
// the channel webhook, relays normalized messages to the bot backend, and
// delivers composed replies through the serialized queue.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-whatsapp-connector/internal/bot"
	"github.com/tbourn/go-whatsapp-connector/internal/config"
	httpapi "github.com/tbourn/go-whatsapp-connector/internal/http"
	"github.com/tbourn/go-whatsapp-connector/internal/observability"
	"github.com/tbourn/go-whatsapp-connector/internal/services"
	"github.com/tbourn/go-whatsapp-connector/internal/storage"
	"github.com/tbourn/go-whatsapp-connector/internal/whatsapp"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	// Outbound HTTP shares one bounded-timeout client; a hung remote call
	// must fail and advance the queue, never block it forever.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	store, err := storage.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("s3 store setup failed")
	}

	waClient := whatsapp.NewClient(cfg.WhatsApp, httpClient)
	botClient := bot.NewClient(cfg.Bot, httpClient)

	pipeline := services.NewAttachmentPipeline(waClient, store, cfg.Storage.SignedURLTTL, cfg.WhatsApp.UploadMedia)
	tracker := services.NewMenuTracker(cfg.MenuRetention)
	deduper := services.NewDeduper(cfg.DedupeTTL)

	queue := services.NewDeliveryQueue(waClient)
	queue.Start(ctx)

	normalizer := services.NewNormalizer(deduper, tracker, pipeline, queue, cfg.NoticeWindow)
	composer := services.NewComposer(tracker, pipeline, cfg.WhatsApp.ListButtonLabel)

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, cfg, httpapi.Deps{
		Normalizer: normalizer,
		Composer:   composer,
		Queue:      queue,
		Relay:      botClient,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("version", version).Msg("connector listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	// Let the delivery queue finish its in-flight send.
	select {
	case <-queue.Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("delivery queue did not drain in time")
	}
}

// setupLogging configures the global zerolog logger from configuration.
func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

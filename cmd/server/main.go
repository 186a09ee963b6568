package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/praemienvergleich/api/internal/business/lead"
	"github.com/praemienvergleich/api/internal/business/region"
	"github.com/praemienvergleich/api/internal/business/tariff"
	"github.com/praemienvergleich/api/internal/platform/config"
	"github.com/praemienvergleich/api/internal/platform/conversion"
	"github.com/praemienvergleich/api/internal/platform/dataset"
	firestoreclient "github.com/praemienvergleich/api/internal/platform/firestore"
	apirouter "github.com/praemienvergleich/api/internal/platform/http"
	"github.com/praemienvergleich/api/internal/platform/logging"
	"github.com/praemienvergleich/api/internal/repository"
	"github.com/praemienvergleich/api/pkg/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load(".env.local", ".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	gin.SetMode(cfg.GinMode)
	decimal.MarshalJSONWithoutQuotes = true

	src := dataset.New(cfg.DataDir, cfg.DataBaseURL)
	regions := region.NewLookup(src)
	tariffs := tariff.NewStore(src)
	if preload := cfg.PreloadCantons; len(preload) > 0 {
		if preload[0] == "ALL" {
			preload = model.Cantons
		}
		failed := tariffs.Warm(ctx, preload, 4, logger)
		logger.Info("tariff tables preloaded",
			zap.Int("cached", tariffs.Cached()),
			zap.Int("failed", failed))
	}

	firestoreClient, credsSource, err := firestoreclient.New(ctx, cfg)
	if err != nil {
		logger.Fatal("firestore init", zap.Error(err))
	}
	defer firestoreClient.Close()

	if err := firestoreclient.Ping(ctx, firestoreClient); err != nil {
		logger.Fatal("firestore ping", zap.Error(err))
	}
	logger.Info("connected to Firestore",
		zap.String("project", cfg.FirebaseProjectID),
		zap.String("credentials", credsSource))

	leadRepo := repository.NewLeadRepository(firestoreClient)

	var tracker lead.ConversionTracker
	if cfg.ConversionsEnabled() {
		tracker = conversion.New(nil, conversion.Config{
			PixelID:       cfg.MetaPixelID,
			AccessToken:   cfg.MetaAccessToken,
			TestEventCode: cfg.MetaTestEventCode,
			Mock:          cfg.MetaMock,
		})
		logger.Info("conversion events enabled", zap.Bool("mock", cfg.MetaMock))
	}
	leads := lead.NewService(leadRepo, tracker, logger)

	router := apirouter.NewRouter(apirouter.Deps{
		Regions: regions,
		Tariffs: tariffs,
		Leads:   leads,
		Logger:  logger,
	}, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           http.TimeoutHandler(router, cfg.RequestTimeout, `{"error":"request timed out"}`),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()
	logger.Info("server listening", zap.String("port", cfg.Port))

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("server exited")
}

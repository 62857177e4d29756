package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classroom-relay/relay/internal/api"
	"github.com/classroom-relay/relay/internal/auth"
	"github.com/classroom-relay/relay/internal/cache"
	"github.com/classroom-relay/relay/internal/config"
	"github.com/classroom-relay/relay/internal/core"
	"github.com/classroom-relay/relay/internal/logger"
	"github.com/classroom-relay/relay/internal/store"
)

func main() {
	ingestFile := flag.String("ingest", "", "Ingest a markdown table of course material into a group and exit")
	ingestGroup := flag.String("group", "", "Group ID the ingested material belongs to")
	ingestSender := flag.String("sender", "", "User ID recorded as the sender of ingested material")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLog := logger.New(logger.Options{Mode: cfg.LogMode, Debug: cfg.Debug(), FilePath: cfg.LogFile})
	defer appLog.Sync()
	appLog.Debug("Service starting in DEBUG mode")

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		appLog.Fatal("Failed to initialize database", "error", err)
	}
	defer dbStore.Close()

	ctx := context.Background()
	provider, err := core.NewLLMProvider(ctx, cfg.LLM)
	if err != nil {
		appLog.Fatal("Failed to initialize LLM provider", "provider", cfg.LLM.Provider, "error", err)
	}
	defer provider.Close()

	if *ingestFile != "" {
		if *ingestGroup == "" || *ingestSender == "" {
			appLog.Fatal("-ingest needs -group and -sender")
		}
		n, err := dbStore.IngestCourseMaterial(ctx, *ingestFile, *ingestGroup, *ingestSender, provider.Embed, appLog)
		if err != nil {
			appLog.Fatal("Course material ingestion failed", "file", *ingestFile, "error", err)
		}
		appLog.Info("Course material ingestion complete", "file", *ingestFile, "messages", n)
		return
	}

	var tier core.AnswerTier
	if cfg.Redis.Addr != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLog.Fatal("Failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		}
		defer rdb.Close()
		tier = cache.NewRedisAnswerCache(rdb, cfg.AnswerCacheTTL)
	} else {
		tier = cache.NewMemoryAnswerCache(cfg.AnswerCacheTTL, 10*time.Minute)
	}
	appLog.Info("Answer cache tier ready", "tier", tier.Name())

	tokens := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TTL)
	pipeline := core.NewResponsePipeline(
		dbStore,
		core.NewAvailabilityResolver(dbStore, appLog),
		core.NewContextRetriever(dbStore),
		core.NewAnswerCache(dbStore, appLog, tier),
		provider,
		provider,
		core.PipelineOptions{GenerationTimeout: cfg.LLM.GenerationTimeout},
		appLog,
	)
	classroom := core.NewClassroomService(dbStore, tokens, provider, appLog)

	apiHandler := api.NewAPIHandler(pipeline, classroom, appLog)
	router := api.NewRouter(apiHandler, tokens)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLM.GenerationTimeout + 30*time.Second, // generation plus store round trips
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		appLog.Info("Starting server", "addr", serverAddr, "provider", cfg.LLM.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("Could not listen", "addr", serverAddr, "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", "error", err)
		return
	}
	appLog.Info("Server exiting gracefully")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"graphminer/internal/api"
	"graphminer/internal/config"
	"graphminer/internal/extraction"
	"graphminer/internal/repository"
	"graphminer/internal/service"
	"graphminer/internal/source"
	"graphminer/internal/walker"
	"graphminer/pkg/db"
	"graphminer/pkg/logger"
	"graphminer/pkg/mq"
	"graphminer/pkg/outbox"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting discovery-api...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("http_port", cfg.Server.Port),
	)

	// DB
	log.Info("Initializing database connection...")
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("Database connection established successfully")

	// MQ: exchange declaration + outbox publisher
	mqConn, err := mq.NewConnection(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to connect to MQ", zap.Error(err))
	}
	defer mqConn.Close()

	ch, err := mqConn.Channel()
	if err != nil {
		log.Fatal("Failed to open MQ channel", zap.Error(err))
	}
	if err := mq.DeclareExchange(ch); err != nil {
		log.Fatal("Failed to declare exchange", zap.Error(err))
	}
	ch.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	outboxRepo := outbox.NewRepository(dbConn)
	sessionRepo := repository.NewSessionRepository(dbConn)
	progressRepo := repository.NewProgressRepository(dbConn)
	sampleRepo := repository.NewSampleRepository(dbConn)
	exceptionRepo := repository.NewExceptionRepository(dbConn)

	// Collaborators
	sourceClient := source.NewHTTPClient(cfg.Discovery.SourceBaseURL)
	extractionEngine := extraction.NewHTTPEngine(cfg.Discovery.ExtractionBaseURL)

	// Services
	escalationSvc := service.NewEscalationService(exceptionRepo, cfg.Discovery.ConfidenceFloor, log)

	registry := walker.NewRegistry()
	walkerEngine := walker.NewEngine(
		sessionRepo,
		progressRepo,
		sampleRepo,
		escalationSvc,
		sourceClient,
		extractionEngine,
		registry,
		walker.Config{
			HistoryDays:           cfg.Discovery.HistoryDays,
			PerDayItemCap:         cfg.Discovery.PerDayItemCap,
			ItemCostEstimateCents: cfg.Discovery.ItemCostEstimateCents,
			ConfidenceFloor:       cfg.Discovery.ConfidenceFloor,
			FetchRetries:          cfg.Discovery.FetchRetries,
		},
		log,
	)

	sessionSvc := service.NewSessionService(sessionRepo, progressRepo, walkerEngine, cfg.Discovery.MinFeedbackForAutoTrain, log)
	feedbackSvc := service.NewFeedbackService(
		sampleRepo,
		sessionRepo,
		escalationSvc,
		publisher,
		cfg.Discovery.ReviewCostCents,
		cfg.Discovery.MinFeedbackForAutoTrain,
		log,
	)

	// Outbox dispatcher pushes committed events to MQ
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	go dispatcher.Start(dispatcherCtx)

	// Relaunch walkers for sessions left running by a previous process
	relaunchRunning(sessionRepo, walkerEngine, log)

	// HTTP server
	sessionHandler := api.NewSessionHandler(sessionSvc, log)
	sampleHandler := api.NewSampleHandler(feedbackSvc, log)
	exceptionHandler := api.NewExceptionHandler(escalationSvc, log)
	router := api.NewRouter(sessionHandler, sampleHandler, exceptionHandler, log, dbConn, publisher)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("discovery-api is fully initialized and running",
		zap.String("http_port", cfg.Server.Port),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down discovery-api gracefully...")

	log.Info("Stopping walkers...")
	registry.Shutdown()

	log.Info("Stopping outbox dispatcher...")
	stopDispatcher()

	log.Info("Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("Closing database connection...")
	dbConn.Close()

	log.Info("discovery-api shutdown complete")
}

// relaunchRunning re-attaches walkers to sessions the previous process left
// in running state. The day ledger makes the restart seamless.
func relaunchRunning(sessions *repository.SessionRepository, engine *walker.Engine, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	running, err := sessions.FindRunning(ctx)
	if err != nil {
		log.Error("Failed to look up running sessions, walkers not relaunched", zap.Error(err))
		return
	}

	for _, sess := range running {
		log.Info("Relaunching walker for running session",
			zap.Int64("session_id", sess.ID),
			zap.Int64("user_id", sess.UserID),
		)
		engine.Launch(sess)
	}
}

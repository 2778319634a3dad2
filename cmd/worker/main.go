package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "graphminer/contracts/mq"
	"graphminer/internal/alert"
	"graphminer/internal/config"
	"graphminer/internal/mqhandler"
	"graphminer/pkg/logger"
	"graphminer/pkg/mq"
	"graphminer/pkg/redis"
	"graphminer/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting alert-worker...",
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("redis_addr", cfg.Redis.Addr),
	)

	// Redis backs dedup and retry counting
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduperWithLogger(rdb, 24*time.Hour, log)
	retryCounter := util.NewRetryCounter(rdb, 1*time.Hour)

	// MQ topology: main exchange plus DLQ for poison messages
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
	if err := mq.DeclareDLQExchange(ch); err != nil {
		log.Fatal("Failed to declare DLQ exchange", zap.Error(err))
	}
	if _, err := mq.DeclareDLQQueue(ch, mqcontracts.RoutingKeyExceptionFlagged); err != nil {
		log.Fatal("Failed to declare DLQ queue", zap.Error(err))
	}
	ch.Close()

	dlqPublisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init DLQ publisher", zap.Error(err))
	}
	defer dlqPublisher.Close()

	// Alert channel: webhook when configured, log otherwise
	var alerter alert.Alerter
	if cfg.Alert.WebhookURL != "" {
		alerter = alert.NewWebhookAlerter(cfg.Alert.WebhookURL, log)
		log.Info("Using webhook alerter", zap.String("webhook_url", cfg.Alert.WebhookURL))
	} else {
		alerter = alert.NewLogAlerter(log)
		log.Info("No webhook configured, using log alerter")
	}

	exceptionHandler := mqhandler.NewExceptionFlaggedHandler(alerter, deduper, retryCounter, dlqPublisher, 3, log)
	statusHandler := mqhandler.NewSessionStatusHandler(log)

	// Consumer for exception.flagged
	log.Info("Initializing MQ consumer for exception.flagged...",
		zap.String("queue", exceptionHandler.QueueName()),
		zap.String("routing_key", mqcontracts.RoutingKeyExceptionFlagged),
	)
	exceptionConsumer, err := mq.NewConsumer(cfg.MQ.URL, exceptionHandler.QueueName(), mqcontracts.RoutingKeyExceptionFlagged, log)
	if err != nil {
		log.Fatal("Failed to init exception consumer", zap.Error(err))
	}
	defer exceptionConsumer.Close()

	exceptionConsumer.SetHandler(exceptionHandler.Handle)

	go func() {
		log.Info("Starting exception.flagged consumer...")
		if err := exceptionConsumer.StartConsuming(); err != nil {
			log.Fatal("Exception consumer failed", zap.Error(err))
		}
	}()
	log.Info("exception.flagged consumer started successfully")

	// Consumer for session.status_changed
	log.Info("Initializing MQ consumer for session.status_changed...",
		zap.String("queue", statusHandler.QueueName()),
		zap.String("routing_key", mqcontracts.RoutingKeySessionStatusChanged),
	)
	statusConsumer, err := mq.NewConsumer(cfg.MQ.URL, statusHandler.QueueName(), mqcontracts.RoutingKeySessionStatusChanged, log)
	if err != nil {
		log.Fatal("Failed to init status consumer", zap.Error(err))
	}
	defer statusConsumer.Close()

	statusConsumer.SetHandler(statusHandler.Handle)

	go func() {
		log.Info("Starting session.status_changed consumer...")
		if err := statusConsumer.StartConsuming(); err != nil {
			log.Fatal("Status consumer failed", zap.Error(err))
		}
	}()
	log.Info("session.status_changed consumer started successfully")

	log.Info("alert-worker is fully initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down alert-worker gracefully...")
	exceptionConsumer.Close()
	statusConsumer.Close()
	log.Info("alert-worker shutdown complete")
}

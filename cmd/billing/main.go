package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/eujuliu/email-serverless/internal/billing"
	"github.com/eujuliu/email-serverless/internal/broker"
	"github.com/eujuliu/email-serverless/internal/config"
	"github.com/eujuliu/email-serverless/internal/store"
	"github.com/eujuliu/email-serverless/internal/utils"
)

func main() {
	logger := utils.NewLogger("billing")

	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file found, continuing without it")
	}

	cfg, err := config.Load()
	utils.FailOnError(logger, err, "Failed to load config")

	st, err := store.Open(cfg.PostgresDSN)
	utils.FailOnError(logger, err, "Failed to connect to database")
	logger.Info("connected to db with success!")

	b, err := broker.Connect(cfg.RabbitMQURL, logger)
	utils.FailOnError(logger, err, "Failed to connect to RabbitMQ")
	defer b.Close()

	err = b.EnsureQueue(broker.QueueTaskResult, broker.RouteTaskResult)
	utils.FailOnError(logger, err, "Failed to declare task-result queue")

	consumer := billing.NewConsumer(st, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("billing consumer started, waiting for results")

	if err := b.Consume(ctx, broker.QueueTaskResult, consumer.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consume loop stopped", "error", err)
	}

	logger.Info("billing consumer stopped")
}

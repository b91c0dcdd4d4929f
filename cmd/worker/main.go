package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/eujuliu/email-serverless/internal/broker"
	"github.com/eujuliu/email-serverless/internal/config"
	"github.com/eujuliu/email-serverless/internal/mail"
	"github.com/eujuliu/email-serverless/internal/store"
	"github.com/eujuliu/email-serverless/internal/utils"
	"github.com/eujuliu/email-serverless/internal/worker"
)

func main() {
	logger := utils.NewLogger("worker")

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

	err = b.EnsureQueue(broker.QueueEmailTask, broker.RouteEmailSend)
	utils.FailOnError(logger, err, "Failed to declare email-task queue")
	err = b.EnsureQueue(broker.QueueTaskResult, broker.RouteTaskResult)
	utils.FailOnError(logger, err, "Failed to declare task-result queue")

	sender := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		SendRPS:  cfg.SMTPSendRPS,
		Burst:    cfg.SMTPBurst,
	})

	processor := worker.NewProcessor(st, sender, b, logger, worker.Config{
		From:             cfg.EmailFrom,
		RefundOnDelivery: cfg.RefundOnDeliveryError,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started, waiting for messages")

	if err := b.Consume(ctx, broker.QueueEmailTask, processor.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consume loop stopped", "error", err)
	}

	logger.Info("worker stopped")
}

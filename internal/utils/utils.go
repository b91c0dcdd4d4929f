package utils

import (
	"log/slog"
	"os"
)

// NewLogger builds the JSON logger every service writes to stdout.
func NewLogger(service string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", service)
}

// FailOnError is a helper for critical startup errors.
func FailOnError(logger *slog.Logger, err error, msg string) {
	if err != nil {
		logger.Error(msg, "error", err)
		panic(err)
	}
}

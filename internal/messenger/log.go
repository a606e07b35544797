// Package messenger provides message delivery backends for one-time codes.
package messenger

import (
	"context"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

var _ model.Messenger = (*Log)(nil)

// Log writes messages to the application log instead of delivering them.
// It stands in for a real mail transport in development deployments.
type Log struct {
	logger *logger.Logger
}

func NewLog(logger *logger.Logger) *Log {
	return &Log{logger: logger}
}

func (m *Log) Send(_ context.Context, recipient, subject, body string) error {
	m.logger.Info("Messenger: outgoing message",
		"recipient", recipient,
		"subject", subject,
		"body", body)
	return nil
}

package notification

import (
	"context"
	"log/slog"
)

// LogProvider is the default delivery provider: it writes each notification
// to the given logger and acknowledges. Useful standalone for deployments
// that tail the delivery log, and as the fallback when no push transport is
// configured.
type LogProvider struct {
	logger *slog.Logger
}

// NewLogProvider creates a provider writing to logger, or to the default
// slog logger when nil.
func NewLogProvider(logger *slog.Logger) *LogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProvider{logger: logger}
}

// Name returns the provider name.
func (p *LogProvider) Name() string { return "log" }

// Deliver logs the notification and acknowledges it.
func (p *LogProvider) Deliver(ctx context.Context, event *Event) (DeliveryStatus, error) {
	p.logger.InfoContext(ctx, "Notification",
		"owner", event.OwnerID,
		"subscription", event.SubscriptionID,
		"media", event.MediaID,
		"tag", event.MatchedTag,
		"confidence", event.MatchedConfidence)
	return StatusAck, nil
}

package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"notifysync/internal/model"
	"notifysync/pkg/circuitbreaker"
	"notifysync/pkg/config"
	"notifysync/pkg/metrics"
)

// TokenLister resolves a user's registered device tokens, satisfied by
// repository.DeviceTokenRepository.
type TokenLister interface {
	ListByUser(ctx context.Context, userID string) ([]*model.DeviceToken, error)
}

// FCMSender mirrors foregrounded realtime notifications to the user's
// devices over FCM. Sends trigger immediately (no delay) and are
// guarded by a circuit breaker so a broken push path cannot stall
// ingestion.
type FCMSender struct {
	client  *messaging.Client
	tokens  TokenLister
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewFCMSender(ctx context.Context, cfg config.PushConfig, tokens TokenLister, logger *zap.Logger) (*FCMSender, error) {
	opt := option.WithCredentialsFile(cfg.CredentialsPath)
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID: cfg.ProjectID,
	}, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}

	return &FCMSender{
		client:  client,
		tokens:  tokens,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}, nil
}

// Notify sends {title, body, data} to every device registered for the
// user. Per-token failures are logged and counted but do not abort the
// remaining sends.
func (s *FCMSender) Notify(ctx context.Context, userID string, n *model.Notification) error {
	tokens, err := s.tokens.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list device tokens: %w", err)
	}
	if len(tokens) == 0 {
		metrics.IncrementPushSend("skipped")
		return nil
	}

	for _, t := range tokens {
		msg := &messaging.Message{
			Token: t.Token,
			Notification: &messaging.Notification{
				Title: n.Title,
				Body:  n.Body,
			},
			Data: n.Data,
			Android: &messaging.AndroidConfig{
				Priority: "high",
			},
		}

		err := s.breaker.Execute(func() error {
			_, sendErr := s.client.Send(ctx, msg)
			return sendErr
		})
		if err != nil {
			metrics.IncrementPushSend("failed")
			s.logger.Warn("Push mirror delivery failed",
				zap.String("user_id", userID),
				zap.String("notification_id", n.ID),
				zap.String("platform", t.Platform),
				zap.Error(err),
			)
			continue
		}
		metrics.IncrementPushSend("success")
	}

	return nil
}

package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "notifysync/contracts/mq"
	"notifysync/internal/config"
	"notifysync/internal/model"
	"notifysync/internal/repository"
	"notifysync/pkg/db"
	"notifysync/pkg/logger"
	"notifysync/pkg/mq"
)

// Operator tool: persists a notification and publishes the matching
// realtime envelope, standing in for the backend's delivery path.
func main() {
	var (
		user    = flag.String("user", "", "recipient user id (single) or publisher context")
		title   = flag.String("title", "", "notification title")
		message = flag.String("message", "", "notification body")
		envType = flag.String("type", "single", "envelope type: single, broadcast or group")
		targets = flag.String("targets", "", "comma-separated target user ids (group only)")
	)
	flag.Parse()

	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	if *title == "" || *message == "" {
		log.Fatal("title and message are required")
	}

	env := &mqcontracts.Envelope{
		ID:        uuid.New().String(),
		Title:     *title,
		Message:   *message,
		UserID:    *user,
		CreatedAt: time.Now().UTC(),
		Type:      mqcontracts.EnvelopeType(*envType),
	}

	var routingKey string
	var recipients []string
	switch env.Type {
	case mqcontracts.EnvelopeSingle:
		if *user == "" {
			log.Fatal("single envelopes require -user")
		}
		routingKey = mqcontracts.UserRoutingKey(*user)
		recipients = []string{*user}
	case mqcontracts.EnvelopeBroadcast:
		routingKey = mqcontracts.RoutingKeyBroadcast
	case mqcontracts.EnvelopeGroup:
		if *targets == "" {
			log.Fatal("group envelopes require -targets")
		}
		env.TargetUsers = strings.Split(*targets, ",")
		routingKey = mqcontracts.RoutingKeyGroup
		recipients = env.TargetUsers
	default:
		log.Fatal("unknown envelope type", zap.String("type", *envType))
	}

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	repo := repository.NewNotificationRepository(dbConn, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Broadcast recipients cannot be enumerated here, so broadcast rows
	// are persisted by the backend's own pipeline; this tool only
	// persists rows for recipients it can name.
	record := model.FromEnvelope(env)
	for _, recipient := range recipients {
		if err := repo.Insert(ctx, recipient, record); err != nil {
			log.Fatal("Failed to persist notification", zap.String("user_id", recipient), zap.Error(err))
		}
	}

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	if err := publisher.Publish(routingKey, env); err != nil {
		log.Fatal("Failed to publish envelope", zap.Error(err))
	}

	log.Info("Envelope published",
		zap.String("id", env.ID),
		zap.String("routing_key", routingKey),
		zap.Int("persisted_rows", len(recipients)),
	)
}

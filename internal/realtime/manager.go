package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	mqcontracts "notifysync/contracts/mq"
	"notifysync/pkg/metrics"
	"notifysync/pkg/mq"
	"notifysync/pkg/util"
)

// ConnState is the realtime connection state. Failed is equivalent to
// Disconnected for reconnection purposes; it only records that the last
// session ended abnormally.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
)

// Sink receives accepted envelopes, satisfied by syncer.Syncer.
type Sink interface {
	Ingest(ctx context.Context, env *mqcontracts.Envelope)
}

// subscription is the broker-facing slice of mq.Consumer.
type subscription interface {
	SetHandler(h mq.MessageHandler)
	StartConsuming() error
	Close()
}

// DialFunc opens a broker subscription. Swapped out in tests.
type DialFunc func(url, queueName string, bindingKeys []string, logger *zap.Logger) (subscription, error)

func defaultDial(url, queueName string, bindingKeys []string, logger *zap.Logger) (subscription, error) {
	return mq.NewConsumer(url, queueName, bindingKeys, logger)
}

// Manager owns the realtime channel lifecycle for one logged-in user.
// It subscribes to the three logical topics (direct, broadcast, group)
// on the shared notifications exchange, filters group envelopes by
// target, and forwards everything accepted to the sink. The manager
// never owns notification state.
//
// There is no auto-retry: after a failure the connected flag clears and
// reconnection is driven externally by the lifecycle controller, which
// avoids retry storms while the app is backgrounded.
type Manager struct {
	url     string
	sink    Sink
	deduper *util.Deduper
	logger  *zap.Logger
	dial    DialFunc

	mu     sync.Mutex
	state  ConnState
	sub    subscription
	userID string
}

func NewManager(url string, sink Sink, deduper *util.Deduper, logger *zap.Logger) *Manager {
	return &Manager{
		url:     url,
		sink:    sink,
		deduper: deduper,
		logger:  logger,
		dial:    defaultDial,
		state:   StateDisconnected,
	}
}

// Connect opens the subscription for userID. No-op when already
// connected or when userID is empty.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	m.mu.Lock()
	if userID == "" || m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.userID = userID
	m.mu.Unlock()

	queueName := fmt.Sprintf("notifications.%s", userID)
	bindingKeys := []string{
		mqcontracts.UserRoutingKey(userID),
		mqcontracts.RoutingKeyBroadcast,
		mqcontracts.RoutingKeyGroup,
	}

	sub, err := m.dial(m.url, queueName, bindingKeys, m.logger)
	if err != nil {
		m.mu.Lock()
		m.state = StateFailed
		m.sub = nil
		m.mu.Unlock()
		metrics.SetRealtimeConnected(false)
		m.logger.Error("Realtime connect failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("failed to connect realtime channel: %w", err)
	}

	sub.SetHandler(m.handleMessage)

	m.mu.Lock()
	m.sub = sub
	m.state = StateConnected
	m.mu.Unlock()
	metrics.SetRealtimeConnected(true)

	go func() {
		err := sub.StartConsuming()

		m.mu.Lock()
		// Disconnect() already reset the state; only an abnormal end
		// flips to Failed.
		stillOurs := m.sub == sub
		if stillOurs {
			m.sub = nil
			if err != nil {
				m.state = StateFailed
			} else {
				m.state = StateDisconnected
			}
		}
		m.mu.Unlock()

		if stillOurs {
			metrics.SetRealtimeConnected(false)
			if err != nil {
				m.logger.Error("Realtime consumer stopped with error", zap.Error(err))
			} else {
				m.logger.Info("Realtime consumer stopped")
			}
		}
	}()

	m.logger.Info("Realtime channel connected",
		zap.String("user_id", userID),
		zap.Strings("binding_keys", bindingKeys),
	)
	return nil
}

// Disconnect closes the subscription. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.state = StateDisconnected
	m.userID = ""
	m.mu.Unlock()

	metrics.SetRealtimeConnected(false)

	if sub != nil {
		sub.Close()
		m.logger.Info("Realtime channel disconnected")
	}
}

// Connected reports the observable connection flag.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// handleMessage decodes, filters and forwards one delivery. It always
// returns nil: ingestion is local, so redelivery never helps and every
// message is acked.
func (m *Manager) handleMessage(ctx context.Context, routingKey string, raw json.RawMessage) error {
	m.mu.Lock()
	userID := m.userID
	m.mu.Unlock()
	if userID == "" {
		return nil
	}

	var env mqcontracts.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.IncrementEnvelopeDropped("decode_error")
		m.logger.Warn("Malformed realtime envelope",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		return nil
	}

	// Group fan-out is filtered client side: the backend publishes one
	// group envelope per audience and each consumer checks its own
	// membership.
	if !env.Targets(userID) {
		metrics.IncrementEnvelopeDropped("not_targeted")
		return nil
	}

	if m.deduper != nil && !m.deduper.AcquireOnce(ctx, "ingest", env.ID) {
		metrics.IncrementEnvelopeDropped("duplicate")
		return nil
	}

	m.sink.Ingest(ctx, &env)
	return nil
}

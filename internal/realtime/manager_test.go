package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "notifysync/contracts/mq"
	"notifysync/pkg/mq"
)

type fakeSink struct {
	envelopes []*mqcontracts.Envelope
}

func (f *fakeSink) Ingest(ctx context.Context, env *mqcontracts.Envelope) {
	f.envelopes = append(f.envelopes, env)
}

type fakeSubscription struct {
	handler mq.MessageHandler
	done    chan struct{}
	closed  bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{done: make(chan struct{})}
}

func (f *fakeSubscription) SetHandler(h mq.MessageHandler) {
	f.handler = h
}

func (f *fakeSubscription) StartConsuming() error {
	<-f.done
	return nil
}

func (f *fakeSubscription) Close() {
	if !f.closed {
		f.closed = true
		close(f.done)
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeSink, *fakeSubscription) {
	t.Helper()
	sink := &fakeSink{}
	sub := newFakeSubscription()

	m := NewManager("amqp://test", sink, nil, zap.NewNop())
	m.dial = func(url, queueName string, bindingKeys []string, logger *zap.Logger) (subscription, error) {
		return sub, nil
	}
	return m, sink, sub
}

func marshal(t *testing.T, env *mqcontracts.Envelope) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func TestConnectNoopWithoutUser(t *testing.T) {
	m, _, _ := newTestManager(t)

	require.NoError(t, m.Connect(context.Background(), ""))

	assert.False(t, m.Connected())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestConnectSetsConnectedFlag(t *testing.T) {
	m, _, sub := newTestManager(t)
	defer sub.Close()

	require.NoError(t, m.Connect(context.Background(), "u1"))

	assert.True(t, m.Connected())
	assert.Equal(t, StateConnected, m.State())
	require.NotNil(t, sub.handler)
}

func TestConnectIsIdempotentWhileConnected(t *testing.T) {
	m, _, sub := newTestManager(t)
	defer sub.Close()

	dials := 0
	first := m.dial
	m.dial = func(url, queueName string, bindingKeys []string, logger *zap.Logger) (subscription, error) {
		dials++
		return first(url, queueName, bindingKeys, logger)
	}

	require.NoError(t, m.Connect(context.Background(), "u1"))
	require.NoError(t, m.Connect(context.Background(), "u1"))

	assert.Equal(t, 1, dials)
}

func TestConnectFailureSetsFailedState(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.dial = func(url, queueName string, bindingKeys []string, logger *zap.Logger) (subscription, error) {
		return nil, errors.New("broker unreachable")
	}

	err := m.Connect(context.Background(), "u1")

	assert.Error(t, err)
	assert.False(t, m.Connected())
	assert.Equal(t, StateFailed, m.State())
}

func TestFailedStateAllowsReconnect(t *testing.T) {
	m, _, sub := newTestManager(t)
	defer sub.Close()

	broken := true
	goodDial := m.dial
	m.dial = func(url, queueName string, bindingKeys []string, logger *zap.Logger) (subscription, error) {
		if broken {
			return nil, errors.New("broker unreachable")
		}
		return goodDial(url, queueName, bindingKeys, logger)
	}

	require.Error(t, m.Connect(context.Background(), "u1"))

	broken = false
	require.NoError(t, m.Connect(context.Background(), "u1"))
	assert.True(t, m.Connected())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m, _, sub := newTestManager(t)

	require.NoError(t, m.Connect(context.Background(), "u1"))

	m.Disconnect()
	m.Disconnect()

	assert.False(t, m.Connected())
	assert.True(t, sub.closed)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestHandleMessageForwardsTargetedEnvelopes(t *testing.T) {
	m, sink, sub := newTestManager(t)
	defer sub.Close()
	require.NoError(t, m.Connect(context.Background(), "u1"))

	tests := []struct {
		name      string
		env       *mqcontracts.Envelope
		forwarded bool
	}{
		{
			name: "direct envelope for this user",
			env: &mqcontracts.Envelope{
				ID: "1", Type: mqcontracts.EnvelopeSingle, UserID: "u1",
			},
			forwarded: true,
		},
		{
			name: "broadcast reaches everyone",
			env: &mqcontracts.Envelope{
				ID: "2", Type: mqcontracts.EnvelopeBroadcast,
			},
			forwarded: true,
		},
		{
			name: "group envelope targeting this user",
			env: &mqcontracts.Envelope{
				ID: "3", Type: mqcontracts.EnvelopeGroup,
				TargetUsers: []string{"u2", "u1"},
			},
			forwarded: true,
		},
		{
			name: "group envelope for other users",
			env: &mqcontracts.Envelope{
				ID: "4", Type: mqcontracts.EnvelopeGroup,
				TargetUsers: []string{"u2", "u3"},
			},
			forwarded: false,
		},
		{
			name: "unknown envelope type",
			env: &mqcontracts.Envelope{
				ID: "5", Type: mqcontracts.EnvelopeType("mystery"),
			},
			forwarded: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(sink.envelopes)
			err := sub.handler(context.Background(), "key", marshal(t, tt.env))
			require.NoError(t, err)

			if tt.forwarded {
				require.Len(t, sink.envelopes, before+1)
				assert.Equal(t, tt.env.ID, sink.envelopes[before].ID)
			} else {
				assert.Len(t, sink.envelopes, before)
			}
		})
	}
}

func TestHandleMessageAcksMalformedPayload(t *testing.T) {
	m, sink, sub := newTestManager(t)
	defer sub.Close()
	require.NoError(t, m.Connect(context.Background(), "u1"))

	// a nil error acks the message so the broker never redelivers junk
	err := sub.handler(context.Background(), "key", json.RawMessage("{not json"))

	assert.NoError(t, err)
	assert.Empty(t, sink.envelopes)
}

func TestConsumerStopReportedAsDisconnected(t *testing.T) {
	m, _, sub := newTestManager(t)

	require.NoError(t, m.Connect(context.Background(), "u1"))

	// broker closes the stream underneath us
	close(sub.done)

	assert.Eventually(t, func() bool {
		return !m.Connected()
	}, time.Second, 10*time.Millisecond)
	sub.closed = true // prevent double close in cleanup
}

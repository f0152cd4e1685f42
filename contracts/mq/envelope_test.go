package mq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargets(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		user string
		want bool
	}{
		{"single matches owner", Envelope{Type: EnvelopeSingle, UserID: "u1"}, "u1", true},
		{"single rejects others", Envelope{Type: EnvelopeSingle, UserID: "u1"}, "u2", false},
		{"broadcast matches everyone", Envelope{Type: EnvelopeBroadcast}, "u9", true},
		{"group matches member", Envelope{Type: EnvelopeGroup, TargetUsers: []string{"u1", "u2"}}, "u2", true},
		{"group rejects non-member", Envelope{Type: EnvelopeGroup, TargetUsers: []string{"u1"}}, "u3", false},
		{"group with empty targets matches nobody", Envelope{Type: EnvelopeGroup}, "u1", false},
		{"unknown type matches nobody", Envelope{Type: "mystery", UserID: "u1"}, "u1", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.env.Targets(tc.user))
		})
	}
}

func TestUserRoutingKey(t *testing.T) {
	assert.Equal(t, "user.u1", UserRoutingKey("u1"))
}

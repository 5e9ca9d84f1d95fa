package fanout

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSMirror copies every published event onto a NATS subject so that
// processes outside this one can observe session activity.
type NATSMirror struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSMirror(conn *nats.Conn, prefix string) *NATSMirror {
	return &NATSMirror{conn: conn, prefix: prefix}
}

// Subject maps a topic to its NATS subject.
func (m *NATSMirror) Subject(topic string) string {
	if m.prefix == "" {
		return topic
	}
	return m.prefix + "." + topic
}

func (m *NATSMirror) Publish(topic string, event Event) {
	if m.conn == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to marshal event for nats")
		return
	}
	if err := m.conn.Publish(m.Subject(topic), data); err != nil {
		log.Warn().Err(err).Str("subject", m.Subject(topic)).Msg("nats publish failed")
	}
}

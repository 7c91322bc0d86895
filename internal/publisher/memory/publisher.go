// Package memory holds entity-completed notifications in process. It stands
// in for Pub/Sub on local runs, where the downstream loader is not listening,
// and in tests.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Publisher keeps every notification together with its JSON encoding, so a
// payload that Pub/Sub would reject fails here too.
type Publisher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage is one recorded notification.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
	// Data is the payload as it would be sent on the wire.
	Data []byte
}

// Decode unmarshals the wire form of the message into v.
func (m PublishedMessage) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode message %s: %w", m.ID, err)
	}
	return nil
}

// New returns an empty Publisher. A nil logger disables logging.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger.Named("publisher")}
}

// Publish encodes payload and records it under a sequential id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload, Data: data})
	p.mu.Unlock()
	p.logger.Debug("notification recorded", zap.String("topic", topic), zap.String("id", id), zap.ByteString("data", data))
	return id, nil
}

// Messages returns the recorded notifications, optionally only those on
// topic.
func (p *Publisher) Messages(topic ...string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, 0, len(p.messages))
	for _, m := range p.messages {
		if len(topic) > 0 && m.Topic != topic[0] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Entities returns the entity named by each notification on topic, in
// publish order. Messages without an entity field are skipped.
func (p *Publisher) Entities(topic string) []string {
	var out []string
	for _, m := range p.Messages(topic) {
		var body struct {
			Entity string `json:"entity"`
		}
		if err := m.Decode(&body); err != nil || body.Entity == "" {
			continue
		}
		out = append(out, body.Entity)
	}
	return out
}

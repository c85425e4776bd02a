// Package peer carries peer-agent messages over Kafka. Each agent owns the
// topic "<prefix>.<agent>"; without brokers messages stay in the local mailbox.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/config"
	"github.com/MEKXH/gatekeep/internal/tools"
)

const defaultTopicPrefix = "gatekeep.agents"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// TopicFor returns the topic an agent's messages are published to.
func TopicFor(prefix, agentID string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return prefix + "." + strings.TrimSpace(agentID)
}

// Enabled reports whether Kafka delivery is configured.
func Enabled(cfg config.KafkaConfig) bool {
	for _, b := range cfg.Brokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}

// NewDeliverer returns a Kafka deliverer when brokers are configured and the
// local mailbox otherwise.
func NewDeliverer(cfg config.KafkaConfig, mailbox *bus.Mailbox) tools.Deliverer {
	if !Enabled(cfg) {
		return mailbox
	}
	return NewKafkaDeliverer(cfg)
}

// KafkaDeliverer publishes agent messages to per-agent topics.
type KafkaDeliverer struct {
	writer messageWriter
	prefix string
	now    func() time.Time
}

// NewKafkaDeliverer creates a deliverer writing to cfg.Brokers.
func NewKafkaDeliverer(cfg config.KafkaConfig) *KafkaDeliverer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokerList(cfg.Brokers)...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newKafkaDeliverer(w, cfg.TopicPrefix)
}

func newKafkaDeliverer(w messageWriter, prefix string) *KafkaDeliverer {
	return &KafkaDeliverer{writer: w, prefix: prefix, now: time.Now}
}

// Deliver publishes msg to the recipient's topic keyed by recipient id.
func (d *KafkaDeliverer) Deliver(ctx context.Context, msg bus.AgentMessage) (bus.AgentMessage, error) {
	msg.ToAgentID = strings.TrimSpace(msg.ToAgentID)
	msg.FromAgentID = strings.TrimSpace(msg.FromAgentID)
	if msg.ToAgentID == "" {
		return bus.AgentMessage{}, fmt.Errorf("to_agent_id is required")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return bus.AgentMessage{}, fmt.Errorf("content is required")
	}
	if msg.ID == "" {
		msg.ID = "msg-" + uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = d.now().UTC()
	}
	msg.Read = false

	km, err := encodeMessage(d.prefix, msg)
	if err != nil {
		return bus.AgentMessage{}, err
	}
	if err := d.writer.WriteMessages(ctx, km); err != nil {
		return bus.AgentMessage{}, fmt.Errorf("publish to %s: %w", km.Topic, err)
	}
	return msg, nil
}

// Close flushes and closes the writer.
func (d *KafkaDeliverer) Close() error {
	return d.writer.Close()
}

// Subscriber consumes the configured agents' topics into a local mailbox.
type Subscriber struct {
	mailbox *bus.Mailbox
	readers map[string]messageReader
	wg      sync.WaitGroup
}

// NewSubscriber creates one consumer-group reader per agent topic.
func NewSubscriber(cfg config.KafkaConfig, mailbox *bus.Mailbox) *Subscriber {
	readers := make(map[string]messageReader)
	brokers := brokerList(cfg.Brokers)
	for _, agent := range cfg.Agents {
		agent = strings.TrimSpace(agent)
		if agent == "" {
			continue
		}
		topic := TopicFor(cfg.TopicPrefix, agent)
		readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	return newSubscriber(mailbox, readers)
}

func newSubscriber(mailbox *bus.Mailbox, readers map[string]messageReader) *Subscriber {
	return &Subscriber{mailbox: mailbox, readers: readers}
}

// Run reads every topic until ctx is done, then closes the readers.
func (s *Subscriber) Run(ctx context.Context) error {
	for topic, r := range s.readers {
		s.wg.Add(1)
		go func(t string, r messageReader) {
			defer s.wg.Done()
			s.consume(ctx, t, r)
		}(topic, r)
	}
	<-ctx.Done()

	var errs []error
	for _, r := range s.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.wg.Wait()
	return errors.Join(errs...)
}

func (s *Subscriber) consume(ctx context.Context, topic string, r messageReader) {
	for {
		km, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.Warn("peer read failed", "topic", topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		msg, err := decodeMessage(km)
		if err != nil {
			slog.Warn("peer message dropped", "topic", topic, "offset", km.Offset, "error", err)
			continue
		}
		if _, err := s.mailbox.Deliver(ctx, msg); err != nil {
			slog.Warn("peer mailbox delivery failed", "topic", topic, "message_id", msg.ID, "error", err)
			continue
		}
		slog.Debug("peer message received", "topic", topic, "message_id", msg.ID, "from", msg.FromAgentID)
	}
}

func encodeMessage(prefix string, msg bus.AgentMessage) (kafka.Message, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode agent message: %w", err)
	}
	headers := []kafka.Header{{Key: "from_agent_id", Value: []byte(msg.FromAgentID)}}
	if traceID, ok := msg.Metadata["trace_id"].(string); ok && traceID != "" {
		headers = append(headers, kafka.Header{Key: "trace_id", Value: []byte(traceID)})
	}
	return kafka.Message{
		Topic:   TopicFor(prefix, msg.ToAgentID),
		Key:     []byte(msg.ToAgentID),
		Value:   value,
		Headers: headers,
		Time:    msg.CreatedAt,
	}, nil
}

func decodeMessage(km kafka.Message) (bus.AgentMessage, error) {
	var msg bus.AgentMessage
	if err := json.Unmarshal(km.Value, &msg); err != nil {
		return bus.AgentMessage{}, fmt.Errorf("decode agent message: %w", err)
	}
	if msg.ToAgentID == "" {
		msg.ToAgentID = string(km.Key)
	}
	return msg, nil
}

func brokerList(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, b := range brokers {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

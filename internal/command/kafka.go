package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/resinkit-ai/agent-core/internal/config"
)

// KafkaCommand is the wire format for commands received via the optional
// async command channel.
//
// Example JSON:
//
//	{
//	  "version":    "v1",
//	  "target":     "node-01",
//	  "command":    "task_submit",
//	  "timestamp":  "2026-07-31T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    { ... }
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`
	Target    string          `json:"target"` // node hostname, or "*" for broadcast
	Command   string          `json:"command"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// messageWriter abstracts kafka.Writer for testability.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaResponse is the wire format for command responses written to the
// response topic, when one is configured.
type KafkaResponse struct {
	Version   string      `json:"version"`
	Source    string      `json:"source"`
	Command   string      `json:"command"`
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Result    interface{} `json:"result,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
}

// KafkaCommandConsumer consumes KafkaCommand messages and dispatches them
// through the shared CommandHandler.
type KafkaCommandConsumer struct {
	ccConfig config.CommandChannelConfig
	hostname string
	reader   *kafka.Reader
	writer   messageWriter // nil when response_topic is empty
	handler  *CommandHandler
	ttl      time.Duration
}

// NewKafkaCommandConsumer creates a consumer bound to ccConfig.Kafka.
func NewKafkaCommandConsumer(ccConfig config.CommandChannelConfig, hostname string, handler *CommandHandler) (*KafkaCommandConsumer, error) {
	kc := ccConfig.Kafka
	if len(kc.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if kc.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if kc.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	ttl := 5 * time.Minute
	if ccConfig.CommandTTL != "" {
		var err error
		ttl, err = time.ParseDuration(ccConfig.CommandTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid command_ttl %q: %w", ccConfig.CommandTTL, err)
		}
	}

	var startOffset int64
	switch kc.AutoOffsetReset {
	case "earliest":
		startOffset = kafka.FirstOffset
	default:
		startOffset = kafka.LastOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        kc.Brokers,
		Topic:          kc.Topic,
		GroupID:        kc.GroupID,
		StartOffset:    startOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        1 * time.Second,
	})

	var writer messageWriter
	if kc.ResponseTopic != "" {
		writer = &kafka.Writer{
			Addr:         kafka.TCP(kc.Brokers...),
			Topic:        kc.ResponseTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		}
	}

	return &KafkaCommandConsumer{
		ccConfig: ccConfig,
		hostname: hostname,
		reader:   reader,
		writer:   writer,
		handler:  handler,
		ttl:      ttl,
	}, nil
}

// Start consumes commands until ctx is cancelled or an unrecoverable error
// occurs.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	slog.Info("kafka command consumer started",
		"brokers", c.ccConfig.Kafka.Brokers,
		"topic", c.ccConfig.Kafka.Topic,
		"group_id", c.ccConfig.Kafka.GroupID,
		"hostname", c.hostname,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				return err
			}
			slog.Error("failed to fetch kafka message", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			slog.Error("failed to process command", "error", err, "offset", msg.Offset)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit message", "error", err)
		}
	}
}

func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kc KafkaCommand
	if err := json.Unmarshal(msg.Value, &kc); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}

	if kc.Target != "" && kc.Target != "*" && kc.Target != c.hostname {
		return nil // not addressed to this node
	}

	if !kc.Timestamp.IsZero() && time.Since(kc.Timestamp) > c.ttl {
		slog.Warn("dropping stale kafka command", "request_id", kc.RequestID, "command", kc.Command)
		return nil
	}

	resp := c.handler.Handle(ctx, Command{
		Method: kc.Command,
		Params: kc.Payload,
		ID:     kc.RequestID,
	})

	return c.writeResponse(ctx, kc, resp)
}

func (c *KafkaCommandConsumer) writeResponse(ctx context.Context, kc KafkaCommand, resp Response) error {
	if c.writer == nil {
		return nil
	}

	kr := KafkaResponse{
		Version:   "v1",
		Source:    c.hostname,
		Command:   kc.Command,
		RequestID: kc.RequestID,
		Timestamp: time.Now().UTC(),
		Result:    resp.Result,
		Error:     resp.Error,
	}

	data, err := json.Marshal(kr)
	if err != nil {
		return fmt.Errorf("marshal kafka response: %w", err)
	}

	return c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(c.hostname),
		Value: data,
	})
}

// Stop closes the reader and, if configured, the response writer.
func (c *KafkaCommandConsumer) Stop() error {
	if err := c.reader.Close(); err != nil {
		return err
	}
	if c.writer != nil {
		return c.writer.Close()
	}
	return nil
}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/maraichr/cellforge/internal/logging"
)

const (
	StreamName = "cellforge:runs"
	GroupName  = "cellforge-workers"
)

// RunMessage is the payload enqueued for a worker. The run row in Postgres
// carries everything else.
type RunMessage struct {
	RunID      uuid.UUID `json:"run_id"`
	Trigger    string    `json:"trigger"` // "api", "cli", "mcp"
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Producer enqueues runs to the Valkey stream.
type Producer struct {
	client valkey.Client
}

func NewProducer(client valkey.Client) *Producer {
	return &Producer{client: client}
}

func (p *Producer) Enqueue(ctx context.Context, msg RunMessage) (string, error) {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	resp := p.client.Do(ctx, p.client.B().Xadd().
		Key(StreamName).Id("*").
		FieldValue().FieldValue("data", string(data)).
		Build())
	if err := resp.Error(); err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	id, err := resp.ToString()
	if err != nil {
		return "", fmt.Errorf("parse xadd response: %w", err)
	}
	return id, nil
}

// Handler processes one run. Returning nil acknowledges the message.
type Handler func(context.Context, RunMessage) error

// Consumer reads runs from the Valkey stream.
type Consumer struct {
	client     valkey.Client
	consumerID string
	logger     *slog.Logger
}

func NewConsumer(client valkey.Client, consumerID string, logger *slog.Logger) *Consumer {
	return &Consumer{client: client, consumerID: consumerID, logger: logging.OrNop(logger)}
}

// EnsureGroup creates the consumer group if it doesn't exist.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	resp := c.client.Do(ctx, c.client.B().XgroupCreate().
		Key(StreamName).Group(GroupName).Id("0").Mkstream().Build())
	if err := resp.Error(); err != nil {
		if err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("xgroup create: %w", err)
		}
	}
	return nil
}

// Consume blocks reading runs until ctx ends. Messages left pending by a
// previous crash of this consumer are handled first.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	c.drainPending(ctx, handler)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp := c.client.Do(ctx, c.client.B().Xreadgroup().
			Group(GroupName, c.consumerID).
			Count(1).Block(5000).
			Streams().Key(StreamName).Id(">").
			Build())

		if err := resp.Error(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// block timeout
			continue
		}

		results, err := resp.AsXRead()
		if err != nil {
			continue
		}
		for _, messages := range results {
			for _, msg := range messages {
				c.process(ctx, msg, handler)
			}
		}
	}
}

func (c *Consumer) drainPending(ctx context.Context, handler Handler) {
	resp := c.client.Do(ctx, c.client.B().Xreadgroup().
		Group(GroupName, c.consumerID).
		Count(10).
		Streams().Key(StreamName).Id("0").
		Build())

	if err := resp.Error(); err != nil {
		c.logger.Warn("drain pending failed", slog.String("error", err.Error()))
		return
	}

	results, err := resp.AsXRead()
	if err != nil {
		return
	}
	for _, messages := range results {
		for _, msg := range messages {
			c.logger.Info("recovering pending run", slog.String("id", msg.ID))
			c.process(ctx, msg, handler)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg valkey.XRangeEntry, handler Handler) {
	run, err := decodeMessage(msg)
	if err != nil {
		c.logger.Error("bad run message", slog.String("error", err.Error()), slog.String("id", msg.ID))
		c.ack(ctx, msg.ID)
		return
	}

	if err := handler(ctx, run); err != nil {
		c.logger.Error("handle run", slog.String("error", err.Error()),
			slog.String("id", msg.ID),
			slog.String("run_id", run.RunID.String()))
		return
	}
	c.ack(ctx, msg.ID)
}

func decodeMessage(msg valkey.XRangeEntry) (RunMessage, error) {
	data, ok := msg.FieldValues["data"]
	if !ok {
		return RunMessage{}, fmt.Errorf("message missing data field")
	}
	var run RunMessage
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return RunMessage{}, fmt.Errorf("unmarshal message: %w", err)
	}
	if run.RunID == uuid.Nil {
		return RunMessage{}, fmt.Errorf("message has no run id")
	}
	return run, nil
}

func (c *Consumer) ack(ctx context.Context, msgID string) {
	resp := c.client.Do(ctx, c.client.B().Xack().
		Key(StreamName).Group(GroupName).Id(msgID).Build())
	if err := resp.Error(); err != nil {
		c.logger.Error("xack failed", slog.String("error", err.Error()), slog.String("id", msgID))
	}
}

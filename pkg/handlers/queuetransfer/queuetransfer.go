// Package queuetransfer enqueues calls into agent queues backed by Redis.
package queuetransfer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/callwise/callflow/pkg/dispatcher"
	"github.com/callwise/callflow/pkg/models"
)

// queueKey is the sorted set holding waiting calls for one queue. Members
// are scored by priority then arrival time so agents pop the most urgent,
// oldest call first.
func queueKey(queueID string) string {
	return "callflow:queue:" + queueID
}

type queueEntry struct {
	CallID     string    `json:"call_id"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Handler parks the call in an agent queue. The execution suspends until an
// agent answers or the caller gives up, both of which arrive as events.
type Handler struct {
	client *redis.Client
	logger *slog.Logger
}

func NewHandler(client *redis.Client, logger *slog.Logger) *Handler {
	return &Handler{client: client, logger: logger.With("module", "queue_transfer")}
}

func (h *Handler) Execute(ctx context.Context, node *models.Node, executionContext map[string]any) (*dispatcher.Result, error) {
	cfg, err := node.QueueTransferConfig()
	if err != nil {
		return nil, err
	}

	callID, ok := executionContext["call_id"].(string)
	if !ok || callID == "" {
		return nil, fmt.Errorf("execution context has no call_id")
	}

	now := time.Now().UTC()

	entry, err := json.Marshal(queueEntry{CallID: callID, Priority: cfg.Priority, EnqueuedAt: now})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	// Higher priority sorts first; within a priority, earlier arrivals first.
	score := float64(-cfg.Priority)*1e12 + float64(now.UnixMilli())

	err = h.client.ZAdd(ctx, queueKey(cfg.QueueID), redis.Z{Score: score, Member: entry}).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue call %s into queue %s: %w", callID, cfg.QueueID, err)
	}

	position, err := h.client.ZRank(ctx, queueKey(cfg.QueueID), string(entry)).Result()
	if err != nil {
		position = -1
	}

	h.logger.InfoContext(ctx, "Enqueued call",
		"call_id", callID, "queue_id", cfg.QueueID, "priority", cfg.Priority)

	output := map[string]any{"queue_id": cfg.QueueID}
	if position >= 0 {
		output["queue_position"] = position + 1
	}

	return &dispatcher.Result{Output: output, Suspended: true}, nil
}

// Package notify publishes rule lifecycle events (created, updated, deleted,
// reordered) to interested parties. Delivery is best effort.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/switchyard-pay/switchyard/internal/observability"
	"github.com/switchyard-pay/switchyard/internal/ruleengine"
)

// EventType names a rule lifecycle event.
type EventType string

const (
	RuleCreated    EventType = "rule.created"
	RuleUpdated    EventType = "rule.updated"
	RuleDeleted    EventType = "rule.deleted"
	RulesReordered EventType = "rules.reordered"
)

// Event describes one lifecycle change. RuleIDs is only set for reorders.
type Event struct {
	Type       EventType         `json:"type"`
	CompanyID  string            `json:"company_id"`
	RuleID     string            `json:"rule_id,omitempty"`
	RuleName   string            `json:"rule_name,omitempty"`
	Status     ruleengine.Status `json:"status,omitempty"`
	Version    int64             `json:"version,omitempty"`
	RuleIDs    []string          `json:"rule_ids,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// RuleEvent builds an event for a single rule.
func RuleEvent(t EventType, r *ruleengine.Rule, actor string, at time.Time) Event {
	return Event{
		Type:       t,
		CompanyID:  r.CompanyID,
		RuleID:     r.ID,
		RuleName:   r.Name,
		Status:     r.Status,
		Version:    r.Version,
		Actor:      actor,
		OccurredAt: at,
	}
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	n.logger.Info("rule lifecycle event",
		slog.String("event", string(e.Type)),
		slog.String("company_id", e.CompanyID),
		slog.String("rule_id", e.RuleID),
		slog.String("rule_name", e.RuleName),
		slog.Int64("version", e.Version),
		slog.String("actor", e.Actor),
	)
	observability.NotificationsTotal.WithLabelValues(string(e.Type), "success").Inc()
	return nil
}

// RedisNotifier publishes events as JSON on a Redis pub/sub channel, so every
// replica and any external subscriber sees rule changes.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if client == nil {
		panic("notify: redis client cannot be nil")
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Channel returns the pub/sub channel events are published on.
func (n *RedisNotifier) Channel() string {
	return n.channel
}

func (n *RedisNotifier) Notify(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		observability.NotificationsTotal.WithLabelValues(string(e.Type), "fail").Inc()
		return fmt.Errorf("failed to encode %s event: %w", e.Type, err)
	}

	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		observability.NotificationsTotal.WithLabelValues(string(e.Type), "fail").Inc()
		return fmt.Errorf("failed to publish %s event: %w", e.Type, err)
	}

	observability.NotificationsTotal.WithLabelValues(string(e.Type), "success").Inc()
	return nil
}

// Subscribe delivers every event published on the channel to handle until ctx
// is done. Payloads that do not decode are logged and skipped.
func (n *RedisNotifier) Subscribe(ctx context.Context, logger *slog.Logger, handle func(Event)) error {
	if logger == nil {
		logger = slog.Default()
	}

	pubsub := n.client.Subscribe(ctx, n.channel)
	defer pubsub.Close()

	// wait for the confirmation so no event published after return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			e, err := decode(msg.Payload)
			if err != nil {
				logger.Warn("skipping malformed rule event",
					slog.String("channel", msg.Channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			handle(e)
		}
	}
}

// decode parses a payload received from the pub/sub channel.
func decode(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("failed to decode rule event: %w", err)
	}
	return e, nil
}

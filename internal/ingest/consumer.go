// Package ingest moves funding events from Kafka into the graph store
// and publishes emitted alerts back out. Offsets are committed only
// after the store (and its persister) accept an event, so a crash
// replays instead of dropping; malformed payloads are committed and
// skipped so one poison message cannot wedge a partition.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/faults"
	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/internal/stats"
	"github.com/rawblock/fundflow-engine/internal/telemetry"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Consumer is one consumer-group member feeding the graph store.
type Consumer struct {
	group  sarama.ConsumerGroup
	topic  string
	store  *graph.Store
	stream *stats.Collector
}

var _ sarama.ConsumerGroupHandler = (*Consumer)(nil)

// NewConsumer joins the configured consumer group. stream may be nil.
func NewConsumer(cfg config.KafkaConfig, store *graph.Store, stream *stats.Collector) (*Consumer, error) {
	brokers := splitCSV(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("joining consumer group %s: %w", cfg.GroupID, err)
	}
	return &Consumer{group: group, topic: cfg.EventsTopic, store: store, stream: stream}, nil
}

// Run consumes until ctx is cancelled. Consume returns on every
// rebalance, so it runs in a loop.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			log.Warn().Err(err).Msg("kafka consumer error")
		}
	}()

	for {
		if err := c.group.Consume(ctx, []string{c.topic}, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Error().Err(err).Msg("consumer session failed, rejoining")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

func (c *Consumer) Setup(sess sarama.ConsumerGroupSession) error {
	log.Info().Str("topic", c.topic).Interface("claims", sess.Claims()).Msg("consumer session established")
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		retriable, err := c.apply(sess.Context(), msg.Value)
		if err != nil {
			if retriable {
				// The event could not be made durable. Leaving it
				// unmarked forces redelivery after the session restarts.
				return fmt.Errorf("applying event at %s[%d]@%d: %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			log.Warn().Err(err).
				Int32("partition", msg.Partition).Int64("offset", msg.Offset).
				Msg("skipping unusable event")
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

// apply decodes and stores one event payload. The bool reports whether
// a failure is worth redelivering: validation failures are not, store
// persistence failures are.
func (c *Consumer) apply(ctx context.Context, value []byte) (bool, error) {
	var ev models.FundingEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		telemetry.EventsRejected.WithLabelValues("unparseable").Inc()
		return false, fmt.Errorf("decoding event: %w", err)
	}

	added, err := c.store.AddConnection(ctx, ev)
	if c.stream != nil {
		c.stream.Observe(ev, added)
	}
	if err != nil {
		if faults.IsKind(err, faults.InvalidInput) {
			return false, err
		}
		return true, err
	}
	return false, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

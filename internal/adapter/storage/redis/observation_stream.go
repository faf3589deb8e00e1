package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"merchant-wallet-ledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

const observationField = "observation"

// ObservationMessage is one chain-feed entry read from the stream.
// DecodeErr is set when the entry can never be parsed; such entries should be acked and dropped.
type ObservationMessage struct {
	ID          string
	Observation domain.ChainObservation
	DecodeErr   error
}

// ObservationStream is the Redis Streams transport of the chain-observation feed.
// Delivery is at-least-once: entries stay pending until acked and idle ones are reclaimed.
type ObservationStream struct {
	client goredis.UniversalClient
	stream string
	group  string
}

// NewObservationStream binds a stream key and consumer group.
func NewObservationStream(client goredis.UniversalClient, stream, group string) *ObservationStream {
	return &ObservationStream{client: client, stream: stream, group: group}
}

// EnsureGroup creates the consumer group (and the stream) if missing.
// The group starts at the beginning of the stream so entries published before the first start are not lost.
func (s *ObservationStream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", s.group, err)
	}
	return nil
}

// Publish appends an observation to the stream.
func (s *ObservationStream) Publish(ctx context.Context, obs domain.ChainObservation) (string, error) {
	payload, err := json.Marshal(obs)
	if err != nil {
		return "", fmt.Errorf("encode observation: %w", err)
	}
	id, err := s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{observationField: string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish observation: %w", err)
	}
	return id, nil
}

// Read fetches new entries for consumer, blocking up to block. A timeout returns no messages.
func (s *ObservationStream) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]ObservationMessage, error) {
	res, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read observations: %w", err)
	}

	var msgs []ObservationMessage
	for _, strm := range res {
		for _, m := range strm.Messages {
			msgs = append(msgs, decodeObservation(m))
		}
	}
	return msgs, nil
}

// Claim takes over entries another consumer left pending for longer than minIdle.
func (s *ObservationStream) Claim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]ObservationMessage, error) {
	var msgs []ObservationMessage
	start := "0-0"
	for {
		claimed, next, err := s.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    start,
			Count:    count,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return msgs, nil
			}
			return msgs, fmt.Errorf("claim observations: %w", err)
		}
		for _, m := range claimed {
			msgs = append(msgs, decodeObservation(m))
		}
		if next == "0-0" || len(claimed) == 0 {
			return msgs, nil
		}
		start = next
	}
}

// Ack marks entries as processed.
func (s *ObservationStream) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.stream, s.group, ids...).Err(); err != nil {
		return fmt.Errorf("ack observations: %w", err)
	}
	return nil
}

// Pending returns how many entries the group has delivered but not acked.
func (s *ObservationStream) Pending(ctx context.Context) (int64, error) {
	p, err := s.client.XPending(ctx, s.stream, s.group).Result()
	if err != nil {
		return 0, fmt.Errorf("pending observations: %w", err)
	}
	return p.Count, nil
}

func decodeObservation(m goredis.XMessage) ObservationMessage {
	msg := ObservationMessage{ID: m.ID}
	raw, ok := m.Values[observationField].(string)
	if !ok {
		msg.DecodeErr = fmt.Errorf("%w: missing %q field", domain.ErrInvalidObservation, observationField)
		return msg
	}
	if err := json.Unmarshal([]byte(raw), &msg.Observation); err != nil {
		msg.DecodeErr = fmt.Errorf("%w: %v", domain.ErrInvalidObservation, err)
	}
	return msg
}

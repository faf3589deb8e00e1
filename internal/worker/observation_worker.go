// Package worker runs the background consumers of the service.
package worker

import (
	"context"
	"errors"
	"time"

	redisStorage "merchant-wallet-ledger/internal/adapter/storage/redis"
	"merchant-wallet-ledger/internal/core/ports"
	"merchant-wallet-ledger/pkg/apperror"
	"merchant-wallet-ledger/pkg/logger"

	"github.com/rs/zerolog"
)

const (
	minBackoff = 200 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// ObservationSource is the stream the worker consumes. *redis.ObservationStream satisfies it.
type ObservationSource interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]redisStorage.ObservationMessage, error)
	Claim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]redisStorage.ObservationMessage, error)
	Ack(ctx context.Context, ids ...string) error
}

type Options struct {
	Consumer  string        // default: "observer-1"
	BatchSize int64         // default: 50
	Block     time.Duration // default: 5s
	ClaimIdle time.Duration // default: 1m
}

// ObservationWorker feeds chain observations from the stream into the deposit observer.
// An entry is acked once it was applied or proved permanently invalid; anything else stays
// pending and is reclaimed after ClaimIdle.
type ObservationWorker struct {
	source   ObservationSource
	deposits ports.DepositService
	opt      Options
	log      zerolog.Logger
}

func NewObservationWorker(source ObservationSource, deposits ports.DepositService, opt Options, log zerolog.Logger) *ObservationWorker {
	if opt.Consumer == "" {
		opt.Consumer = "observer-1"
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = 50
	}
	if opt.Block <= 0 {
		opt.Block = 5 * time.Second
	}
	if opt.ClaimIdle <= 0 {
		opt.ClaimIdle = time.Minute
	}
	return &ObservationWorker{
		source:   source,
		deposits: deposits,
		opt:      opt,
		log:      logger.Component(log, "observation_worker").With().Str("consumer", opt.Consumer).Logger(),
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (w *ObservationWorker) Run(ctx context.Context) error {
	if err := w.source.EnsureGroup(ctx); err != nil {
		return err
	}
	w.log.Info().Dur("block", w.opt.Block).Dur("claim_idle", w.opt.ClaimIdle).Msg("Observation worker started")

	w.Reclaim(ctx)
	lastClaim := time.Now()
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("Observation worker stopped")
			return nil
		}

		if time.Since(lastClaim) >= w.opt.ClaimIdle {
			w.Reclaim(ctx)
			lastClaim = time.Now()
		}

		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Dur("retry_in", backoff).Msg("Reading observations failed")
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff
	}
}

// Poll reads one batch of new entries and processes it. It returns how many entries were acked.
func (w *ObservationWorker) Poll(ctx context.Context) (int, error) {
	msgs, err := w.source.Read(ctx, w.opt.Consumer, w.opt.BatchSize, w.opt.Block)
	if err != nil {
		return 0, err
	}
	return w.process(ctx, msgs), nil
}

// Reclaim takes over entries left pending longer than ClaimIdle and retries them.
func (w *ObservationWorker) Reclaim(ctx context.Context) int {
	msgs, err := w.source.Claim(ctx, w.opt.Consumer, w.opt.ClaimIdle, w.opt.BatchSize)
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("Reclaiming pending observations failed")
	}
	if len(msgs) > 0 {
		w.log.Info().Int("count", len(msgs)).Msg("Reclaimed pending observations")
	}
	return w.process(ctx, msgs)
}

func (w *ObservationWorker) process(ctx context.Context, msgs []redisStorage.ObservationMessage) int {
	var acked []string
	for _, m := range msgs {
		if w.handle(ctx, m) {
			acked = append(acked, m.ID)
		}
	}
	if len(acked) == 0 {
		return 0
	}
	if err := w.source.Ack(ctx, acked...); err != nil {
		// Entries will be redelivered; observations are idempotent.
		w.log.Error().Err(err).Int("count", len(acked)).Msg("Acking observations failed")
		return 0
	}
	return len(acked)
}

// handle reports whether the entry is done with and can be acked.
func (w *ObservationWorker) handle(ctx context.Context, m redisStorage.ObservationMessage) bool {
	if m.DecodeErr != nil {
		w.log.Warn().Err(m.DecodeErr).Str("entry_id", m.ID).Msg("Dropping undecodable observation")
		return true
	}

	res, err := w.deposits.Observe(ctx, m.Observation)
	if err != nil {
		if apperror.HasCode(err, "DEP_001") {
			w.log.Warn().Err(err).Str("entry_id", m.ID).Str("txid", m.Observation.TxID).Msg("Dropping invalid observation")
			return true
		}
		if errors.Is(err, context.Canceled) {
			return false
		}
		w.log.Error().Err(err).
			Str("entry_id", m.ID).
			Str("txid", m.Observation.TxID).
			Uint32("vout", m.Observation.Vout).
			Msg("Observation not applied, leaving pending")
		return false
	}

	w.log.Debug().
		Str("entry_id", m.ID).
		Str("txid", m.Observation.TxID).
		Str("outcome", string(res.Outcome)).
		Msg("Observation applied")
	return true
}

// Package consumer ingests APV messages from a JetStream pull subscription.
//
// Delivery is at-least-once: the broker redelivers anything not acked, so
// every downstream effect must be idempotent. The consumer enforces that
// with a dedup cache keyed by APV id; a cache outage degrades to
// assume-not-duplicate rather than blocking ingestion.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eureka/internal/apv"
	"github.com/fyrsmithlabs/eureka/internal/cache"
	"github.com/fyrsmithlabs/eureka/internal/logging"
	"github.com/fyrsmithlabs/eureka/internal/metrics"
)

// dedupKeyPrefix namespaces dedup entries in the shared cache.
const dedupKeyPrefix = "eureka:dedup:"

// Processor runs the remediation pipeline for one APV.
type Processor interface {
	Process(ctx context.Context, a *apv.APV) (*apv.RemediationResult, error)
}

// Config configures the pull consumer.
type Config struct {
	Stream      string
	Subject     string
	DurableName string
	DLQSubject  string

	// BatchSize is the pull batch. Default 10.
	BatchSize int
	// FetchTimeout bounds one pull. Default 2 seconds.
	FetchTimeout time.Duration
	// MaxDeliver is the delivery attempt ceiling before a message is dead
	// lettered. Default 4.
	MaxDeliver int
	// MaxConcurrent bounds APVs processed in parallel. Default 4.
	MaxConcurrent int
	// AckWait is how long the broker waits before redelivering. Default 2m.
	AckWait time.Duration
	// DedupTTL is how long processed APV ids are remembered. Default 24h.
	DedupTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 2 * time.Second
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = 4
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 4
	}
	if c.AckWait == 0 {
		c.AckWait = 2 * time.Minute
	}
	if c.DedupTTL == 0 {
		c.DedupTTL = 24 * time.Hour
	}
}

// Stats is a snapshot of consumer counters.
type Stats struct {
	Running      bool   `json:"running"`
	Received     uint64 `json:"received"`
	Duplicates   uint64 `json:"duplicates"`
	Processed    uint64 `json:"processed"`
	Failed       uint64 `json:"failed"`
	DeadLettered uint64 `json:"dead_lettered"`
}

// APVConsumer pulls APV messages, deduplicates, and hands them to the
// processor with bounded concurrency.
type APVConsumer struct {
	js        nats.JetStreamContext
	sub       *nats.Subscription
	dedup     cache.Provider
	processor Processor
	cfg       Config
	logger    *zap.Logger

	running      atomic.Bool
	received     atomic.Uint64
	duplicates   atomic.Uint64
	processed    atomic.Uint64
	failed       atomic.Uint64
	deadLettered atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	workers  sync.WaitGroup
}

// New creates the consumer and ensures the APV stream exists.
func New(nc *nats.Conn, dedup cache.Provider, processor Processor, cfg Config, logger *zap.Logger) (*APVConsumer, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedup == nil {
		dedup = cache.NoopProvider{}
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("looking up stream %s: %w", cfg.Stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject, cfg.DLQSubject},
		})
		if err != nil {
			return nil, fmt.Errorf("creating stream %s: %w", cfg.Stream, err)
		}
	}

	return &APVConsumer{
		js:        js,
		dedup:     dedup,
		processor: processor,
		cfg:       cfg,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start subscribes and begins the fetch loop. It returns once the
// subscription is established; processing happens in the background until
// Stop is called or ctx is canceled.
func (c *APVConsumer) Start(ctx context.Context) error {
	sub, err := c.js.PullSubscribe(c.cfg.Subject, c.cfg.DurableName,
		nats.AckExplicit(),
		nats.MaxDeliver(c.cfg.MaxDeliver),
		nats.AckWait(c.cfg.AckWait),
	)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.cfg.Subject, err)
	}
	c.sub = sub
	c.running.Store(true)

	go c.fetchLoop(ctx)

	c.logger.Info("apv consumer started",
		zap.String("stream", c.cfg.Stream),
		zap.String("subject", c.cfg.Subject),
		zap.String("durable", c.cfg.DurableName),
		zap.Int("max_concurrent", c.cfg.MaxConcurrent),
	)
	return nil
}

// Stop halts fetching, lets in-flight APVs finish their current stage, and
// drains the subscription.
func (c *APVConsumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	if c.sub == nil {
		return
	}
	<-c.doneCh
	c.workers.Wait()
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Warn("unsubscribe failed", zap.Error(err))
		}
	}
	c.logger.Info("apv consumer stopped", zap.Any("stats", c.Stats()))
}

// Running reports whether the fetch loop is pulling messages.
func (c *APVConsumer) Running() bool {
	return c.running.Load()
}

// Stats returns a snapshot of the counters.
func (c *APVConsumer) Stats() Stats {
	return Stats{
		Running:      c.running.Load(),
		Received:     c.received.Load(),
		Duplicates:   c.duplicates.Load(),
		Processed:    c.processed.Load(),
		Failed:       c.failed.Load(),
		DeadLettered: c.deadLettered.Load(),
	}
}

// fetchLoop pulls batches until stopped. Transient broker errors back off
// exponentially and reset on the next successful pull.
func (c *APVConsumer) fetchLoop(ctx context.Context) {
	defer close(c.doneCh)
	defer c.running.Store(false)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	sem := make(chan struct{}, c.cfg.MaxConcurrent)

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.sub.Fetch(c.cfg.BatchSize, nats.MaxWait(c.cfg.FetchTimeout))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				// Empty pull; nothing queued.
				bo.Reset()
				continue
			}
			wait := bo.NextBackOff()
			c.logger.Warn("fetch failed, backing off",
				zap.Error(err),
				zap.Duration("backoff", wait),
			)
			select {
			case <-time.After(wait):
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		bo.Reset()

		for _, msg := range msgs {
			select {
			case sem <- struct{}{}:
			case <-c.stopCh:
				// Not acked; the broker will redeliver.
				return
			case <-ctx.Done():
				return
			}
			c.workers.Add(1)
			go func(m *nats.Msg) {
				defer c.workers.Done()
				defer func() { <-sem }()
				c.handleMessage(ctx, m)
			}(msg)
		}
	}
}

// handleMessage runs one delivery end to end: parse, dedup, process, ack.
func (c *APVConsumer) handleMessage(ctx context.Context, msg *nats.Msg) {
	c.received.Add(1)

	a, err := apv.Parse(msg.Data)
	if err != nil {
		// Unparseable messages never get better on redelivery.
		c.deadLetter(msg, "", fmt.Sprintf("unparseable message: %v", err))
		return
	}

	// Correlation ids ride the context so every downstream stage logs them.
	ctx = logging.WithAPVID(ctx, a.ID)
	ctx = logging.WithCVEID(ctx, a.CVEID)
	log := c.logger.With(logging.ContextFields(ctx)...)

	if c.isDuplicate(ctx, a.ID, log) {
		c.duplicates.Add(1)
		log.Debug("duplicate apv, acking without processing")
		c.ack(msg, log)
		return
	}

	result, err := c.processor.Process(ctx, a)
	if err != nil {
		c.failed.Add(1)
		meta, metaErr := msg.Metadata()
		if metaErr == nil && meta.NumDelivered >= uint64(c.cfg.MaxDeliver) {
			c.deadLetter(msg, a.ID, fmt.Sprintf("processing failed after %d deliveries: %v", meta.NumDelivered, err))
			return
		}
		log.Warn("processing failed, requesting redelivery", zap.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Warn("nak failed", zap.Error(nakErr))
		}
		return
	}

	c.markProcessed(ctx, a.ID, log)
	c.processed.Add(1)
	log.Info("apv processed",
		zap.String("status", string(result.Status)),
		zap.String("pull_request", result.PullRequestURL),
	)
	c.ack(msg, log)
}

// isDuplicate checks the dedup cache. Cache failures other than a miss are
// treated as not-duplicate so a cache outage cannot stall ingestion.
func (c *APVConsumer) isDuplicate(ctx context.Context, apvID string, log *zap.Logger) bool {
	_, err := c.dedup.Get(ctx, dedupKeyPrefix+apvID)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn("dedup cache lookup failed, assuming not duplicate", zap.Error(err))
	}
	return false
}

// markProcessed records the APV id so redeliveries of the same message are
// dropped. Best effort: downstream stages are idempotent anyway.
func (c *APVConsumer) markProcessed(ctx context.Context, apvID string, log *zap.Logger) {
	if err := c.dedup.Set(ctx, dedupKeyPrefix+apvID, []byte("1"), c.cfg.DedupTTL); err != nil {
		log.Warn("dedup cache set failed", zap.Error(err))
	}
}

// deadLetterEnvelope is the DLQ message payload wrapping the failed
// original.
type deadLetterEnvelope struct {
	APVID      string    `json:"apv_id,omitempty"`
	Reason     string    `json:"reason"`
	Subject    string    `json:"subject"`
	Deliveries uint64    `json:"deliveries"`
	FailedAt   time.Time `json:"failed_at"`
	RawMessage []byte    `json:"raw_message"`
}

// deadLetter publishes the failed message to the DLQ and acks the original.
// If the DLQ publish fails the message is nacked instead so it is not lost.
func (c *APVConsumer) deadLetter(msg *nats.Msg, apvID, reason string) {
	log := c.logger.With(zap.String("apv_id", apvID))

	var deliveries uint64
	if meta, err := msg.Metadata(); err == nil {
		deliveries = meta.NumDelivered
	}

	envelope, err := json.Marshal(deadLetterEnvelope{
		APVID:      apvID,
		Reason:     reason,
		Subject:    msg.Subject,
		Deliveries: deliveries,
		FailedAt:   time.Now().UTC(),
		RawMessage: msg.Data,
	})
	if err == nil {
		_, err = c.js.Publish(c.cfg.DLQSubject, envelope)
	}
	if err != nil {
		log.Error("dead letter publish failed, nacking original", zap.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Warn("nak failed", zap.Error(nakErr))
		}
		return
	}

	c.deadLettered.Add(1)
	metrics.IncDeadLetters()
	log.Warn("message dead lettered", zap.String("reason", reason))
	c.ack(msg, log)
}

func (c *APVConsumer) ack(msg *nats.Msg, log *zap.Logger) {
	if err := msg.Ack(); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}

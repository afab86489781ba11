package broker

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// Stream keys shared by all worker pools.
const (
	StreamJobs = "ire:jobs"
	StreamDead = "ire:jobs:dead"
)

// RedisConfig tunes the streams broker.
type RedisConfig struct {
	Stream      string
	DeadStream  string
	Group       string
	Consumer    string
	MaxAttempts int
	// Block bounds one XREADGROUP wait so Dequeue honors its context.
	Block time.Duration
	// MinIdle is the age at which a pending delivery of a crashed
	// consumer is reclaimed.
	MinIdle time.Duration
}

func (c *RedisConfig) fill() {
	if c.Stream == "" {
		c.Stream = StreamJobs
	}
	if c.DeadStream == "" {
		c.DeadStream = StreamDead
	}
	if c.Group == "" {
		c.Group = "ire-workers"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.MinIdle <= 0 {
		c.MinIdle = time.Minute
	}
}

// Redis is the streams-backed broker. Deliveries live in the consumer
// group's pending list until settled; XAUTOCLAIM recovers deliveries
// whose consumer died.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedis creates the stream and consumer group if needed.
func NewRedis(ctx context.Context, client *redis.Client, cfg RedisConfig) (*Redis, error) {
	cfg.fill()
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_group_create_failed", err)
	}
	return &Redis{client: client, cfg: cfg}, nil
}

func (b *Redis) Enqueue(ctx context.Context, job Job) error {
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Stream,
		Values: map[string]any{
			"message_id": job.MessageID,
			"run_id":     job.RunID,
			"raw_sha256": job.RawSHA256,
			"source":     job.Source,
			"attempt":    1,
		},
	}).Err()
	return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_enqueue_failed", err)
}

// Dequeue first reclaims one stuck pending delivery, then falls back to
// reading new entries. It returns on the first job or when ctx ends.
func (b *Redis) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_dequeue_cancelled", err)
		}

		claimed, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   b.cfg.Stream,
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			MinIdle:  b.cfg.MinIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && err != redis.Nil {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_claim_failed", err)
		}
		if len(claimed) > 0 {
			return b.delivery(claimed[0]), nil
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{b.cfg.Stream, ">"},
			Count:    1,
			Block:    b.cfg.Block,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_dequeue_cancelled", ctx.Err())
			}
			return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_read_failed", err)
		}
		for _, s := range streams {
			if len(s.Messages) > 0 {
				return b.delivery(s.Messages[0]), nil
			}
		}
	}
}

func (b *Redis) delivery(m redis.XMessage) *Delivery {
	attempt := 1
	if raw, ok := m.Values["attempt"].(string); ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			attempt = n
		}
	}
	str := func(key string) string {
		v, _ := m.Values[key].(string)
		return v
	}
	return &Delivery{
		Job: Job{
			MessageID: str("message_id"),
			RunID:     str("run_id"),
			RawSHA256: str("raw_sha256"),
			Source:    str("source"),
		},
		ID:      m.ID,
		Attempt: attempt,
	}
}

func (b *Redis) Ack(ctx context.Context, d *Delivery) error {
	err := b.client.XAck(ctx, b.cfg.Stream, b.cfg.Group, d.ID).Err()
	return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_ack_failed", err)
}

// Nack settles the delivery and either re-adds the job with the attempt
// counter bumped or, at the attempt cap, moves it to the dead stream.
func (b *Redis) Nack(ctx context.Context, d *Delivery) error {
	target := b.cfg.Stream
	attempt := d.Attempt + 1
	if d.Attempt >= b.cfg.MaxAttempts {
		target = b.cfg.DeadStream
		attempt = d.Attempt
	}
	pipe := b.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: target,
		Values: map[string]any{
			"message_id": d.Job.MessageID,
			"run_id":     d.Job.RunID,
			"raw_sha256": d.Job.RawSHA256,
			"source":     d.Job.Source,
			"attempt":    attempt,
		},
	})
	pipe.XAck(ctx, b.cfg.Stream, b.cfg.Group, d.ID)
	_, err := pipe.Exec(ctx)
	return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_nack_failed", err)
}

func (b *Redis) Close() error { return nil }

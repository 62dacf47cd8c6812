package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

const payloadField = "event"

type RedisConfig struct {
	Addr     string
	Stream   string
	Group    string
	Consumer string
	// ClaimIdle is how long a delivery stays pending before another consumer
	// reclaims it. It must exceed the handler timeout or a running entry can
	// be claimed and executed twice.
	ClaimIdle     time.Duration
	Block         time.Duration
	BatchSize     int64
	MaxDeliveries int64
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Stream == "" {
		c.Stream = "trigger-events"
	}
	if c.Group == "" {
		c.Group = "triggers"
	}
	if c.Consumer == "" {
		c.Consumer = defaultConsumer()
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = 2 * time.Minute
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 5
	}
	return c
}

// defaultConsumer is unique per process so replicas never share pending
// entries under one consumer name.
func defaultConsumer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "triggers"
	}
	return host + "-" + uuid.NewString()
}

// RedisBus is a Redis Streams consumer group. An entry is acknowledged only
// after its handler succeeds; failed entries stay pending and are reclaimed
// with XAUTOCLAIM once idle.
type RedisBus struct {
	log *logger.Logger
	rdb *goredis.Client
	cfg RedisConfig
}

func NewRedisBus(log *logger.Logger, cfg RedisConfig) (*RedisBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if err := rdb.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err(); err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis create group %s/%s: %w", cfg.Stream, cfg.Group, err)
	}

	return &RedisBus{
		log: log.With("service", "RedisTriggerBus", "stream", cfg.Stream, "group", cfg.Group),
		rdb: rdb,
		cfg: cfg,
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, ev triggers.Event) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis trigger bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	return b.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: b.cfg.Stream,
		Values: map[string]any{payloadField: string(raw)},
	}).Err()
}

func (b *RedisBus) Consume(ctx context.Context, fn HandlerFunc) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis trigger bus not initialized")
	}
	if fn == nil {
		return fmt.Errorf("handler required")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.reclaim(ctx, fn); err != nil && ctx.Err() == nil {
			b.log.Warn("redis reclaim failed", "error", err)
		}
		streams, err := b.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{b.cfg.Stream, ">"},
			Count:    b.cfg.BatchSize,
			Block:    b.cfg.Block,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, goredis.ErrClosed) {
				return ErrClosed
			}
			b.log.Warn("redis read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				b.deliver(ctx, msg, fn)
			}
		}
	}
}

func (b *RedisBus) reclaim(ctx context.Context, fn HandlerFunc) error {
	msgs, _, err := b.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   b.cfg.Stream,
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		MinIdle:  b.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    b.cfg.BatchSize,
	}).Result()
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if b.exhausted(ctx, msg.ID) {
			b.log.Error("trigger event dropped after max deliveries", "entry_id", msg.ID)
			b.ack(ctx, msg.ID)
			continue
		}
		b.deliver(ctx, msg, fn)
	}
	return nil
}

func (b *RedisBus) exhausted(ctx context.Context, id string) bool {
	pending, err := b.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: b.cfg.Stream,
		Group:  b.cfg.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return false
	}
	return pending[0].RetryCount > b.cfg.MaxDeliveries
}

func (b *RedisBus) deliver(ctx context.Context, msg goredis.XMessage, fn HandlerFunc) {
	ev, err := decodeEntry(msg)
	if err != nil {
		b.log.Warn("bad trigger event payload", "entry_id", msg.ID, "error", err)
		b.ack(ctx, msg.ID)
		return
	}
	if err := fn(ctx, ev); err != nil {
		b.log.Debug("trigger event left pending", "entry_id", msg.ID, "event_id", ev.ID, "error", err)
		return
	}
	b.ack(ctx, msg.ID)
}

func (b *RedisBus) ack(ctx context.Context, id string) {
	if err := b.rdb.XAck(ctx, b.cfg.Stream, b.cfg.Group, id).Err(); err != nil {
		b.log.Warn("redis ack failed", "entry_id", id, "error", err)
	}
}

func decodeEntry(msg goredis.XMessage) (triggers.Event, error) {
	var ev triggers.Event
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return ev, fmt.Errorf("entry %s has no %q field", msg.ID, payloadField)
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, fmt.Errorf("decode entry %s: %w", msg.ID, err)
	}
	return ev, nil
}

func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

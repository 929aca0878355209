// Package audit carries records of successful model calls from the generator to the
// AI log store over a watermill topic. The default transport is an in-process go channel;
// Redis Streams lets a separate process own the sink.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/geppetto/pkg/helpers"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
	"github.com/go-go-golems/sardonic/pkg/redisstream"
)

const Topic = "ai-logs"

// Bus publishes audit records and, once Run is called, drains them into a store.
type Bus struct {
	pub   message.Publisher
	sub   message.Subscriber
	sink  chatstore.AILogStore
	topic string

	mu   sync.Mutex
	msgs <-chan *message.Message

	closeOnce sync.Once
	closers   []func() error
}

func NewBus(pub message.Publisher, sub message.Subscriber, sink chatstore.AILogStore) (*Bus, error) {
	if pub == nil {
		return nil, errors.New("audit bus: publisher is nil")
	}
	if sub != nil && sink == nil {
		return nil, errors.New("audit bus: subscriber without sink")
	}
	b := &Bus{pub: pub, sub: sub, sink: sink, topic: Topic}
	b.closers = append(b.closers, pub.Close)
	if sub != nil {
		b.closers = append(b.closers, sub.Close)
	}
	return b, nil
}

// NewInMemoryBus uses a single go channel for both sides.
func NewInMemoryBus(sink chatstore.AILogStore) (*Bus, error) {
	gc := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, helpers.NewWatermill(log.Logger))
	b, err := NewBus(gc, gc, sink)
	if err != nil {
		return nil, err
	}
	// gochannel's Close is shared by both sides
	b.closers = []func() error{gc.Close}
	return b, nil
}

// NewRedisBus publishes to a Redis stream and consumes with the configured group.
func NewRedisBus(ctx context.Context, s redisstream.Settings, sink chatstore.AILogStore) (*Bus, error) {
	client := redisstream.NewClient(s)
	if err := redisstream.EnsureGroupAtTail(ctx, client, Topic, s.Group); err != nil {
		_ = client.Close()
		return nil, err
	}
	pub, err := redisstream.BuildPublisher(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	sub, err := redisstream.BuildGroupSubscriber(client, s.Group, s.Consumer)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, err
	}
	b, err := NewBus(pub, sub, sink)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, closeClient(client))
	return b, nil
}

func closeClient(c *redis.Client) func() error {
	return func() error { return c.Close() }
}

// RecordInteraction fills id, timestamp and token estimate, then publishes the record.
func (b *Bus) RecordInteraction(_ context.Context, rec chatstore.AILogRecord) error {
	if b == nil {
		return errors.New("audit bus: nil bus")
	}
	if rec.ID == "" {
		rec.ID = watermill.NewUUID()
	}
	if rec.CreatedAtMs <= 0 {
		rec.CreatedAtMs = time.Now().UnixMilli()
	}
	if rec.TokensUsed == nil {
		if n, ok := EstimateTokens(rec); ok {
			rec.TokensUsed = &n
		}
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "audit bus: marshal record")
	}
	msg := message.NewMessage(rec.ID, payload)
	if err := b.pub.Publish(b.topic, msg); err != nil {
		return errors.Wrap(err, "audit bus: publish")
	}
	return nil
}

// Subscribe attaches the consumer. Call it before the first RecordInteraction when the
// transport does not retain messages for late subscribers.
func (b *Bus) Subscribe(ctx context.Context) error {
	if b == nil || b.sub == nil {
		return errors.New("audit bus: no subscriber configured")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgs != nil {
		return nil
	}
	msgs, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return errors.Wrap(err, "audit bus: subscribe")
	}
	b.msgs = msgs
	return nil
}

// Run consumes records into the sink until ctx is done or the subscription closes.
func (b *Bus) Run(ctx context.Context) error {
	if err := b.Subscribe(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	msgs := b.msgs
	b.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handle(ctx, msg)
		}
	}
}

func (b *Bus) handle(ctx context.Context, msg *message.Message) {
	// audit is best effort: a record that cannot be stored is logged and acked
	defer msg.Ack()
	var rec chatstore.AILogRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		log.Warn().Str("component", "audit").Str("msg_id", msg.UUID).Err(err).Msg("dropping malformed audit record")
		return
	}
	if err := b.sink.SaveAILog(ctx, rec); err != nil {
		log.Error().Str("component", "audit").Str("msg_id", msg.UUID).Err(err).Msg("failed to store audit record")
		return
	}
	log.Debug().Str("component", "audit").Str("msg_id", msg.UUID).Str("model", rec.ModelName).Msg("audit record stored")
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var firstErr error
	b.closeOnce.Do(func() {
		for _, c := range b.closers {
			if err := c(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

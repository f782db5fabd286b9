package redis

import (
	"context"
	"encoding/json"

	"github.com/baechuer/tablebook/internal/notify"
	"github.com/baechuer/tablebook/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const DefaultRelayChannel = keyPrefix + "changes"

// Relay carries notify messages over redis pub/sub.
type Relay struct {
	rdb     *redis.Client
	channel string
}

func NewRelay(rdb *redis.Client, channel string) *Relay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &Relay{rdb: rdb, channel: channel}
}

func (r *Relay) Publish(ctx context.Context, msg notify.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, b).Err()
}

func (r *Relay) Listen(ctx context.Context, fn func(notify.Message)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	log := logger.Component("redis-relay")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg notify.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.Warn().Err(err).Msg("bad relay payload")
				continue
			}
			fn(msg)
		}
	}
}

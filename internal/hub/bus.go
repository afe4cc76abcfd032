package hub

import (
	"context"

	"github.com/handshake/coordinator/internal/sharedstore"
)

// RedisBus adapts a sharedstore.Store to the clusterBus interface the
// hub needs for cross-process fan-out, translating go-redis's message
// envelope down to the plain string payload the hub delivers.
type RedisBus struct {
	store *sharedstore.Store
}

// NewRedisBus wraps store as a clusterBus.
func NewRedisBus(store *sharedstore.Store) *RedisBus {
	return &RedisBus{store: store}
}

func (b *RedisBus) Publish(ctx context.Context, channel, payload string) error {
	return b.store.Publish(ctx, channel, payload)
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	return newRedisSubscription(b.store.Subscribe(ctx, channel)), nil
}

// redisSubscription pumps a go-redis PubSub onto a plain string channel
// so the hub's Run loop never imports go-redis directly.
type redisSubscription struct {
	sub *sharedstore.Subscription
	ch  chan string
}

func newRedisSubscription(sub *sharedstore.Subscription) *redisSubscription {
	rs := &redisSubscription{sub: sub, ch: make(chan string)}
	go rs.pump()
	return rs
}

func (rs *redisSubscription) pump() {
	defer close(rs.ch)
	for msg := range rs.sub.Channel() {
		rs.ch <- msg.Payload
	}
}

func (rs *redisSubscription) Channel() <-chan string { return rs.ch }
func (rs *redisSubscription) Close() error           { return rs.sub.Close() }

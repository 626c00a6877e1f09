package channel

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/opencase/notesync/internal/event"
	"github.com/opencase/notesync/internal/metrics"
)

// RedisRegistry routes channels over Redis pub/sub so peers in different
// processes share one fabric. Redis echoes every message to every
// subscriber, so peers tag events with their origin id and drop their own.
type RedisRegistry struct {
	rdb *redis.Client
}

func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

func (r *RedisRegistry) Notes(scope string) Channel {
	return &redisChannel{rdb: r.rdb, name: notesTopic(scope)}
}

type redisChannel struct {
	rdb  *redis.Client
	name string
}

func (c *redisChannel) Name() string { return c.name }

func (c *redisChannel) Join(userID string) Peer {
	ctx, cancel := context.WithCancel(context.Background())

	p := &redisPeer{
		rdb:    c.rdb,
		name:   c.name,
		id:     uuid.NewString(),
		user:   userID,
		ctx:    ctx,
		cancel: cancel,
		sub:    c.rdb.Subscribe(ctx, c.name),
	}

	go p.pump()
	return p
}

type redisPeer struct {
	rdb    *redis.Client
	name   string
	id     string
	user   string
	ctx    context.Context
	cancel context.CancelFunc
	sub    *redis.PubSub

	handlerSet
}

func (p *redisPeer) ID() string { return p.id }

func (p *redisPeer) Publish(ev event.Event) {
	if ev.Channel == "" {
		ev.Channel = p.name
	}
	if ev.UserID == "" {
		ev.UserID = p.user
	}
	ev.Origin = p.id

	b, err := event.Marshal(ev)
	if err != nil {
		slog.Error("marshal channel event", "err", err, "kind", ev.Kind)
		return
	}

	metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()
	if err := p.rdb.Publish(p.ctx, p.name, b).Err(); err != nil {
		slog.Error("publish channel event", "err", err, "channel", p.name)
	}
}

func (p *redisPeer) Subscribe(kind event.Kind, fn Handler) *Subscription {
	return p.add(kind, fn)
}

func (p *redisPeer) Close() {
	p.Publish(event.Event{Kind: event.Disconnect, UserID: p.user})
	p.clear()
	p.cancel()
	if err := p.sub.Close(); err != nil {
		slog.Error("close channel subscription", "err", err, "channel", p.name)
	}
}

func (p *redisPeer) pump() {
	for msg := range p.sub.Channel() {
		ev, err := event.Unmarshal([]byte(msg.Payload))
		if err != nil {
			slog.Error("decode channel event", "err", err, "channel", p.name)
			continue
		}
		if ev.Origin == p.id {
			continue
		}
		p.dispatch(ev)
	}
}

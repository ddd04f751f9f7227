package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const fanoutChannel = "chat-service:fanout"

// envelope — событие, идущее через шину между нодами.
type envelope struct {
	Group string          `json:"group"`
	Event json.RawMessage `json:"event"`
}

// Redis — брокер для многонодового деплоя: членство в группах остаётся
// локальным, события гоняются через Redis Pub/Sub и доставляются
// локальным подписчикам каждой ноды через вложенный Inproc.
type Redis struct {
	client *redis.Client
	local  *Inproc
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedis(ctx context.Context, addr string, local *Inproc) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	b := &Redis{
		client: client,
		local:  local,
		pubsub: client.Subscribe(ctx, fanoutChannel),
		done:   make(chan struct{}),
	}
	go b.relay()

	return b, nil
}

func (b *Redis) Join(groupID string, s Subscriber)  { b.local.Join(groupID, s) }
func (b *Redis) Leave(groupID string, s Subscriber) { b.local.Leave(groupID, s) }
func (b *Redis) LeaveAll(s Subscriber)              { b.local.LeaveAll(s) }

func (b *Redis) Broadcast(ctx context.Context, groupID string, event any) {
	raw, err := json.Marshal(event)
	if err != nil {
		slog.Error("broker.Broadcast.Marshal:", slog.Any("err", err))
		return
	}
	data, err := json.Marshal(envelope{Group: groupID, Event: raw})
	if err != nil {
		slog.Error("broker.Broadcast.Marshal:", slog.Any("err", err))
		return
	}
	if err := b.client.Publish(ctx, fanoutChannel, data).Err(); err != nil {
		// шина недоступна — доставляем хотя бы локальным подписчикам
		slog.Error("broker.Broadcast.Publish:", slog.Any("err", err))
		b.local.Broadcast(ctx, groupID, json.RawMessage(raw))
	}
}

// relay читает шину и раздаёт события локальным членам групп.
func (b *Redis) relay() {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Warn("broker relay: bad envelope", "err", err)
				continue
			}
			b.local.Broadcast(context.Background(), env.Group, env.Event)
		}
	}
}

func (b *Redis) Close() error {
	close(b.done)
	_ = b.pubsub.Close()

	return b.client.Close()
}

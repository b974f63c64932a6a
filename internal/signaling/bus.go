// Package signaling carries transient call-control messages between the two
// participants of a call. Delivery is at-least-once with no ordering
// guarantee; everything downstream must tolerate redelivery and reordering.
package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bus is the pub/sub transport the channels ride on. Implementations:
// RedisBus for production, MemoryBus for tests and single-node development.
type Bus interface {
	// Publish sends payload to every current subscriber of topic. Best effort:
	// there is no delivery guarantee once Publish returns.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe joins a topic. The returned subscription receives messages
	// published after the join; nothing is delivered after Close returns.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription is one live topic membership
type Subscription interface {
	// Messages yields raw payloads. The channel is closed by Close.
	Messages() <-chan []byte

	// Close leaves the topic. Idempotent.
	Close() error
}

// CallTopic names the per-call signaling topic
func CallTopic(sessionID uuid.UUID) string {
	return fmt.Sprintf("call:%s", sessionID)
}

// UserTopic names a user's identity topic, used for incoming-call and
// matched notifications. Queued users listen here from the moment they join.
func UserTopic(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s", userID)
}

// RedisBus implements Bus on Redis Pub/Sub
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus creates a Bus backed by the given Redis client
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish sends payload on topic
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins topic and confirms the subscription before returning, so a
// successful Subscribe means messages published afterwards will be seen.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

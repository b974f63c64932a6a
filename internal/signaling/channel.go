package signaling

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"campuslink-backend/internal/domain"
	"campuslink-backend/pkg/constants"
	"campuslink-backend/pkg/errors"
)

// Channel is one call's handle on the relay: a single topic scoped to the
// call's lifetime, with typed dispatch of validated signal messages.
//
// Handlers may be invoked more than once for the same logical message
// (redelivery) and in any order across types; they must be idempotent.
type Channel struct {
	topic string
	bus   Bus
	sub   Subscription
	log   *zap.Logger

	mu       sync.RWMutex
	handlers map[domain.SignalType][]func(*domain.SignalMessage)

	closeOnce sync.Once
	done      chan struct{}
}

// OpenChannel joins topic. A join failure aborts call setup and is surfaced
// as a CHANNEL_JOIN_FAILED error.
func OpenChannel(ctx context.Context, bus Bus, topic string, log *zap.Logger) (*Channel, error) {
	sub, err := bus.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.ChannelJoinFailedError(err)
	}

	c := &Channel{
		topic:    topic,
		bus:      bus,
		sub:      sub,
		log:      log.With(zap.String("topic", topic)),
		handlers: make(map[domain.SignalType][]func(*domain.SignalMessage)),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Topic returns the channel's topic name
func (c *Channel) Topic() string {
	return c.topic
}

// Send publishes msg on the channel. Best effort: once Send returns nil the
// message has been handed to the relay, nothing more.
func (c *Channel) Send(ctx context.Context, msg *domain.SignalMessage) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, constants.SignalSendTimeout)
	defer cancel()
	return c.bus.Publish(sendCtx, c.topic, payload)
}

// On registers a handler for one signal type. Registration is expected before
// messages of that type can arrive; late registrations simply miss earlier
// deliveries, which the protocol tolerates.
func (c *Channel) On(t domain.SignalType, fn func(*domain.SignalMessage)) {
	c.mu.Lock()
	c.handlers[t] = append(c.handlers[t], fn)
	c.mu.Unlock()
}

// Close leaves the topic. Idempotent and safe to call from inside a handler
// (teardown paths run off incoming hangup messages). After Close the read
// loop stops dispatching; consumers additionally guard their own terminal
// state, so a message already in flight has no observable effect.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sub.Close()
	})
}

func (c *Channel) readLoop() {
	for {
		select {
		case <-c.done:
			return
		case payload, ok := <-c.sub.Messages():
			if !ok {
				return
			}
			msg, err := domain.ParseSignal(payload)
			if err != nil {
				c.log.Warn("dropping invalid signal", zap.Error(err))
				continue
			}
			c.dispatch(msg)
		}
	}
}

func (c *Channel) dispatch(msg *domain.SignalMessage) {
	c.mu.RLock()
	handlers := make([]func(*domain.SignalMessage), len(c.handlers[msg.Type]))
	copy(handlers, c.handlers[msg.Type])
	c.mu.RUnlock()

	for _, fn := range handlers {
		select {
		case <-c.done:
			return
		default:
		}
		fn(msg)
	}
}

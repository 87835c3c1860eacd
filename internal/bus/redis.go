// Redis-backed broadcast bus.
//
// Committed events are wrapped in an envelope carrying the publishing
// instance's identity and sent over one pub/sub channel. Every instance
// subscribes to the same channel and drops envelopes that carry its own
// origin: the publishing instance has already fanned the event out locally,
// so skipping the echo is what makes both sides converge on exactly-one
// local delivery per event.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/akervik/go-chat-relay/internal/domain"
)

// Channel is the pub/sub channel shared by all instances.
const Channel = "chat:events"

// dialTimeout bounds the startup reachability probe.
const dialTimeout = 3 * time.Second

// envelope is the wire form of a bus message.
type envelope struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

// Redis is the clustering adapter.
type Redis struct {
	client *redis.Client
	origin string
	log    zerolog.Logger

	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// NewRedis connects to the bus at addr and verifies reachability with a
// bounded ping. On any failure it returns ErrUnavailable (wrapped); the
// caller is expected to fall back to the Noop adapter.
func NewRedis(ctx context.Context, addr string, log zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrUnavailable, err)
	}

	return &Redis{
		client: client,
		origin: uuid.NewString(),
		log:    log.With().Str("component", "bus").Logger(),
	}, nil
}

// Origin returns this instance's bus identity.
func (r *Redis) Origin() string { return r.origin }

// Publish sends the event to all other instances. The caller's deadline
// bounds the operation; on failure the committed write stands and only the
// cross-instance propagation is lost.
func (r *Redis) Publish(ctx context.Context, ev domain.Event) error {
	raw, err := json.Marshal(envelope{Origin: r.origin, Event: ev})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, Channel, raw).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

// Subscribe starts consuming remote events. Own-origin envelopes and
// undecodable payloads are dropped; the receive loop runs until Close.
func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	r.pubsub = r.client.Subscribe(ctx, Channel)

	// Force the subscription handshake so a dead bus surfaces here, not on
	// the first missed event.
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		r.pubsub = nil
		return errors.Join(ErrUnavailable, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	ch := r.pubsub.Channel()
	go func() {
		for {
			select {
			case <-loopCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.log.Warn().Err(err).Msg("dropping undecodable bus payload")
					continue
				}
				if env.Origin == r.origin {
					continue
				}
				h(env.Event)
			}
		}
	}()
	return nil
}

// Close stops the receive loop and closes the client.
func (r *Redis) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	return r.client.Close()
}

// Package engine – synchronization engine
//
// The engine orchestrates ingestion, ordering, persistence, and fanout:
// every state-changing operation persists to the durable log first, and only
// after the log acknowledges does the engine fan the committed event out to
// local sessions and publish it on the broadcast bus. No client ever
// observes an uncommitted message.
//
// Failure semantics: persistence failures are returned to the originating
// caller and cause no fanout; bus publish failures are logged and swallowed,
// because the write is already durable and losing cross-instance propagation
// is the accepted degradation. A failure never crashes the engine and never
// undoes a previously completed step.
//
// Observability: public operations are OpenTelemetry-instrumented; spans
// carry message ids and page parameters where applicable.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/akervik/go-chat-relay/internal/bus"
	"github.com/akervik/go-chat-relay/internal/domain"
	"github.com/akervik/go-chat-relay/internal/hub"
	"github.com/akervik/go-chat-relay/internal/repo"
)

const (
	// DefaultPageSize is the history page size when the caller supplies none.
	DefaultPageSize = 50
	// MaxPageSize caps a single history page.
	MaxPageSize = 200
)

// Engine coordinates the durable log, the broadcast bus, and the local
// session registry. All methods are safe for concurrent use; ordering
// beyond the log's id assignment is intentionally not serialized here.
type Engine struct {
	db  *gorm.DB
	bus bus.Bus
	hub *hub.Hub
	log zerolog.Logger
}

// New assembles an engine over its three collaborators.
func New(db *gorm.DB, b bus.Bus, h *hub.Hub, log zerolog.Logger) *Engine {
	return &Engine{
		db:  db,
		bus: b,
		hub: h,
		log: log.With().Str("component", "engine").Logger(),
	}
}

// Start subscribes to the broadcast bus so events committed by other
// instances re-enter the local fanout path. With the no-op bus this is
// instantaneous and nothing ever arrives.
func (e *Engine) Start(ctx context.Context) error {
	return e.bus.Subscribe(ctx, e.applyRemote)
}

// Dispatch routes one tagged event from a connected session into the
// corresponding operation. It is the single entry point for the gateway;
// errors are surfaced only to the originating session's context.
func (e *Engine) Dispatch(ctx context.Context, origin *hub.Session, ev domain.Event) error {
	switch ev.Type {
	case domain.EventChatMessage:
		if ev.Message == nil {
			return fmt.Errorf("%w: chat message without payload", domain.ErrUnknownEvent)
		}
		_, err := e.Submit(ctx, ev.Message.Sender, ev.Message.Text, ev.Message.ClientTime)
		return err
	case domain.EventDelivered:
		return e.MarkDelivered(ctx, ev.ID)
	case domain.EventRead:
		return e.MarkRead(ctx, ev.ID)
	case domain.EventDelete:
		return e.Delete(ctx, ev.ID)
	case domain.EventClear:
		return e.ClearAll(ctx)
	case domain.EventTyping:
		e.RelayTyping(origin, ev.Payload)
		return nil
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEvent, ev.Type)
	}
}

// Submit validates and commits a new message, then makes it visible
// everywhere. On success the returned Message carries the server-assigned
// id and commit timestamp. On persistence failure nothing is broadcast.
func (e *Engine) Submit(ctx context.Context, sender, text, clientTime string) (*domain.Message, error) {
	tr := otel.Tracer("engine")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(attribute.String("sender", sender)),
	)
	defer span.End()

	// Reject blank identities and bodies; stored text is otherwise verbatim.
	if strings.TrimSpace(sender) == "" {
		return nil, ErrEmptySender
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	m, err := repo.CreateMessage(e.db.WithContext(ctx), sender, text, clientTime)
	if err != nil {
		e.log.Error().Err(err).Msg("submit: insert failed")
		return nil, fmt.Errorf("%w: insert message: %v", ErrPersistence, err)
	}

	e.announce(ctx, domain.Event{Type: domain.EventChatMessage, Message: m})
	return m, nil
}

// MarkDelivered stamps the delivery marker. A missing id is a no-op, not an
// error; the marker event is broadcast only when a row was actually updated,
// and it reaches the issuing instance's sessions too, so every participant
// converges on the same state.
func (e *Engine) MarkDelivered(ctx context.Context, id uint) error {
	tr := otel.Tracer("engine")
	ctx, span := tr.Start(ctx, "MarkDelivered",
		trace.WithAttributes(attribute.Int64("message.id", int64(id))),
	)
	defer span.End()

	updated, err := repo.MarkDelivered(e.db.WithContext(ctx), id, time.Now().UTC())
	if err != nil {
		e.log.Error().Err(err).Uint("id", id).Msg("mark delivered failed")
		return fmt.Errorf("%w: mark delivered: %v", ErrPersistence, err)
	}
	if !updated {
		return nil
	}

	e.announce(ctx, domain.Event{Type: domain.EventDelivered, ID: id})
	return nil
}

// MarkRead stamps the read marker. Reading does not require a prior
// delivery marker; the log stamps delivered_at alongside when it is unset.
func (e *Engine) MarkRead(ctx context.Context, id uint) error {
	tr := otel.Tracer("engine")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(attribute.Int64("message.id", int64(id))),
	)
	defer span.End()

	updated, err := repo.MarkRead(e.db.WithContext(ctx), id, time.Now().UTC())
	if err != nil {
		e.log.Error().Err(err).Uint("id", id).Msg("mark read failed")
		return fmt.Errorf("%w: mark read: %v", ErrPersistence, err)
	}
	if !updated {
		return nil
	}

	e.announce(ctx, domain.Event{Type: domain.EventRead, ID: id})
	return nil
}

// Delete removes the message if present and broadcasts the deletion id
// regardless: downstream views must converge to "absent" whether or not a
// row actually existed, which also makes the operation idempotent.
func (e *Engine) Delete(ctx context.Context, id uint) error {
	tr := otel.Tracer("engine")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(attribute.Int64("message.id", int64(id))),
	)
	defer span.End()

	if err := repo.DeleteMessage(e.db.WithContext(ctx), id); err != nil {
		e.log.Error().Err(err).Uint("id", id).Msg("delete failed")
		return fmt.Errorf("%w: delete message: %v", ErrPersistence, err)
	}

	e.announce(ctx, domain.Event{Type: domain.EventDelete, ID: id})
	return nil
}

// ClearAll removes every message and broadcasts a single clear signal.
// Receivers drop their entire local view rather than processing N deletes.
func (e *Engine) ClearAll(ctx context.Context) error {
	tr := otel.Tracer("engine")
	ctx, span := tr.Start(ctx, "ClearAll")
	defer span.End()

	if err := repo.ClearMessages(e.db.WithContext(ctx)); err != nil {
		e.log.Error().Err(err).Msg("clear failed")
		return fmt.Errorf("%w: clear messages: %v", ErrPersistence, err)
	}

	e.announce(ctx, domain.Event{Type: domain.EventClear})
	return nil
}

// RelayTyping forwards a typing indicator to every local session except the
// originator. Typing events are ephemeral: never persisted and never sent
// across instances, they only need low latency within an instance.
func (e *Engine) RelayTyping(origin *hub.Session, payload json.RawMessage) {
	ev := domain.Event{Type: domain.EventTyping, Payload: payload}
	raw, err := ev.Frame()
	if err != nil {
		e.log.Warn().Err(err).Msg("typing frame encode failed")
		return
	}
	eventsIngested.WithLabelValues(string(domain.EventTyping)).Inc()
	e.hub.BroadcastExcept(origin, raw)
}

// FetchPage returns up to limit messages newest first, skipping offset
// rows. It is a plain read and never blocks writers.
func (e *Engine) FetchPage(ctx context.Context, limit, offset int) ([]domain.Message, error) {
	tr := otel.Tracer("engine")
	ctx, span := tr.Start(ctx, "FetchPage",
		trace.WithAttributes(attribute.Int("limit", limit), attribute.Int("offset", offset)),
	)
	defer span.End()

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	out, err := repo.ListMessagesPage(e.db.WithContext(ctx), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", ErrPersistence, err)
	}
	return out, nil
}

// announce makes a committed event visible: local fanout first, then the
// bus. A bus failure is logged and dropped; the committed write stands.
func (e *Engine) announce(ctx context.Context, ev domain.Event) {
	eventsIngested.WithLabelValues(string(ev.Type)).Inc()
	e.fanout(ev)

	if err := e.bus.Publish(ctx, ev); err != nil {
		busPublishFailures.Inc()
		e.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("bus publish failed; continuing single-instance")
	}
}

// fanout delivers one event to every locally connected session.
func (e *Engine) fanout(ev domain.Event) {
	raw, err := ev.Frame()
	if err != nil {
		e.log.Error().Err(err).Str("event", string(ev.Type)).Msg("frame encode failed")
		return
	}
	e.hub.Broadcast(raw)
}

// applyRemote feeds an event committed by another instance into the local
// fanout path. The event is already durable in the shared log, so it is
// never re-persisted here. Typing indicators never cross instances; one
// showing up means a peer is misbehaving, and it is dropped.
func (e *Engine) applyRemote(ev domain.Event) {
	if ev.Type == domain.EventTyping {
		e.log.Debug().Msg("dropping cross-instance typing event")
		return
	}
	remoteApplied.WithLabelValues(string(ev.Type)).Inc()
	e.fanout(ev)
}

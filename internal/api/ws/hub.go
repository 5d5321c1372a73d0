// Package ws streams command status changes to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/authz"
	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/server/middleware"
	redisstore "github.com/gosuda/domus/internal/store/redis"
)

// Subscriber is the pub/sub side the hub reads from.
// *redisstore.PubSub satisfies this interface.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Authorizer is the slice of the access guard the hub needs.
type Authorizer interface {
	Authorize(ctx context.Context, p *domain.Principal, ref authz.ResourceRef, op authz.Operation) domain.AccessDecision
}

// StatusReader loads the current status sent on connect.
type StatusReader interface {
	GetStatus(ctx context.Context, tenantID, id uuid.UUID) (*domain.CommandStatus, error)
}

// Hub manages WebSocket connections backed by Redis pub/sub.
type Hub struct {
	pubsub   Subscriber
	guard    Authorizer
	statuses StatusReader
	origins  []string
}

// NewHub creates a new WebSocket hub. origins are the host patterns
// accepted on cross-origin handshakes.
func NewHub(pubsub Subscriber, guard Authorizer, statuses StatusReader, origins ...string) *Hub {
	return &Hub{pubsub: pubsub, guard: guard, statuses: statuses, origins: origins}
}

// ServeCommand streams status events for one command. The current status is
// sent first; the connection closes normally after a terminal state.
// Subscribes to Redis channel "command:<tenantID>:<commandID>".
func (h *Hub) ServeCommand(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	commandID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"title":"Bad Request","status":400,"detail":"invalid command id"}`, http.StatusBadRequest)
		return
	}

	decision := h.guard.Authorize(r.Context(), p, authz.ResourceRef{Type: authz.ResourceCommand, ID: commandID}, authz.OpRead)
	if !decision.Allowed {
		if decision.Reason == domain.ReasonMissingPermission {
			http.Error(w, `{"title":"Forbidden","status":403,"detail":"insufficient permissions"}`, http.StatusForbidden)
			return
		}
		http.Error(w, `{"title":"Not Found","status":404,"detail":"command not found"}`, http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Client messages are ignored; CloseRead cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	// Subscribe before reading the snapshot so no transition falls between.
	messages, cleanup, err := h.pubsub.Subscribe(ctx, redisstore.CommandChannel(p.TenantID, commandID))
	if err != nil {
		log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	current, err := h.statuses.GetStatus(ctx, p.TenantID, commandID)
	if err != nil {
		log.Error().Err(err).Str("command_id", commandID.String()).Msg("websocket status snapshot")
		_ = conn.Close(websocket.StatusInternalError, "status unavailable")
		return
	}
	snapshot, err := json.Marshal(current.Event())
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "encode failed")
		return
	}
	if writeErr := conn.Write(ctx, websocket.MessageText, snapshot); writeErr != nil {
		log.Debug().Err(writeErr).Msg("websocket write")
		return
	}
	if current.State.IsTerminal() {
		_ = conn.Close(websocket.StatusNormalClosure, string(current.State))
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}

			var ev domain.StatusEvent
			if json.Unmarshal(msg, &ev) == nil && ev.State.IsTerminal() {
				_ = conn.Close(websocket.StatusNormalClosure, string(ev.State))
				return
			}
		}
	}
}

// Message history handler.
//
// Exposes GET /messages: a paginated read-only view of the durable log,
// newest first, so a client can render recent history immediately and lazily
// load older pages while the live stream arrives over the websocket.
//
// Query parameters are forgiving: malformed or out-of-range limit/offset
// values silently fall back to the defaults rather than erroring, because
// the endpoint is hit by page bootstrap code that has nothing useful to do
// with a 400.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akervik/go-chat-relay/internal/domain"
	"github.com/akervik/go-chat-relay/internal/engine"
	"github.com/akervik/go-chat-relay/internal/utils"
)

// Handlers bundles the HTTP endpoints and their dependencies.
type Handlers struct {
	engine *engine.Engine
}

// New constructs the handler set over the synchronization engine.
func New(e *engine.Engine) *Handlers {
	return &Handlers{engine: e}
}

// clampPage parses limit/offset from query parameters, applies defaults and
// caps, and returns the validated pair.
func clampPage(c *gin.Context) (limit, offset int) {
	limit = utils.AtoiDefault(c.Query("limit"), engine.DefaultPageSize)
	if limit < 1 {
		limit = engine.DefaultPageSize
	}
	if limit > engine.MaxPageSize {
		limit = engine.MaxPageSize
	}
	offset = utils.AtoiDefault(c.Query("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	return
}

// ListMessages returns up to `limit` messages newest first, skipping
// `offset` rows. The body is a plain JSON array; an empty log yields [].
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	limit, offset := clampPage(c)

	items, err := h.engine.FetchPage(ctx, limit, offset)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not load messages")
		return
	}
	if items == nil {
		items = []domain.Message{}
	}

	ok(c, http.StatusOK, items)
}

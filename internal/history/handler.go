package history

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/classroom/internal/store"
	"github.com/livepoll/classroom/pkg/response"
	"github.com/livepoll/classroom/pkg/storage"
)

// Reader is the projection the handler serves.
type Reader interface {
	List(ctx context.Context, limit int) ([]PollSummary, error)
	Summary(ctx context.Context, id uuid.UUID) (PollSummary, error)
}

// ArchiveLinker resolves a download link for an archived poll summary.
type ArchiveLinker interface {
	PollArchiveURL(ctx context.Context, pollID uuid.UUID) (string, error)
}

// Handler handles poll history HTTP endpoints.
type Handler struct {
	reader   Reader
	archives ArchiveLinker
	logger   *zap.Logger
}

// NewHandler creates a history handler. archives may be nil when no archive bucket is configured.
func NewHandler(reader Reader, archives ArchiveLinker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reader: reader, archives: archives, logger: logger}
}

// List handles GET /api/polls/history?limit=N.
func (h *Handler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.BadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := h.reader.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list poll history failed", zap.Error(err))
		response.Internal(c, "failed to fetch poll history")
		return
	}
	response.OK(c, list)
}

// Summary handles GET /api/polls/:id/summary.
func (h *Handler) Summary(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	sum, err := h.reader.Summary(c.Request.Context(), pollID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(c, "poll not found")
			return
		}
		h.logger.Error("poll summary failed", zap.String("poll_id", pollID.String()), zap.Error(err))
		response.Internal(c, "failed to fetch poll summary")
		return
	}
	response.OK(c, sum)
}

// Archive handles GET /api/polls/:id/archive and returns a time-limited download URL.
func (h *Handler) Archive(c *gin.Context) {
	if h.archives == nil {
		response.ServiceUnavailable(c, "poll archive not configured")
		return
	}
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	url, err := h.archives.PollArchiveURL(c.Request.Context(), pollID)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			response.NotFound(c, "poll not archived yet")
			return
		}
		h.logger.Error("poll archive url failed", zap.String("poll_id", pollID.String()), zap.Error(err))
		response.Internal(c, "failed to resolve archive")
		return
	}
	response.OK(c, gin.H{"id": pollID, "url": url})
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-mocktest/internal/model"
	"github.com/stemsi/exstem-mocktest/internal/repository"
	"github.com/stemsi/exstem-mocktest/internal/response"
	"github.com/stemsi/exstem-mocktest/internal/service"
	"github.com/stemsi/exstem-mocktest/internal/validator"
)

const (
	keepAliveInterval = 30 * time.Second
	listTimeout       = 5 * time.Second
	maxPerPage        = 100
)

// PaperSubscriber subscribes to the monitor channel of a paper.
type PaperSubscriber interface {
	Subscribe(ctx context.Context, examType, paperID string) *redis.PubSub
}

// AttemptLister pages through the submitted attempts of a paper.
type AttemptLister interface {
	ListByPaper(ctx context.Context, examType, paperID string, page, perPage int) ([]repository.AttemptSummary, int, error)
}

// SnapshotReader reads the autosaved snapshot of a session.
type SnapshotReader interface {
	LoadSnapshot(ctx context.Context, sessionID string) (*model.Snapshot, error)
}

// MonitorHandler serves the proctor view of a paper.
type MonitorHandler struct {
	monitor  PaperSubscriber
	attempts AttemptLister
	sessions  *service.AttemptService
	snapshots SnapshotReader
	log       zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	monitor PaperSubscriber,
	attempts AttemptLister,
	sessions *service.AttemptService,
	snapshots SnapshotReader,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		monitor:   monitor,
		attempts:  attempts,
		sessions:  sessions,
		snapshots: snapshots,
		log:       log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorPaperSSE godoc
// GET /api/v1/papers/:exam_type/:paper_id/monitor
// Sends a snapshot of the sessions on this instance, then forwards every
// monitor event published for the paper.
func (h *MonitorHandler) MonitorPaperSSE(c *gin.Context) {
	examType, paperID, ok := paperParams(c)
	if !ok {
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"exam_type": examType,
			"paper_id":  paperID,
			"sessions":  h.sessions.LiveSessions(examType, paperID),
		},
	})
	c.Writer.Flush()

	pubsub := h.monitor.Subscribe(reqCtx, examType, paperID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	log := h.log.With().Str("exam_type", examType).Str("paper_id", paperID).Logger()
	log.Info().Msg("Proctor attached to paper monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Proctor disconnected from paper monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Events are already JSON; forward them unchanged.
			writeSSEData(c, []byte(msg.Payload))

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

// ListAttempts godoc
// GET /api/v1/papers/:exam_type/:paper_id/attempts?page=&per_page=
func (h *MonitorHandler) ListAttempts(c *gin.Context) {
	examType, paperID, ok := paperParams(c)
	if !ok {
		return
	}
	page := queryInt(c, "page", 1)
	perPage := min(queryInt(c, "per_page", 20), maxPerPage)

	ctx, cancel := context.WithTimeout(c.Request.Context(), listTimeout)
	defer cancel()

	items, total, err := h.attempts.ListByPaper(ctx, examType, paperID, page, perPage)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if items == nil {
		items = []repository.AttemptSummary{}
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": items}, response.NewPagination(page, perPage, total))
}

// LiveSessions godoc
// GET /api/v1/papers/:exam_type/:paper_id/sessions
func (h *MonitorHandler) LiveSessions(c *gin.Context) {
	examType, paperID, ok := paperParams(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": h.sessions.LiveSessions(examType, paperID)})
}

// GetSnapshot godoc
// GET /api/v1/sessions/:session_id/snapshot
// Returns the last autosaved snapshot, which survives a restart of the instance
// that held the session.
func (h *MonitorHandler) GetSnapshot(c *gin.Context) {
	sid, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	snap, err := h.snapshots.LoadSnapshot(c.Request.Context(), sid.String())
	if err != nil {
		if errors.Is(err, repository.ErrSnapshotNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
			return
		}
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

func paperParams(c *gin.Context) (string, string, bool) {
	examType, paperID := c.Param("exam_type"), c.Param("paper_id")
	if !validator.IsSlug(examType) || !validator.IsSlug(paperID) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return "", "", false
	}
	return examType, paperID, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func writeSSEData(c *gin.Context, payload []byte) {
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

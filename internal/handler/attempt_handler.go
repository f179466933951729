package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-mocktest/internal/analysis"
	"github.com/stemsi/exstem-mocktest/internal/middleware"
	"github.com/stemsi/exstem-mocktest/internal/model"
	"github.com/stemsi/exstem-mocktest/internal/response"
	"github.com/stemsi/exstem-mocktest/internal/service"
	"github.com/stemsi/exstem-mocktest/internal/validator"
)

// AttemptHandler handles candidate-facing attempt endpoints.
type AttemptHandler struct {
	attempts *service.AttemptService
	analysis *analysis.Engine
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, engine *analysis.Engine, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		analysis: engine,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/attempts
// Loads the paper, starts the countdown and returns the session token.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attempts.Start(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, res)
}

// GetPaper godoc
// GET /api/v1/session/paper
func (h *AttemptHandler) GetPaper(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	paper, err := h.attempts.Paper(sid)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, paper)
}

// GetState godoc
// GET /api/v1/session/state
func (h *AttemptHandler) GetState(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	view, err := h.attempts.State(sid)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SelectAnswer godoc
// PUT /api/v1/session/answers
func (h *AttemptHandler) SelectAnswer(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	var req model.SelectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.attempts.SelectAnswer(sid, req.QuestionID, req.Selection)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// ClearAnswer godoc
// DELETE /api/v1/session/answers/:question_id
func (h *AttemptHandler) ClearAnswer(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	view, err := h.attempts.ClearAnswer(sid, c.Param("question_id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Navigate godoc
// POST /api/v1/session/navigate
func (h *AttemptHandler) Navigate(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.attempts.Navigate(sid, *req.Index)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// ToggleFlag godoc
// POST /api/v1/session/flags
func (h *AttemptHandler) ToggleFlag(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	var req model.FlagRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.attempts.ToggleFlag(sid, req.QuestionID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Submit godoc
// POST /api/v1/session/submit
// Blocks until the submission is acknowledged or the retries are exhausted.
func (h *AttemptHandler) Submit(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	result, err := h.attempts.Submit(c.Request.Context(), sid)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"attempt_id":   result.ID,
		"submitted_at": result.SubmittedAt,
		"forced":       result.Forced,
	})
}

// Abandon godoc
// DELETE /api/v1/session
func (h *AttemptHandler) Abandon(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.attempts.Abandon(c.Request.Context(), sid); err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Sesi dibatalkan."})
}

// GetAnalysis godoc
// GET /api/v1/attempts/:attempt_id/analysis
// Recomputes the report from the stored attempt on every call.
func (h *AttemptHandler) GetAnalysis(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	report, err := h.analysis.AnalyzeByID(c.Request.Context(), attemptID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// sessionID reads the session bound to the request token.
func sessionID(c *gin.Context) (uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return uuid.Nil, false
	}
	return claims.SessionID, true
}

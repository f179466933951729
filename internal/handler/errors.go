package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-mocktest/internal/analysis"
	"github.com/stemsi/exstem-mocktest/internal/attempt"
	"github.com/stemsi/exstem-mocktest/internal/model"
	"github.com/stemsi/exstem-mocktest/internal/response"
	"github.com/stemsi/exstem-mocktest/internal/service"
	"github.com/stemsi/exstem-mocktest/internal/session"
)

type errorMapping struct {
	target error
	status int
	code   response.ErrCode
	// detail exposes err.Error() to the client.
	detail bool
}

// errorMappings is checked in order; the first errors.Is match wins.
var errorMappings = []errorMapping{
	{service.ErrSessionNotFound, http.StatusNotFound, response.ErrSessionNotFound, false},
	{session.ErrClosed, http.StatusGone, response.ErrSessionClosed, false},
	{session.ErrNotStarted, http.StatusConflict, response.ErrSessionClosed, false},
	{session.ErrSubmitInFlight, http.StatusConflict, response.ErrAlreadySubmitting, false},
	{session.ErrSubmissionFailed, http.StatusBadGateway, response.ErrSubmissionFailed, false},
	{attempt.ErrAttemptFrozen, http.StatusConflict, response.ErrAttemptFrozen, false},
	{attempt.ErrValidation, http.StatusUnprocessableEntity, response.ErrValidation, true},
	{session.ErrIndexOutOfRange, http.StatusUnprocessableEntity, response.ErrValidation, true},
	{model.ErrDefinitionNotFound, http.StatusNotFound, response.ErrPaperNotFound, false},
	{model.ErrInvalidDefinition, http.StatusInternalServerError, response.ErrPaperInvalid, false},
	{model.ErrUnknownAttempt, http.StatusNotFound, response.ErrUnknownAttempt, false},
	{analysis.ErrIncompleteDefinition, http.StatusUnprocessableEntity, response.ErrIncompleteDefinition, false},
	{service.ErrTokenInvalid, http.StatusUnauthorized, response.ErrTokenInvalid, false},
}

// classify maps a service error onto an HTTP status and response code.
func classify(err error) (int, response.ErrCode, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.detail {
				return m.status, m.code, err.Error()
			}
			return m.status, m.code, ""
		}
	}
	return http.StatusInternalServerError, response.ErrInternal, ""
}

// writeError sends the envelope for err. Unmapped errors are logged.
func writeError(c *gin.Context, log zerolog.Logger, err error) {
	status, code, detail := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.FailWithDetail(c, status, code, detail)
}

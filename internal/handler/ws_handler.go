package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-mocktest/internal/middleware"
	"github.com/stemsi/exstem-mocktest/internal/response"
	"github.com/stemsi/exstem-mocktest/internal/service"
	"github.com/stemsi/exstem-mocktest/internal/session"
	ws "github.com/stemsi/exstem-mocktest/internal/websocket"
)

const closeWait = time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live session over WebSocket and accepts attempt actions.
type WSHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/session/stream?token=
// Pushes state, tick and submission events; accepts answer, clear, navigate,
// flag, submit and ping actions.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	sid := claims.SessionID

	events, unsubscribe, err := h.attempts.Subscribe(sid)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("session_id", sid.String()).Logger()
	wsLog.Info().Msg("Candidate connected")

	out := make(chan ws.ResponsePayload, 16)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go h.writeLoop(conn, wsLog, events, out, done, writerDone)

	send := func(ev ws.Event, data interface{}) {
		select {
		case out <- ws.ResponsePayload{Event: ev, Data: data}:
		case <-writerDone:
		}
	}

	if view, err := h.attempts.State(sid); err == nil {
		send(ws.EventState, view)
	}

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		h.dispatch(c.Request.Context(), wsLog, sid, &msg, send)
	}

	close(done)
	<-writerDone
}

// dispatch applies one action. Successful mutations are answered by the state
// event the session broadcasts; only failures get a direct reply.
func (h *WSHandler) dispatch(ctx context.Context, log zerolog.Logger, sid uuid.UUID, msg *ws.RequestPayload, send func(ws.Event, interface{})) {
	var err error
	switch msg.Action {
	case ws.ActionAnswer:
		if msg.QuestionID == "" || len(msg.Selection) == 0 {
			send(ws.EventError, ws.ErrorData{Code: string(response.ErrValidation), Message: "question_id and selection are required"})
			return
		}
		_, err = h.attempts.SelectAnswer(sid, msg.QuestionID, msg.Selection)
	case ws.ActionClear:
		_, err = h.attempts.ClearAnswer(sid, msg.QuestionID)
	case ws.ActionFlag:
		_, err = h.attempts.ToggleFlag(sid, msg.QuestionID)
	case ws.ActionNavigate:
		if msg.Index == nil {
			send(ws.EventError, ws.ErrorData{Code: string(response.ErrValidation), Message: "index is required"})
			return
		}
		_, err = h.attempts.Navigate(sid, *msg.Index)
	case ws.ActionSubmit:
		// Submission may back off for seconds; keep reading meanwhile.
		go func() {
			if _, err := h.attempts.Submit(context.WithoutCancel(ctx), sid); err != nil && !errors.Is(err, session.ErrSubmissionFailed) {
				send(ws.EventError, errorData(err))
			}
		}()
		return
	case ws.ActionPing:
		send(ws.EventPong, nil)
		return
	default:
		log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		send(ws.EventError, ws.ErrorData{Code: string(response.ErrInvalidPayload), Message: "unknown action: " + string(msg.Action)})
		return
	}
	if err != nil {
		send(ws.EventError, errorData(err))
	}
}

// writeLoop is the only writer of conn.
func (h *WSHandler) writeLoop(conn *websocket.Conn, log zerolog.Logger, events <-chan service.SessionEvent, out <-chan ws.ResponsePayload, done <-chan struct{}, writerDone chan<- struct{}) {
	defer close(writerDone)

	for {
		var err error
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				// The session was discarded; end the stream.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(closeWait))
				_ = conn.Close()
				return
			}
			err = ws.WriteJSON(conn, ws.Event(ev.Type), ev.Data)
		case msg := <-out:
			err = ws.WriteJSON(conn, msg.Event, msg.Data)
		}
		if err != nil {
			log.Debug().Err(err).Msg("Write failed")
			_ = conn.Close()
			return
		}
	}
}

func errorData(err error) ws.ErrorData {
	_, code, detail := classify(err)
	msg := response.GetMessage(code)
	if detail != "" {
		msg = detail
	}
	return ws.ErrorData{Code: string(code), Message: msg}
}

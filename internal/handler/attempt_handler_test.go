package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-mocktest/internal/analysis"
	"github.com/stemsi/exstem-mocktest/internal/middleware"
	"github.com/stemsi/exstem-mocktest/internal/model"
	"github.com/stemsi/exstem-mocktest/internal/service"
	"github.com/stemsi/exstem-mocktest/internal/session"
	"github.com/stemsi/exstem-mocktest/internal/timer"
	"github.com/stemsi/exstem-mocktest/internal/validator"
)

type stillClock struct{}

type stillTicker struct{ ch chan time.Time }

func (stillClock) NewTicker(time.Duration) timer.Ticker { return stillTicker{ch: make(chan time.Time)} }
func (t stillTicker) C() <-chan time.Time               { return t.ch }
func (stillTicker) Stop()                               {}

type paperLoader struct{ def *model.TestDefinition }

func (l paperLoader) LoadTestDefinition(_ context.Context, examType, paperID string) (*model.TestDefinition, error) {
	if l.def.ExamType != examType || l.def.PaperID != paperID {
		return nil, model.ErrDefinitionNotFound
	}
	return l.def, nil
}

// memAttempts stores submissions in memory and serves them back for analysis.
type memAttempts struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.SubmittedAttempt
}

func (m *memAttempts) SubmitAttempt(_ context.Context, snap *model.Snapshot, forced bool) (*model.SubmittedAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &model.SubmittedAttempt{ID: uuid.New(), SubmittedAt: time.Now().UTC(), Forced: forced, Snapshot: *snap.Clone()}
	m.byID[sub.ID] = sub
	return sub, nil
}

func (m *memAttempts) FetchSubmittedAttempt(_ context.Context, id uuid.UUID) (*model.SubmittedAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.byID[id]
	if !ok {
		return nil, model.ErrUnknownAttempt
	}
	return sub, nil
}

type nopSnapshots struct{}

func (nopSnapshots) SaveSnapshot(context.Context, string, *model.Snapshot) error { return nil }
func (nopSnapshots) DeleteSnapshot(context.Context, string) error                { return nil }

type nopMonitor struct{}

func (nopMonitor) PublishEvent(context.Context, string, string, model.MonitorEvent) error { return nil }

type nopScores struct{}

func (nopScores) EnqueueScore(context.Context, uuid.UUID) error { return nil }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	def := &model.TestDefinition{
		ExamType:        "neet",
		PaperID:         "mock-02",
		Title:           "Mock 02",
		DurationSeconds: 300,
		Questions: []model.Question{
			{ID: "q1", Subject: "Biology", Type: model.QuestionTypeSingle, Options: []model.Option{{Key: "A"}, {Key: "B"}}, CorrectAnswer: []string{"A"}, Marking: model.MarkingScheme{Correct: 4, Incorrect: -1}},
			{ID: "q2", Subject: "Physics", Type: model.QuestionTypeNumeric, CorrectAnswer: []string{"9.8"}, Tolerance: 0.05, Marking: model.MarkingScheme{Correct: 4}},
		},
	}
	store := &memAttempts{byID: make(map[uuid.UUID]*model.SubmittedAttempt)}
	tokens := service.NewTokenService("handler-secret", time.Hour)
	attempts := service.NewAttemptService(context.Background(), service.AttemptDeps{
		Loader:       paperLoader{def: def},
		Submitter:    store,
		Snapshots:    nopSnapshots{},
		Monitor:      nopMonitor{},
		Scores:       nopScores{},
		Tokens:       tokens,
		Retry:        session.RetryPolicy{MaxAttempts: 1, Base: time.Millisecond, Max: time.Millisecond},
		NewCountdown: func() *timer.Countdown { return timer.New(timer.WithClock(stillClock{})) },
	}, zerolog.Nop())
	t.Cleanup(func() { _ = attempts.Shutdown(context.Background()) })

	h := NewAttemptHandler(attempts, analysis.NewEngine(store, paperLoader{def: def}, zerolog.Nop()), zerolog.Nop())

	r := gin.New()
	r.POST("/attempts", h.StartAttempt)
	r.GET("/attempts/:attempt_id/analysis", h.GetAnalysis)
	s := r.Group("/session", middleware.RequireSessionToken(tokens))
	s.GET("/state", h.GetState)
	s.PUT("/answers", h.SelectAnswer)
	s.POST("/navigate", h.Navigate)
	s.POST("/submit", h.Submit)
	return r
}

type testResponse struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func call(t *testing.T, r http.Handler, method, path, token string, body interface{}) (int, testResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp testResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
	}
	return w.Code, resp
}

func startSession(t *testing.T, r http.Handler) string {
	t.Helper()
	code, resp := call(t, r, http.MethodPost, "/attempts", "", map[string]string{"exam_type": "neet", "paper_id": "mock-02"})
	if code != http.StatusCreated {
		t.Fatalf("start status = %d", code)
	}
	var data struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil || data.SessionToken == "" {
		t.Fatalf("start data = %s (%v)", resp.Data, err)
	}
	return data.SessionToken
}

func TestStartAttemptValidation(t *testing.T) {
	r := newTestRouter(t)
	tests := []struct {
		name     string
		body     map[string]string
		wantCode int
		wantErr  string
	}{
		{"missing paper", map[string]string{"exam_type": "neet"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad slug", map[string]string{"exam_type": "neet", "paper_id": "../etc"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown paper", map[string]string{"exam_type": "neet", "paper_id": "mock-99"}, http.StatusNotFound, "PAPER_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := call(t, r, http.MethodPost, "/attempts", "", tt.body)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			if resp.Error == nil || resp.Error.Code != tt.wantErr {
				t.Fatalf("error = %+v, want %s", resp.Error, tt.wantErr)
			}
		})
	}
}

func TestSessionRoutesRequireToken(t *testing.T) {
	r := newTestRouter(t)
	for _, token := range []string{"", "not-a-token"} {
		code, _ := call(t, r, http.MethodGet, "/session/state", token, nil)
		if code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, code)
		}
	}
}

func TestAttemptLifecycle(t *testing.T) {
	r := newTestRouter(t)
	token := startSession(t, r)

	if code, _ := call(t, r, http.MethodPut, "/session/answers", token, map[string]interface{}{"question_id": "q1", "selection": []string{"A"}}); code != http.StatusOK {
		t.Fatalf("answer q1 status = %d", code)
	}
	if code, resp := call(t, r, http.MethodPut, "/session/answers", token, map[string]interface{}{"question_id": "q1", "selection": []string{"Z"}}); code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid option status = %d (%+v)", code, resp.Error)
	}
	if code, _ := call(t, r, http.MethodPost, "/session/navigate", token, map[string]int{"index": 5}); code != http.StatusUnprocessableEntity {
		t.Fatalf("navigate out of range status = %d", code)
	}
	if code, _ := call(t, r, http.MethodPut, "/session/answers", token, map[string]interface{}{"question_id": "q2", "selection": []string{"9.81"}}); code != http.StatusOK {
		t.Fatalf("answer q2 status = %d", code)
	}

	code, resp := call(t, r, http.MethodPost, "/session/submit", token, nil)
	if code != http.StatusOK {
		t.Fatalf("submit status = %d", code)
	}
	var submitted struct {
		AttemptID uuid.UUID `json:"attempt_id"`
	}
	if err := json.Unmarshal(resp.Data, &submitted); err != nil {
		t.Fatalf("submit data: %v", err)
	}

	if code, resp := call(t, r, http.MethodPut, "/session/answers", token, map[string]interface{}{"question_id": "q1", "selection": []string{"B"}}); code != http.StatusConflict || resp.Error.Code != "ATTEMPT_FROZEN" {
		t.Fatalf("post-submit answer = %d %+v", code, resp.Error)
	}

	code, resp = call(t, r, http.MethodGet, "/attempts/"+submitted.AttemptID.String()+"/analysis", "", nil)
	if code != http.StatusOK {
		t.Fatalf("analysis status = %d", code)
	}
	var report model.AnalysisReport
	if err := json.Unmarshal(resp.Data, &report); err != nil {
		t.Fatalf("analysis data: %v", err)
	}
	if report.Overall.Correct != 2 || report.Overall.Score != 8 {
		t.Fatalf("overall = %+v", report.Overall)
	}
}

func TestGetAnalysisErrors(t *testing.T) {
	r := newTestRouter(t)
	tests := []struct {
		name     string
		id       string
		wantCode int
	}{
		{"malformed id", "abc", http.StatusBadRequest},
		{"unknown attempt", uuid.NewString(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := call(t, r, http.MethodGet, "/attempts/"+tt.id+"/analysis", "", nil); code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
		})
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-mocktest/internal/model"
	"github.com/stemsi/exstem-mocktest/internal/repository"
)

type fakeQueue struct {
	mu       sync.Mutex
	items    []uuid.UUID
	requeued []uuid.UUID
}

func (q *fakeQueue) DequeueScore(ctx context.Context, timeout time.Duration) (uuid.UUID, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		id := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return id, nil
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return uuid.Nil, repository.ErrQueueEmpty
	}
}

func (q *fakeQueue) EnqueueScore(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeued = append(q.requeued, id)
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	bulkErr error
	failOne uuid.UUID
	bulk    [][]repository.ScoreRow
	singles []repository.ScoreRow
}

func (s *fakeStore) SaveScores(_ context.Context, rows []repository.ScoreRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bulkErr != nil {
		return s.bulkErr
	}
	s.bulk = append(s.bulk, append([]repository.ScoreRow(nil), rows...))
	return nil
}

func (s *fakeStore) SaveScore(_ context.Context, row repository.ScoreRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row.AttemptID == s.failOne {
		return errors.New("row locked")
	}
	s.singles = append(s.singles, row)
	return nil
}

type fakeAnalyzer struct {
	errs map[uuid.UUID]error
}

func (a *fakeAnalyzer) AnalyzeByID(_ context.Context, id uuid.UUID) (*model.AnalysisReport, error) {
	if err := a.errs[id]; err != nil {
		return nil, err
	}
	return &model.AnalysisReport{
		AttemptID: id,
		Overall:   model.SubjectSummary{Score: 7, Correct: 2, Incorrect: 1, Unattempted: 3},
	}, nil
}

func newTestWorker(q *fakeQueue, s *fakeStore, a *fakeAnalyzer) *ScoreWorker {
	w := NewScoreWorker(q, s, a, zerolog.Nop())
	w.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return w
}

func TestScoreWorkerBulkUpdate(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	store := &fakeStore{}
	w := newTestWorker(&fakeQueue{}, store, &fakeAnalyzer{})

	w.flushSafe(context.Background(), ids)

	if len(store.bulk) != 1 || len(store.bulk[0]) != 2 {
		t.Fatalf("bulk calls = %v, want one batch of 2", store.bulk)
	}
	row := store.bulk[0][0]
	want := repository.ScoreRow{AttemptID: ids[0], FinalScore: 7, Correct: 2, Incorrect: 1, Unattempted: 3, ScoredAt: w.now()}
	if row != want {
		t.Fatalf("row = %+v, want %+v", row, want)
	}
}

func TestScoreWorkerFallbackAndRequeue(t *testing.T) {
	ok, locked := uuid.New(), uuid.New()
	queue := &fakeQueue{}
	store := &fakeStore{bulkErr: errors.New("deadlock detected"), failOne: locked}
	w := newTestWorker(queue, store, &fakeAnalyzer{})

	w.flushSafe(context.Background(), []uuid.UUID{ok, locked})

	if len(store.singles) != 1 || store.singles[0].AttemptID != ok {
		t.Fatalf("single updates = %v, want only %s", store.singles, ok)
	}
	if len(queue.requeued) != 1 || queue.requeued[0] != locked {
		t.Fatalf("requeued = %v, want [%s]", queue.requeued, locked)
	}
}

func TestScoreWorkerAnalysisErrors(t *testing.T) {
	unknown, transient, good := uuid.New(), uuid.New(), uuid.New()
	queue := &fakeQueue{}
	store := &fakeStore{}
	w := newTestWorker(queue, store, &fakeAnalyzer{errs: map[uuid.UUID]error{
		unknown:   fmt.Errorf("fetch attempt: %w", model.ErrUnknownAttempt),
		transient: errors.New("connection reset"),
	}})

	w.flushSafe(context.Background(), []uuid.UUID{unknown, transient, good})

	if len(queue.requeued) != 1 || queue.requeued[0] != transient {
		t.Fatalf("requeued = %v, want only the transient failure", queue.requeued)
	}
	if len(store.bulk) != 1 || len(store.bulk[0]) != 1 || store.bulk[0][0].AttemptID != good {
		t.Fatalf("bulk = %v, want only %s", store.bulk, good)
	}
}

func TestScoreWorkerDrainsOnShutdown(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	queue := &fakeQueue{items: append([]uuid.UUID(nil), ids...)}
	store := &fakeStore{}
	w := newTestWorker(queue, store, &fakeAnalyzer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		queue.mu.Lock()
		empty := len(queue.items) == 0
		queue.mu.Unlock()
		if empty {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queue was not consumed")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	scored := 0
	for _, b := range store.bulk {
		scored += len(b)
	}
	if scored != len(ids) {
		t.Fatalf("scored %d attempts, want %d", scored, len(ids))
	}
}

package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-mocktest/internal/analysis"
	"github.com/stemsi/exstem-mocktest/internal/model"
	"github.com/stemsi/exstem-mocktest/internal/repository"
)

const (
	ScoreBatchSize    = 50
	ScoreBatchTimeout = 2 * time.Second
	ScorePollTimeout  = 1 * time.Second
	drainTimeout      = 10 * time.Second
)

// Analyzer scores a stored attempt.
type Analyzer interface {
	AnalyzeByID(ctx context.Context, id uuid.UUID) (*model.AnalysisReport, error)
}

// ScoreStore persists attempt scores.
type ScoreStore interface {
	SaveScores(ctx context.Context, rows []repository.ScoreRow) error
	SaveScore(ctx context.Context, row repository.ScoreRow) error
}

// ScoreQueue is the queue of attempts waiting to be scored.
type ScoreQueue interface {
	DequeueScore(ctx context.Context, timeout time.Duration) (uuid.UUID, error)
	EnqueueScore(ctx context.Context, id uuid.UUID) error
}

// ScoreWorker scores submitted attempts in batches and stores the totals
// next to the attempt.
type ScoreWorker struct {
	queue    ScoreQueue
	store    ScoreStore
	analyzer Analyzer
	log      zerolog.Logger
	now      func() time.Time
}

// NewScoreWorker creates a new ScoreWorker.
func NewScoreWorker(queue ScoreQueue, store ScoreStore, analyzer Analyzer, log zerolog.Logger) *ScoreWorker {
	return &ScoreWorker{
		queue:    queue,
		store:    store,
		analyzer: analyzer,
		log:      log.With().Str("component", "score_worker").Logger(),
		now:      time.Now,
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start runs until ctx is done, then flushes the pending batch.
func (w *ScoreWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ScoreWorker started")

	batch := make([]uuid.UUID, 0, ScoreBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ScoreBatchSize || time.Since(lastFlush) >= ScoreBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			w.flushSafe(drainCtx, batch)
			cancel()
			return

		default:
			id, err := w.queue.DequeueScore(ctx, ScorePollTimeout)
			if err != nil {
				if !errors.Is(err, repository.ErrQueueEmpty) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("Dequeue error")
				}
				continue
			}
			batch = append(batch, id)
		}
	}
}

// ----------------------------------------------------------------
// Batch scoring
// ----------------------------------------------------------------

func (w *ScoreWorker) flushSafe(ctx context.Context, batch []uuid.UUID) {
	if len(batch) == 0 {
		return
	}

	rows := make([]repository.ScoreRow, 0, len(batch))
	for _, id := range batch {
		report, err := w.analyzer.AnalyzeByID(ctx, id)
		if err != nil {
			if permanent(err) {
				w.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Attempt cannot be scored, dropping")
				continue
			}
			w.log.Warn().Err(err).Str("attempt_id", id.String()).Msg("Analysis failed, requeueing")
			w.requeue(ctx, id)
			continue
		}
		rows = append(rows, scoreRow(report, w.now()))
	}
	if len(rows) == 0 {
		return
	}

	if err := w.store.SaveScores(ctx, rows); err != nil {
		w.log.Warn().Err(err).Msg("bulk score update failed, using fallback")

		for _, row := range rows {
			if err := w.store.SaveScore(ctx, row); err != nil {
				w.log.Error().Err(err).Str("attempt_id", row.AttemptID.String()).Msg("SaveScore failed, requeueing")
				w.requeue(ctx, row.AttemptID)
			}
		}
		return
	}

	w.log.Debug().Int("scored", len(rows)).Msg("Scores persisted")
}

func (w *ScoreWorker) requeue(ctx context.Context, id uuid.UUID) {
	if err := w.queue.EnqueueScore(ctx, id); err != nil {
		w.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Requeue failed, score lost until rescored")
	}
}

func scoreRow(report *model.AnalysisReport, at time.Time) repository.ScoreRow {
	return repository.ScoreRow{
		AttemptID:   report.AttemptID,
		FinalScore:  report.Overall.Score,
		Correct:     report.Overall.Correct,
		Incorrect:   report.Overall.Incorrect,
		Unattempted: report.Overall.Unattempted,
		ScoredAt:    at.UTC(),
	}
}

// permanent reports errors that no retry can fix.
func permanent(err error) bool {
	return errors.Is(err, model.ErrUnknownAttempt) ||
		errors.Is(err, model.ErrDefinitionNotFound) ||
		errors.Is(err, model.ErrInvalidDefinition) ||
		errors.Is(err, analysis.ErrIncompleteDefinition)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-mocktest/internal/model"
)

// AttemptRepository persists submitted attempts in PostgreSQL.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// SubmitAttempt stores a frozen snapshot. It is idempotent on the attempt key:
// a repeated call returns the row created by the first one.
func (r *AttemptRepository) SubmitAttempt(ctx context.Context, snap *model.Snapshot, forced bool) (*model.SubmittedAttempt, error) {
	if err := checkSnapshot(snap); err != nil {
		return nil, err
	}

	sub := &model.SubmittedAttempt{}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO submitted_attempts (attempt_key, candidate_id, exam_type, paper_id, forced, answered_count, snapshot)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (attempt_key) DO UPDATE SET attempt_key = EXCLUDED.attempt_key
		 RETURNING id, submitted_at, forced, snapshot`,
		snap.AttemptKey, snap.CandidateID, snap.ExamType, snap.PaperID, forced, snap.AnsweredCount(), snap,
	).Scan(&sub.ID, &sub.SubmittedAt, &sub.Forced, &sub.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	return sub, nil
}

// FetchSubmittedAttempt returns a stored attempt, or model.ErrUnknownAttempt.
func (r *AttemptRepository) FetchSubmittedAttempt(ctx context.Context, id uuid.UUID) (*model.SubmittedAttempt, error) {
	sub := &model.SubmittedAttempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, submitted_at, forced, snapshot
		 FROM submitted_attempts
		 WHERE id = $1`, id,
	).Scan(&sub.ID, &sub.SubmittedAt, &sub.Forced, &sub.Snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUnknownAttempt
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return sub, nil
}

// AttemptSummary is a listing row for a paper's submitted attempts.
type AttemptSummary struct {
	ID             uuid.UUID `json:"id"`
	CandidateID    string    `json:"candidate_id"`
	Forced         bool      `json:"forced"`
	AnsweredCount  int       `json:"answered_count"`
	SubmittedAt    time.Time `json:"submitted_at"`
	FinalScore     *float64  `json:"final_score"`
	CorrectCount   *int      `json:"correct_count"`
	IncorrectCount *int      `json:"incorrect_count"`
}

// ListByPaper returns one page of the attempts submitted on a paper, newest
// first, with the total count.
func (r *AttemptRepository) ListByPaper(ctx context.Context, examType, paperID string, page, perPage int) ([]AttemptSummary, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submitted_attempts WHERE exam_type = $1 AND paper_id = $2`,
		examType, paperID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count attempts: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, candidate_id, forced, answered_count, submitted_at,
		        final_score, correct_count, incorrect_count
		 FROM submitted_attempts
		 WHERE exam_type = $1 AND paper_id = $2
		 ORDER BY submitted_at DESC
		 LIMIT $3 OFFSET $4`, examType, paperID, perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	out := []AttemptSummary{}
	for rows.Next() {
		var a AttemptSummary
		if err := rows.Scan(&a.ID, &a.CandidateID, &a.Forced, &a.AnsweredCount, &a.SubmittedAt,
			&a.FinalScore, &a.CorrectCount, &a.IncorrectCount); err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// ScoreRow is the score of one attempt, written by the score worker.
type ScoreRow struct {
	AttemptID   uuid.UUID
	FinalScore  float64
	Correct     int
	Incorrect   int
	Unattempted int
	ScoredAt    time.Time
}

// SaveScores writes a batch of scores in one statement using UNNEST.
func (r *AttemptRepository) SaveScores(ctx context.Context, rows []ScoreRow) error {
	n := len(rows)
	if n == 0 {
		return nil
	}

	ids := make([]uuid.UUID, n)
	scores := make([]float64, n)
	correct := make([]int32, n)
	incorrect := make([]int32, n)
	unattempted := make([]int32, n)
	scoredAts := make([]time.Time, n)
	for i, row := range rows {
		ids[i] = row.AttemptID
		scores[i] = row.FinalScore
		correct[i] = int32(row.Correct)
		incorrect[i] = int32(row.Incorrect)
		unattempted[i] = int32(row.Unattempted)
		scoredAts[i] = row.ScoredAt
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE submitted_attempts AS a
		SET final_score = t.score,
		    correct_count = t.correct,
		    incorrect_count = t.incorrect,
		    unattempted_count = t.unattempted,
		    scored_at = t.scored_at
		FROM UNNEST(
			$1::uuid[],
			$2::float8[],
			$3::int[],
			$4::int[],
			$5::int[],
			$6::timestamptz[]
		) AS t (id, score, correct, incorrect, unattempted, scored_at)
		WHERE a.id = t.id`,
		ids, scores, correct, incorrect, unattempted, scoredAts,
	)
	if err != nil {
		return fmt.Errorf("bulk update scores: %w", err)
	}
	return nil
}

// SaveScore writes a single score.
func (r *AttemptRepository) SaveScore(ctx context.Context, row ScoreRow) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE submitted_attempts
		 SET final_score = $1, correct_count = $2, incorrect_count = $3,
		     unattempted_count = $4, scored_at = $5
		 WHERE id = $6`,
		row.FinalScore, row.Correct, row.Incorrect, row.Unattempted, row.ScoredAt, row.AttemptID,
	)
	if err != nil {
		return fmt.Errorf("update score %s: %w", row.AttemptID, err)
	}
	return nil
}

func checkSnapshot(snap *model.Snapshot) error {
	switch {
	case snap == nil:
		return fmt.Errorf("%w: empty snapshot", model.ErrSubmissionRejected)
	case snap.AttemptKey == uuid.Nil:
		return fmt.Errorf("%w: missing attempt key", model.ErrSubmissionRejected)
	case snap.ExamType == "" || snap.PaperID == "":
		return fmt.Errorf("%w: missing paper reference", model.ErrSubmissionRejected)
	case snap.Phase != model.AttemptPhaseSubmitted:
		return fmt.Errorf("%w: attempt is not frozen", model.ErrSubmissionRejected)
	}
	return nil
}

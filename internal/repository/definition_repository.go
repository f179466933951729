package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-mocktest/internal/model"
)

// PaperKey identifies a test paper.
type PaperKey struct {
	ExamType string `json:"exam_type"`
	PaperID  string `json:"paper_id"`
}

// DefinitionRepository loads and stores test papers in PostgreSQL.
type DefinitionRepository struct {
	pool *pgxpool.Pool
}

// NewDefinitionRepository creates a new DefinitionRepository.
func NewDefinitionRepository(pool *pgxpool.Pool) *DefinitionRepository {
	return &DefinitionRepository{pool: pool}
}

// LoadTestDefinition returns a paper with its questions in position order.
func (r *DefinitionRepository) LoadTestDefinition(ctx context.Context, examType, paperID string) (*model.TestDefinition, error) {
	def := &model.TestDefinition{ExamType: examType, PaperID: paperID}
	err := r.pool.QueryRow(ctx,
		`SELECT title, duration_seconds
		 FROM test_papers
		 WHERE exam_type = $1 AND paper_id = $2`, examType, paperID,
	).Scan(&def.Title, &def.DurationSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("get paper: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id, subject, topic, question_type, prompt, options,
		        correct_answer, tolerance, mark_correct, mark_incorrect, mark_unattempted
		 FROM test_questions
		 WHERE exam_type = $1 AND paper_id = $2
		 ORDER BY position ASC`, examType, paperID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		if err := rows.Scan(
			&q.ID, &q.Subject, &q.Topic, &q.Type, &q.Prompt, &q.Options,
			&q.CorrectAnswer, &q.Tolerance,
			&q.Marking.Correct, &q.Marking.Incorrect, &q.Marking.Unattempted,
		); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		def.Questions = append(def.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	if len(def.Questions) == 0 {
		return nil, model.ErrDefinitionNotFound
	}
	return def, nil
}

// ListPapers returns the keys of every stored paper.
func (r *DefinitionRepository) ListPapers(ctx context.Context) ([]PaperKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_type, paper_id FROM test_papers ORDER BY exam_type, paper_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []PaperKey
	for rows.Next() {
		var k PaperKey
		if err := rows.Scan(&k.ExamType, &k.PaperID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Upsert replaces a paper and all of its questions in one transaction.
func (r *DefinitionRepository) Upsert(ctx context.Context, def *model.TestDefinition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO test_papers (exam_type, paper_id, title, duration_seconds)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (exam_type, paper_id)
		 DO UPDATE SET title = EXCLUDED.title,
		               duration_seconds = EXCLUDED.duration_seconds,
		               updated_at = NOW()`,
		def.ExamType, def.PaperID, def.Title, def.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("upsert paper: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM test_questions WHERE exam_type = $1 AND paper_id = $2`,
		def.ExamType, def.PaperID,
	); err != nil {
		return fmt.Errorf("clear questions: %w", err)
	}

	batch := &pgx.Batch{}
	for i, q := range def.Questions {
		options := q.Options
		if options == nil {
			options = []model.Option{}
		}
		batch.Queue(
			`INSERT INTO test_questions (
				exam_type, paper_id, question_id, position, subject, topic, question_type,
				prompt, options, correct_answer, tolerance, mark_correct, mark_incorrect, mark_unattempted
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			def.ExamType, def.PaperID, q.ID, i, q.Subject, q.Topic, q.Type,
			q.Prompt, options, q.CorrectAnswer, q.Tolerance,
			q.Marking.Correct, q.Marking.Incorrect, q.Marking.Unattempted,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}

	return tx.Commit(ctx)
}

package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// contextSeparator joins context passages for storage. Retrieval splits on
// the same separator, so passage texts must not contain it themselves
// (chunking normalizes blank lines before storage).
const contextSeparator = "\n\n"

// --- Feedback ledger ---

// RecordExample inserts the example if no row exists for its trace ID, or
// updates only score, reason, comment, and updated_at if one does. The
// single upsert statement keeps question/context/answer immutable and makes
// a repeated rating for the same trace ID overwrite rather than duplicate.
func (s *Store) RecordExample(e FeedbackExample) error {
	now := time.Now().UTC()
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.Exec(`
		INSERT INTO feedback_examples (trace_id, question, context, model_answer, score, reason, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id) DO UPDATE SET
			score = excluded.score,
			reason = excluded.reason,
			comment = excluded.comment,
			updated_at = excluded.updated_at`,
		e.TraceID, e.Question, strings.Join(e.Context, contextSeparator), e.ModelAnswer,
		nullableScore(e.Score), e.Reason, e.Comment,
		createdAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording example %s: %w", e.TraceID, err)
	}
	return nil
}

// GetExample returns the ledger row for the given trace ID.
func (s *Store) GetExample(traceID string) (FeedbackExample, error) {
	row := s.db.QueryRow(`
		SELECT trace_id, question, context, model_answer, score, reason, comment, created_at, updated_at
		FROM feedback_examples WHERE trace_id = ?`, traceID)
	e, err := scanExample(row)
	if err == sql.ErrNoRows {
		return FeedbackExample{}, ErrNotFound
	}
	return e, err
}

// UpdateFeedback sets the user's rating on an existing ledger row. The row
// must already exist (created at answer time); ErrNotFound otherwise.
func (s *Store) UpdateFeedback(traceID string, score int, reason, comment string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE feedback_examples SET score = ?, reason = ?, comment = ?, updated_at = ?
		WHERE trace_id = ?`,
		score, reason, comment, now, traceID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountFeedbackSince returns the number of ledger rows created strictly
// after the given watermark, or the total count if since is nil.
func (s *Store) CountFeedbackSince(since *time.Time) (int, error) {
	var count int
	var err error
	if since != nil {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM feedback_examples WHERE created_at > ?`,
			since.UTC().Format(time.RFC3339)).Scan(&count)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM feedback_examples`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting feedback: %w", err)
	}
	return count, nil
}

// SampleForTraining returns up to maxSamples examples biased toward
// answers that need improvement: floor(maxSamples*positiveRatio) most
// recent thumbs-up rows, the remainder most recent rows with any other
// score (thumbs-down and unrated alike).
func (s *Store) SampleForTraining(maxSamples int, positiveRatio float64) ([]FeedbackExample, error) {
	if maxSamples <= 0 {
		return nil, nil
	}
	numPositive := int(float64(maxSamples) * positiveRatio)
	numNonPositive := maxSamples - numPositive

	positives, err := s.queryExamples(`
		SELECT trace_id, question, context, model_answer, score, reason, comment, created_at, updated_at
		FROM feedback_examples WHERE score = 1
		ORDER BY created_at DESC LIMIT ?`, numPositive)
	if err != nil {
		return nil, fmt.Errorf("sampling positive examples: %w", err)
	}

	// "IS NOT 1" keeps NULL (unrated) rows in the pool.
	nonPositives, err := s.queryExamples(`
		SELECT trace_id, question, context, model_answer, score, reason, comment, created_at, updated_at
		FROM feedback_examples WHERE score IS NOT 1
		ORDER BY created_at DESC LIMIT ?`, numNonPositive)
	if err != nil {
		return nil, fmt.Errorf("sampling non-positive examples: %w", err)
	}

	return append(positives, nonPositives...), nil
}

// ListExamples returns the most recent ledger rows, newest first.
func (s *Store) ListExamples(limit int) ([]FeedbackExample, error) {
	return s.queryExamples(`
		SELECT trace_id, question, context, model_answer, score, reason, comment, created_at, updated_at
		FROM feedback_examples ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *Store) queryExamples(query string, args ...any) ([]FeedbackExample, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FeedbackExample
	for rows.Next() {
		e, err := scanExample(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExample(row rowScanner) (FeedbackExample, error) {
	var e FeedbackExample
	var context, createdAt, updatedAt string
	var score sql.NullInt64
	var reason, comment sql.NullString
	if err := row.Scan(&e.TraceID, &e.Question, &context, &e.ModelAnswer, &score, &reason, &comment, &createdAt, &updatedAt); err != nil {
		return FeedbackExample{}, err
	}
	if context != "" {
		e.Context = strings.Split(context, contextSeparator)
	}
	if score.Valid {
		v := int(score.Int64)
		e.Score = &v
	}
	e.Reason = reason.String
	e.Comment = comment.String

	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return FeedbackExample{}, fmt.Errorf("parsing created_at for %s: %w", e.TraceID, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return FeedbackExample{}, fmt.Errorf("parsing updated_at for %s: %w", e.TraceID, err)
	}
	return e, nil
}

func nullableScore(score *int) any {
	if score == nil {
		return nil
	}
	return *score
}

// --- Daily thumbs-down counter ---

// IncrementThumbsDown bumps today's negative-feedback count. The single
// upsert statement is atomic under concurrent callers: two simultaneous
// thumbs-down events both land, none lost.
func (s *Store) IncrementThumbsDown() error {
	today := time.Now().In(s.loc).Format(time.DateOnly)
	_, err := s.db.Exec(`
		INSERT INTO feedback_daily (date, thumbs_down_count) VALUES (?, 1)
		ON CONFLICT(date) DO UPDATE SET thumbs_down_count = thumbs_down_count + 1`,
		today,
	)
	if err != nil {
		return fmt.Errorf("incrementing thumbs-down counter: %w", err)
	}
	return nil
}

// TodayThumbsDown returns today's negative-feedback count, or 0 if no
// feedback has been recorded today.
func (s *Store) TodayThumbsDown() (int, error) {
	today := time.Now().In(s.loc).Format(time.DateOnly)
	var count int
	err := s.db.QueryRow(`SELECT thumbs_down_count FROM feedback_daily WHERE date = ?`, today).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading thumbs-down counter: %w", err)
	}
	return count, nil
}

// --- Optimizer run registry ---

// LastRunTime returns the completion time of the most recent optimization
// run, or nil if none has run yet.
func (s *Store) LastRunTime() (*time.Time, error) {
	var createdAt sql.NullString
	err := s.db.QueryRow(`SELECT MAX(created_at) FROM optimizer_runs`).Scan(&createdAt)
	if err != nil {
		return nil, fmt.Errorf("reading last run time: %w", err)
	}
	if !createdAt.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, createdAt.String)
	if err != nil {
		return nil, fmt.Errorf("parsing last run time: %w", err)
	}
	return &t, nil
}

// RecordRun appends a row to the run registry. The registry is append-only.
func (s *Store) RecordRun(lastFeedbackAt time.Time) error {
	_, err := s.db.Exec(`INSERT INTO optimizer_runs (created_at, last_feedback_at) VALUES (?, ?)`,
		time.Now().UTC().Format(time.RFC3339), lastFeedbackAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording optimizer run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent optimizer runs, newest first.
func (s *Store) ListRuns(limit int) ([]OptimizerRun, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, last_feedback_at FROM optimizer_runs
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []OptimizerRun
	for rows.Next() {
		var r OptimizerRun
		var createdAt, lastFeedbackAt string
		if err := rows.Scan(&r.ID, &createdAt, &lastFeedbackAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for run %d: %w", r.ID, err)
		}
		if r.LastFeedbackAt, err = time.Parse(time.RFC3339, lastFeedbackAt); err != nil {
			return nil, fmt.Errorf("parsing last_feedback_at for run %d: %w", r.ID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

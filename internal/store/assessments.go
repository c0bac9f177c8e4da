package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	getAssessmentQuery = `SELECT id, user_id, completed, created_at, completed_at
FROM assessments
WHERE id = $1`

	listAssessmentsQuery = `SELECT id, user_id, completed, created_at, completed_at
FROM assessments
WHERE user_id = $1
ORDER BY created_at DESC`

	listAnswersQuery = `SELECT a.id, a.assessment_id, a.question_id, q.question_text, a.answer_text
FROM assessment_answers a
JOIN questions q ON q.id = a.question_id
WHERE a.assessment_id = $1
ORDER BY q.question_order`

	completeAssessmentQuery = `UPDATE assessments
SET completed = true, completed_at = $2
WHERE id = $1`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (Assessment, error) {
	var (
		a           Assessment
		completedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Completed, &a.CreatedAt, &completedAt); err != nil {
		return Assessment{}, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return a, nil
}

// GetAssessment returns ErrNotFound for unknown ids.
func (s *Store) GetAssessment(ctx context.Context, id string) (Assessment, error) {
	a, err := scanAssessment(s.db.QueryRowContext(ctx, getAssessmentQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Assessment{}, fmt.Errorf("assessment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Assessment{}, fmt.Errorf("query assessment %s: %w", id, err)
	}
	return a, nil
}

// ListAssessments returns the user's assessments, newest first.
func (s *Store) ListAssessments(ctx context.Context, userID string) ([]Assessment, error) {
	rows, err := s.db.QueryContext(ctx, listAssessmentsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	var result []Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		result = append(result, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assessments: %w", err)
	}

	return result, nil
}

// ListAnswers returns the stored answers of an assessment in question order.
func (s *Store) ListAnswers(ctx context.Context, assessmentID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx, listAnswersQuery, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	var answers []Answer
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.ID, &a.AssessmentID, &a.QuestionID, &a.QuestionText, &a.AnswerText); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}

	return answers, nil
}

// CompleteAssessment sets the completion flag. It returns ErrNotFound when no row was updated.
func (s *Store) CompleteAssessment(ctx context.Context, id string, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, completeAssessmentQuery, id, completedAt)
	if err != nil {
		return fmt.Errorf("update assessment %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update assessment %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("assessment %s: %w", id, ErrNotFound)
	}

	s.logger.Debug("assessment marked completed", zap.String("assessment_id", id))
	return nil
}

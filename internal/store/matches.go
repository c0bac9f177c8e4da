package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	matchColumns = 5

	listMatchesQuery = `SELECT m.id, m.assessment_id, m.career_id, m.match_score, COALESCE(m.reasoning, ''), m.created_at,
	c.id, c.title, c.description, c.required_skills,
	COALESCE(c.education_level, ''), COALESCE(c.salary_range, ''),
	COALESCE(c.growth_outlook, ''), COALESCE(c.work_environment, '')
FROM career_matches m
JOIN careers c ON c.id = m.career_id
WHERE m.assessment_id = $1
ORDER BY m.match_score DESC, m.created_at`
)

// insertMatchesQuery renders one multi-row INSERT for n matches.
func insertMatchesQuery(n int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO career_matches (id, assessment_id, career_id, match_score, reasoning) VALUES ")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * matchColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
	}
	return b.String()
}

// InsertMatches writes all matches in a single statement, so either every row
// is stored or none is. An empty batch is a no-op.
func (s *Store) InsertMatches(ctx context.Context, matches []CareerMatch) error {
	if len(matches) == 0 {
		return nil
	}

	args := make([]any, 0, len(matches)*matchColumns)
	for _, m := range matches {
		args = append(args, m.ID, m.AssessmentID, m.CareerID, m.Score, m.Reasoning)
	}

	if _, err := s.db.ExecContext(ctx, insertMatchesQuery(len(matches)), args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			s.logger.Warn("insert career matches rejected",
				zap.String("pg_code", string(pqErr.Code)),
				zap.String("pg_constraint", pqErr.Constraint),
			)
		}
		return fmt.Errorf("insert career matches: %w", err)
	}

	return nil
}

// ListMatches returns stored matches of an assessment with their careers, best first.
func (s *Store) ListMatches(ctx context.Context, assessmentID string) ([]MatchResult, error) {
	rows, err := s.db.QueryContext(ctx, listMatchesQuery, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("query career matches: %w", err)
	}
	defer rows.Close()

	var results []MatchResult
	for rows.Next() {
		var r MatchResult
		if err := rows.Scan(
			&r.ID, &r.AssessmentID, &r.CareerID, &r.Score, &r.Reasoning, &r.CreatedAt,
			&r.Career.ID, &r.Career.Title, &r.Career.Description, pq.Array(&r.Career.RequiredSkills),
			&r.Career.EducationLevel, &r.Career.SalaryRange, &r.Career.GrowthOutlook, &r.Career.WorkEnvironment,
		); err != nil {
			return nil, fmt.Errorf("scan career match: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate career matches: %w", err)
	}

	return results, nil
}

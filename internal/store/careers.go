package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

const listCareersQuery = `SELECT id, title, description, required_skills,
	COALESCE(education_level, ''), COALESCE(salary_range, ''),
	COALESCE(growth_outlook, ''), COALESCE(work_environment, '')
FROM careers
ORDER BY title, id`

// ListCareers returns the full catalog in a stable order.
func (s *Store) ListCareers(ctx context.Context) ([]Career, error) {
	rows, err := s.db.QueryContext(ctx, listCareersQuery)
	if err != nil {
		return nil, fmt.Errorf("query careers: %w", err)
	}
	defer rows.Close()

	var careers []Career
	for rows.Next() {
		var c Career
		if err := rows.Scan(
			&c.ID, &c.Title, &c.Description, pq.Array(&c.RequiredSkills),
			&c.EducationLevel, &c.SalaryRange, &c.GrowthOutlook, &c.WorkEnvironment,
		); err != nil {
			return nil, fmt.Errorf("scan career: %w", err)
		}
		careers = append(careers, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate careers: %w", err)
	}

	return careers, nil
}

package store

import "time"

type Assessment struct {
	ID          string
	UserID      string
	Completed   bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Answer is a stored answer together with the text of its question.
type Answer struct {
	ID           string
	AssessmentID string
	QuestionID   string
	QuestionText string
	AnswerText   string
}

type Career struct {
	ID              string
	Title           string
	Description     string
	RequiredSkills  []string
	EducationLevel  string
	SalaryRange     string
	GrowthOutlook   string
	WorkEnvironment string
}

// CareerMatch is one scored career for one assessment.
type CareerMatch struct {
	ID           string
	AssessmentID string
	CareerID     string
	Score        int
	Reasoning    string
	CreatedAt    time.Time
}

// MatchResult is a stored match joined with its career, as shown on a results page.
type MatchResult struct {
	CareerMatch
	Career Career
}

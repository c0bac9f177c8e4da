package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spigell/career-matcher/internal/logger"
	"github.com/spigell/career-matcher/internal/matching"
	"github.com/spigell/career-matcher/internal/store"

	"go.uber.org/zap"
)

const (
	msgRateLimited     = "Rate limit exceeded. Please try again later."
	msgPaymentRequired = "Payment required. Please add credits to continue."
	msgRunInProgress   = "Career matching is already running for this assessment."
	msgMatchFailed     = "Failed to complete career matching."
	msgInvalidBody     = "Invalid request body."
	msgUnauthorized    = "Unauthorized."
	msgNotFound        = "Assessment not found."
	msgInternal        = "Internal server error."
	msgCompleteFailed  = "Failed to complete assessment."
)

type matchRequest struct {
	AssessmentID string          `json:"assessmentId"`
	Answers      []answerRequest `json:"answers"`
}

type answerRequest struct {
	QuestionID string `json:"questionId"`
	AnswerText string `json:"answerText"`
}

type matchResponse struct {
	Success bool `json:"success"`
	Matches int  `json:"matches"`
}

type errorResponse struct {
	Error string `json:"error"`
	// Kind is set only when the caller can act on it.
	Kind string `json:"kind,omitempty"`
}

type assessmentResponse struct {
	ID          string     `json:"id"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type careerResponse struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	RequiredSkills  []string `json:"requiredSkills"`
	EducationLevel  string   `json:"educationLevel,omitempty"`
	SalaryRange     string   `json:"salaryRange,omitempty"`
	GrowthOutlook   string   `json:"growthOutlook,omitempty"`
	WorkEnvironment string   `json:"workEnvironment,omitempty"`
}

type matchResultResponse struct {
	ID         string         `json:"id"`
	MatchScore int            `json:"matchScore"`
	Reasoning  string         `json:"reasoning"`
	Career     careerResponse `json:"career"`
}

// statusFor maps a failure kind to the response contract. Only quota and
// billing failures get their own wording.
func statusFor(kind matching.Kind) (int, string) {
	switch kind {
	case matching.KindRateLimited:
		return http.StatusTooManyRequests, msgRateLimited
	case matching.KindPaymentRequired:
		return http.StatusPaymentRequired, msgPaymentRequired
	case matching.KindRunInProgress:
		return http.StatusConflict, msgRunInProgress
	case matching.KindInvalidRequest:
		return http.StatusBadRequest, msgInvalidBody
	default:
		return http.StatusInternalServerError, msgMatchFailed
	}
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	log := s.loggerFrom(r.Context())

	userID, err := s.auth.Authenticate(r)
	if err != nil {
		writeError(w, log, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	var req matchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		log.Debug("decode match request", zap.Error(err))
		writeError(w, log, http.StatusBadRequest, msgInvalidBody)
		return
	}

	req.AssessmentID = strings.TrimSpace(req.AssessmentID)
	if req.AssessmentID == "" {
		writeError(w, log, http.StatusBadRequest, "assessmentId is required.")
		return
	}

	answers := make([]matching.Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		if strings.TrimSpace(a.AnswerText) == "" {
			writeError(w, log, http.StatusBadRequest, "answerText must not be empty.")
			return
		}
		answers = append(answers, matching.Answer{QuestionID: a.QuestionID, AnswerText: a.AnswerText})
	}

	log = log.With(zap.String(logger.FieldAssessmentID, req.AssessmentID))

	if rc, ok := s.matcher.(readyChecker); ok {
		if err := rc.Ready(); err != nil {
			log.Error("career matching unavailable",
				zap.String(logger.FieldKind, string(matching.KindMisconfiguredClient)),
				zap.Error(err),
			)
			writeError(w, log, http.StatusInternalServerError, msgMatchFailed)
			return
		}
	}

	if !s.authorize(r.Context(), w, log, userID, req.AssessmentID) {
		return
	}

	// A disconnecting client must not abort scoring or a half-done write.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.PipelineTimeout)
	defer cancel()

	result, err := s.matcher.Run(ctx, matching.Request{AssessmentID: req.AssessmentID, Answers: answers})
	if err != nil {
		kind := matching.KindOf(err)
		fields := []zap.Field{zap.String(logger.FieldKind, string(kind)), zap.Error(err)}
		var runErr *matching.Error
		if errors.As(err, &runErr) {
			fields = append(fields, zap.String(logger.FieldStage, runErr.Step), zap.Int("written", runErr.Written))
		}
		log.Error("career matching failed", fields...)

		status, msg := statusFor(kind)
		body := errorResponse{Error: msg}
		// Matches are stored; the caller only has to retry the completion.
		if kind == matching.KindPartialPersistFailure {
			body.Kind = string(kind)
		}
		writeJSON(w, log, status, body)
		return
	}

	writeJSON(w, log, http.StatusOK, matchResponse{Success: true, Matches: result.Matches})
}

func (s *Server) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	log := s.loggerFrom(r.Context())

	userID, err := s.auth.Authenticate(r)
	if err != nil {
		writeError(w, log, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	list, err := s.store.ListAssessments(r.Context(), userID)
	if err != nil {
		log.Error("listing assessments", zap.Error(err))
		writeError(w, log, http.StatusInternalServerError, msgInternal)
		return
	}

	out := make([]assessmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, assessmentResponse{
			ID:          a.ID,
			Completed:   a.Completed,
			CreatedAt:   a.CreatedAt,
			CompletedAt: a.CompletedAt,
		})
	}

	writeJSON(w, log, http.StatusOK, out)
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	log := s.loggerFrom(r.Context())
	id := r.PathValue("id")

	userID, err := s.auth.Authenticate(r)
	if err != nil {
		writeError(w, log, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	log = log.With(zap.String(logger.FieldAssessmentID, id))
	if !s.authorize(r.Context(), w, log, userID, id) {
		return
	}

	results, err := s.store.ListMatches(r.Context(), id)
	if err != nil {
		log.Error("listing career matches", zap.Error(err))
		writeError(w, log, http.StatusInternalServerError, msgInternal)
		return
	}

	out := make([]matchResultResponse, 0, len(results))
	for _, m := range results {
		skills := m.Career.RequiredSkills
		if skills == nil {
			skills = []string{}
		}
		out = append(out, matchResultResponse{
			ID:         m.ID,
			MatchScore: m.Score,
			Reasoning:  m.Reasoning,
			Career: careerResponse{
				ID:              m.Career.ID,
				Title:           m.Career.Title,
				Description:     m.Career.Description,
				RequiredSkills:  skills,
				EducationLevel:  m.Career.EducationLevel,
				SalaryRange:     m.Career.SalaryRange,
				GrowthOutlook:   m.Career.GrowthOutlook,
				WorkEnvironment: m.Career.WorkEnvironment,
			},
		})
	}

	writeJSON(w, log, http.StatusOK, out)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	log := s.loggerFrom(r.Context())
	id := r.PathValue("id")

	userID, err := s.auth.Authenticate(r)
	if err != nil {
		writeError(w, log, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	log = log.With(zap.String(logger.FieldAssessmentID, id))
	if !s.authorize(r.Context(), w, log, userID, id) {
		return
	}

	if err := s.completer.Complete(context.WithoutCancel(r.Context()), id); err != nil {
		log.Error("completing assessment", zap.Error(err))
		writeError(w, log, http.StatusInternalServerError, msgCompleteFailed)
		return
	}

	log.Info("assessment completed by retry")
	writeJSON(w, log, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.loggerFrom(r.Context()), http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := s.loggerFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, log, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	writeJSON(w, log, http.StatusOK, map[string]string{"status": "ready"})
}

// authorize writes the error response itself and reports whether the caller owns the assessment.
// Foreign assessments look the same as missing ones.
func (s *Server) authorize(ctx context.Context, w http.ResponseWriter, log *zap.Logger, userID, assessmentID string) bool {
	a, err := s.store.GetAssessment(ctx, assessmentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, log, http.StatusNotFound, msgNotFound)
		return false
	case err != nil:
		log.Error("loading assessment", zap.Error(err))
		writeError(w, log, http.StatusInternalServerError, msgInternal)
		return false
	case a.UserID != userID:
		log.Warn("assessment owned by another user", zap.String("user_id", userID))
		writeError(w, log, http.StatusNotFound, msgNotFound)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// The client is usually gone by now.
		log.Debug("writing response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, status int, msg string) {
	writeJSON(w, log, status, errorResponse{Error: msg})
}

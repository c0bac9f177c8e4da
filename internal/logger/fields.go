package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the scoring provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the scoring model identifier.
	FieldModel = "ai_model"
	// FieldAssessmentID identifies the assessment a log entry belongs to.
	FieldAssessmentID = "assessment_id"
	// FieldStage names the pipeline stage. The message key is already "step".
	FieldStage = "stage"
	// FieldKind carries the failure classification of a matching run.
	FieldKind = "kind"
	// FieldRequestID correlates entries of one HTTP request.
	FieldRequestID = "request_id"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// A nil logger is replaced with a no-op one.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// CommonFields returns fields that describe the scoring provider and model.
// Empty values are ignored to keep log entries compact when information is missing.
func CommonFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// WithCommonFields attaches the provider and model fields to the provided logger.
func WithCommonFields(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, CommonFields(provider, model)...)
}

// RunFields returns fields that tie an entry to one matching run.
func RunFields(assessmentID, stage string) []zap.Field {
	return StringFields(
		StringField{Key: FieldAssessmentID, Value: assessmentID},
		StringField{Key: FieldStage, Value: stage},
	)
}

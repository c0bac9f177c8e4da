package cmd

import (
	"context"
	"errors"
	"log"

	"github.com/spigell/career-matcher/internal/logger"
	"github.com/spigell/career-matcher/internal/matching"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Run career matching for a stored assessment using its stored answers",
	Run: func(cmd *cobra.Command, _ []string) {
		match(cmd)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("assessment-id", "", "assessment to match (required)")
	matchCmd.MarkFlagRequired("assessment-id")
}

func match(cmd *cobra.Command) {
	assessmentID, _ := cmd.Flags().GetString("assessment-id")

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"), zap.String("version", version))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), config.Pipeline.Timeout)
	defer cancel()

	c, err := buildComponents(ctx, config, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Fatal("building components", zap.Error(err))
	}
	defer c.Close()

	logger = logger.With(zap.String("assessment_id", assessmentID))

	if _, err := c.store.GetAssessment(ctx, assessmentID); err != nil {
		logger.Fatal("loading assessment", zap.Error(err))
	}

	stored, err := c.store.ListAnswers(ctx, assessmentID)
	if err != nil {
		logger.Fatal("loading answers", zap.Error(err))
	}

	answers := make([]matching.Answer, 0, len(stored))
	for _, a := range stored {
		answers = append(answers, matching.Answer{QuestionID: a.QuestionID, AnswerText: a.AnswerText})
	}

	logger.Info("loaded answers", zap.Int("count", len(answers)))

	result, err := c.pipeline.Run(ctx, matching.Request{AssessmentID: assessmentID, Answers: answers})
	if err != nil {
		var runErr *matching.Error
		if errors.As(err, &runErr) && runErr.Kind == matching.KindPartialPersistFailure {
			logger.Fatal("matches stored but assessment is not completed",
				zap.Int("written", runErr.Written),
				zap.String("hint", "run the complete command for this assessment"),
			)
		}
		logger.Fatal("career matching failed", zap.String("kind", string(matching.KindOf(err))), zap.Error(err))
	}

	for _, m := range result.Tuples {
		logger.Info("career match",
			zap.Int("career_index", m.CareerIndex),
			zap.Float64("score", m.Score),
			zap.String("reasoning", m.Reasoning),
		)
	}

	logger.Info("career matching finished", zap.Int("matches", result.Matches))
}

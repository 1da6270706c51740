package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/penalty"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// BatchOptions selects what the recompute pass touches.
type BatchOptions struct {
	AssessmentID             *uint
	QuestionID               *uint
	DryRun                   bool
	ApplyPenalty             bool
	ApplyAssessmentPenalties bool
}

// FieldChange is one column whose recomputed value differs from the stored one.
type FieldChange struct {
	Field string      `json:"field"`
	Old   interface{} `json:"old"`
	New   interface{} `json:"new"`
}

// BatchRowOutcome describes what happened to one assessment submission.
type BatchRowOutcome struct {
	SubmissionID uint          `json:"submission_id"`
	UserID       uint          `json:"user_id"`
	AssessmentID uint          `json:"assessment_id"`
	QuestionID   uint          `json:"question_id"`
	Changes      []FieldChange `json:"changes"`
	Written      bool          `json:"written"`
	Error        string        `json:"error,omitempty"`
}

// SessionOutcome describes what happened to one assessment session.
type SessionOutcome struct {
	SessionID    uint          `json:"session_id"`
	UserID       uint          `json:"user_id"`
	AssessmentID uint          `json:"assessment_id"`
	Changes      []FieldChange `json:"changes"`
	Written      bool          `json:"written"`
	Error        string        `json:"error,omitempty"`
}

// BatchReport summarises a recompute run. Updated counts changed rows, including dry-run ones.
type BatchReport struct {
	Checked  int               `json:"checked"`
	Updated  int               `json:"updated"`
	Rows     []BatchRowOutcome `json:"rows"`
	Sessions []SessionOutcome  `json:"sessions"`
}

// RecomputeService reconciles stored similarity, scores and session penalties.
type RecomputeService interface {
	Run(ctx context.Context, opts BatchOptions) (BatchReport, error)
}

type recomputeService struct {
	submissions repository.SubmissionRepository
	questions   repository.QuestionRepository
	assessments repository.AssessmentRepository
	similarity  SimilarityScorer
	decay       penalty.Decay
	logger      zerolog.Logger
}

// NewRecomputeService constructs the batch driver.
func NewRecomputeService(
	submissions repository.SubmissionRepository,
	questions repository.QuestionRepository,
	assessments repository.AssessmentRepository,
	scorer SimilarityScorer,
	decay penalty.Decay,
	logger zerolog.Logger,
) RecomputeService {
	return &recomputeService{
		submissions: submissions,
		questions:   questions,
		assessments: assessments,
		similarity:  scorer,
		decay:       decay,
		logger:      logger.With().Str("component", "recompute_service").Logger(),
	}
}

type groupKey struct {
	assessmentID uint
	questionID   uint
}

// run carries the per-invocation state of a batch.
type run struct {
	opts        BatchOptions
	report      BatchReport
	writeErrors []error
	assessments map[uint]bool
	questions   map[uint]bool
	// recomputed values by submission id, so the session pass sees dry-run results too
	overlay map[uint]models.AssessmentSubmission
}

func (s *recomputeService) Run(ctx context.Context, opts BatchOptions) (BatchReport, error) {
	tracer := otel.Tracer("github.com/noah-isme/gema-grader/internal/service/recompute")
	ctx, span := tracer.Start(ctx, "recompute.run")
	span.SetAttributes(
		attribute.Bool("recompute.dry_run", opts.DryRun),
		attribute.Bool("recompute.apply_penalty", opts.ApplyPenalty),
		attribute.Bool("recompute.apply_assessment_penalties", opts.ApplyAssessmentPenalties),
	)
	defer span.End()

	state := &run{
		opts:        opts,
		report:      BatchReport{Rows: []BatchRowOutcome{}, Sessions: []SessionOutcome{}},
		assessments: make(map[uint]bool),
		questions:   make(map[uint]bool),
		overlay:     make(map[uint]models.AssessmentSubmission),
	}

	if err := s.recomputeSubmissions(ctx, state); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recompute_submissions_failed")
		return state.report, err
	}

	if opts.ApplyAssessmentPenalties {
		if err := s.recomputeSessions(ctx, state); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "recompute_sessions_failed")
			return state.report, err
		}
	}

	span.SetAttributes(
		attribute.Int("recompute.checked", state.report.Checked),
		attribute.Int("recompute.updated", state.report.Updated),
	)

	if len(state.writeErrors) > 0 {
		err := fmt.Errorf("recompute: %d write(s) failed: %w", len(state.writeErrors), errors.Join(state.writeErrors...))
		span.RecordError(err)
		span.SetStatus(codes.Error, "write_failed")
		return state.report, err
	}
	return state.report, nil
}

func (s *recomputeService) recomputeSubmissions(ctx context.Context, state *run) error {
	rows, err := s.submissions.ListAssessment(ctx, repository.AssessmentSubmissionFilter{
		AssessmentID: state.opts.AssessmentID,
		QuestionID:   state.opts.QuestionID,
	})
	if err != nil {
		return fmt.Errorf("list assessment submissions: %w", err)
	}

	order := make([]groupKey, 0)
	groups := make(map[groupKey][]models.AssessmentSubmission)
	for _, row := range rows {
		key := groupKey{assessmentID: row.AssessmentID, questionID: row.QuestionID}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	for _, key := range order {
		ok, err := s.assessmentExists(ctx, state, key.assessmentID)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Warn().Uint("assessment_id", key.assessmentID).Msg("assessment missing; skipping submissions")
			s.logSkipped(groups[key], "assessment missing")
			continue
		}

		ok, err = s.questionExists(ctx, state, key.questionID)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Warn().Uint("assessment_id", key.assessmentID).Uint("question_id", key.questionID).Msg("question missing; skipping submissions")
			s.logSkipped(groups[key], "question missing")
			continue
		}

		s.recomputeGroup(ctx, state, groups[key])
	}
	return nil
}

func (s *recomputeService) logSkipped(rows []models.AssessmentSubmission, reason string) {
	for _, row := range rows {
		s.logger.Debug().
			Uint("submission_id", row.ID).
			Uint("user_id", row.UserID).
			Uint("assessment_id", row.AssessmentID).
			Uint("question_id", row.QuestionID).
			Str("reason", reason).
			Msg("submission skipped")
	}
	observability.RecomputeRows().WithLabelValues("submission", "skipped").Add(float64(len(rows)))
}

func (s *recomputeService) recomputeGroup(ctx context.Context, state *run, group []models.AssessmentSubmission) {
	for _, row := range group {
		peers := make([]string, 0, len(group)-1)
		for _, other := range group {
			if other.ID == row.ID || other.UserID == row.UserID {
				continue
			}
			peers = append(peers, other.Source)
		}

		signals := s.similarity.Score(ctx, row.Source, peers)

		updated := row
		updated.PlagiarismPercent = signals.PlagPercent
		updated.TokenSimilarity = signals.TokenSimilarity
		updated.StructuralSimilarity = signals.StructuralSimilarity
		if state.opts.ApplyPenalty {
			updated.Score = s.decay.Apply(inferRawScore(row), signals.PlagPercent)
		}

		changes := make([]FieldChange, 0)
		fields := make(map[string]interface{})
		diffFloat(&changes, fields, "plagiarism_percent", row.PlagiarismPercent, updated.PlagiarismPercent)
		diffFloat(&changes, fields, "token_similarity", row.TokenSimilarity, updated.TokenSimilarity)
		diffFloat(&changes, fields, "structural_similarity", row.StructuralSimilarity, updated.StructuralSimilarity)
		if state.opts.ApplyPenalty {
			diffFloat(&changes, fields, "score", row.Score, updated.Score)
		}

		outcome := BatchRowOutcome{
			SubmissionID: row.ID,
			UserID:       row.UserID,
			AssessmentID: row.AssessmentID,
			QuestionID:   row.QuestionID,
			Changes:      changes,
		}
		state.report.Checked++
		state.overlay[row.ID] = updated

		if len(changes) == 0 {
			s.logger.Debug().
				Uint("submission_id", row.ID).
				Uint("user_id", row.UserID).
				Uint("question_id", row.QuestionID).
				Int("peers", len(peers)).
				Float64("plagiarism_percent", updated.PlagiarismPercent).
				Msg("submission unchanged")
			observability.RecomputeRows().WithLabelValues("submission", "unchanged").Inc()
			continue
		}
		s.logger.Debug().
			Uint("submission_id", row.ID).
			Uint("user_id", row.UserID).
			Uint("question_id", row.QuestionID).
			Int("peers", len(peers)).
			Int("changes", len(changes)).
			Bool("dry_run", state.opts.DryRun).
			Msg("submission changed")

		if !state.opts.DryRun {
			if err := s.submissions.UpdateAssessmentFields(ctx, row.ID, fields); err != nil {
				s.logger.Error().Err(err).Uint("submission_id", row.ID).Msg("failed to update assessment submission")
				outcome.Error = err.Error()
				state.writeErrors = append(state.writeErrors, fmt.Errorf("submission %d: %w", row.ID, err))
				state.report.Rows = append(state.report.Rows, outcome)
				observability.RecomputeRows().WithLabelValues("submission", "failed").Inc()
				continue
			}
			outcome.Written = true
		}

		state.report.Updated++
		state.report.Rows = append(state.report.Rows, outcome)
		observability.RecomputeRows().WithLabelValues("submission", "updated").Inc()
	}
}

func (s *recomputeService) recomputeSessions(ctx context.Context, state *run) error {
	var assessmentIDs []uint
	if state.opts.AssessmentID != nil {
		assessmentIDs = []uint{*state.opts.AssessmentID}
	} else {
		ids, err := s.assessments.ListIDs(ctx)
		if err != nil {
			return fmt.Errorf("list assessments: %w", err)
		}
		assessmentIDs = ids
	}

	for _, assessmentID := range assessmentIDs {
		ok, err := s.assessmentExists(ctx, state, assessmentID)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Warn().Uint("assessment_id", assessmentID).Msg("assessment missing; skipping session penalties")
			continue
		}
		if err := s.recomputeAssessmentSessions(ctx, state, assessmentID); err != nil {
			return err
		}
	}
	return nil
}

func (s *recomputeService) recomputeAssessmentSessions(ctx context.Context, state *run, assessmentID uint) error {
	id := assessmentID
	rows, err := s.submissions.ListAssessment(ctx, repository.AssessmentSubmissionFilter{AssessmentID: &id})
	if err != nil {
		return fmt.Errorf("list submissions of assessment %d: %w", assessmentID, err)
	}
	sessions, err := s.assessments.ListSessions(ctx, assessmentID)
	if err != nil {
		return fmt.Errorf("list sessions of assessment %d: %w", assessmentID, err)
	}

	byUser := make(map[uint][]models.AssessmentSubmission)
	users := make([]uint, 0)
	for _, row := range rows {
		if recomputed, ok := state.overlay[row.ID]; ok {
			row = recomputed
		}
		if _, ok := byUser[row.UserID]; !ok {
			users = append(users, row.UserID)
		}
		byUser[row.UserID] = append(byUser[row.UserID], row)
	}

	sessionByUser := make(map[uint]models.AssessmentSession, len(sessions))
	for _, session := range sessions {
		sessionByUser[session.UserID] = session
		if _, ok := byUser[session.UserID]; !ok {
			byUser[session.UserID] = nil
			users = append(users, session.UserID)
		}
	}

	for _, userID := range users {
		session, ok := sessionByUser[userID]
		if !ok {
			s.logger.Warn().Uint("assessment_id", assessmentID).Uint("user_id", userID).Msg("session missing; skipping penalty")
			observability.RecomputeRows().WithLabelValues("session", "skipped").Inc()
			continue
		}

		quiz, err := s.assessments.BestQuizScore(ctx, userID, assessmentID)
		if err != nil {
			return fmt.Errorf("best quiz score for user %d: %w", userID, err)
		}

		s.applySessionPenalty(ctx, state, session, byUser[userID], quiz)
	}
	return nil
}

func (s *recomputeService) applySessionPenalty(ctx context.Context, state *run, session models.AssessmentSession, rows []models.AssessmentSubmission, quiz float64) {
	maxPercent := 0.0
	perQuestion := make(map[uint]float64)
	for _, row := range rows {
		if row.PlagiarismPercent > maxPercent {
			maxPercent = row.PlagiarismPercent
		}
		raw := inferRawScore(row)
		if raw > perQuestion[row.QuestionID] {
			perQuestion[row.QuestionID] = raw
		}
	}

	rawTotal := quiz
	for _, raw := range perQuestion {
		rawTotal += raw
	}
	rawTotal = penalty.Round(rawTotal, 2)

	factor := s.decay.Factor(maxPercent)
	penalized := penalty.Round(rawTotal*factor, 2)
	percent := penalty.Round(maxPercent, 2)
	applied := s.decay.Applied(maxPercent)

	changes := make([]FieldChange, 0)
	fields := make(map[string]interface{})
	diffFloat(&changes, fields, "raw_total", session.RawTotal, rawTotal)
	diffFloat(&changes, fields, "penalized_total", session.PenalizedTotal, penalized)
	diffFloat(&changes, fields, "penalty_percent", session.PenaltyPercent, percent)
	diffFloat(&changes, fields, "penalty_factor", session.PenaltyFactor, factor)
	if session.PenaltyApplied != applied {
		changes = append(changes, FieldChange{Field: "penalty_applied", Old: session.PenaltyApplied, New: applied})
		fields["penalty_applied"] = applied
	}

	outcome := SessionOutcome{
		SessionID:    session.ID,
		UserID:       session.UserID,
		AssessmentID: session.AssessmentID,
		Changes:      changes,
	}
	state.report.Checked++

	if len(changes) == 0 {
		s.logger.Debug().
			Uint("session_id", session.ID).
			Uint("user_id", session.UserID).
			Uint("assessment_id", session.AssessmentID).
			Float64("penalized_total", penalized).
			Msg("session unchanged")
		observability.RecomputeRows().WithLabelValues("session", "unchanged").Inc()
		return
	}
	s.logger.Debug().
		Uint("session_id", session.ID).
		Uint("user_id", session.UserID).
		Uint("assessment_id", session.AssessmentID).
		Int("changes", len(changes)).
		Bool("dry_run", state.opts.DryRun).
		Msg("session changed")

	if !state.opts.DryRun {
		if err := s.assessments.UpdateSessionFields(ctx, session.ID, fields); err != nil {
			s.logger.Error().Err(err).Uint("session_id", session.ID).Msg("failed to update assessment session")
			outcome.Error = err.Error()
			state.writeErrors = append(state.writeErrors, fmt.Errorf("session %d: %w", session.ID, err))
			state.report.Sessions = append(state.report.Sessions, outcome)
			observability.RecomputeRows().WithLabelValues("session", "failed").Inc()
			return
		}
		outcome.Written = true
	}

	state.report.Updated++
	state.report.Sessions = append(state.report.Sessions, outcome)
	observability.RecomputeRows().WithLabelValues("session", "updated").Inc()
}

func (s *recomputeService) assessmentExists(ctx context.Context, state *run, id uint) (bool, error) {
	if exists, ok := state.assessments[id]; ok {
		return exists, nil
	}
	_, err := s.assessments.GetByID(ctx, id)
	switch {
	case err == nil:
		state.assessments[id] = true
	case errors.Is(err, gorm.ErrRecordNotFound):
		state.assessments[id] = false
	default:
		return false, fmt.Errorf("load assessment %d: %w", id, err)
	}
	return state.assessments[id], nil
}

func (s *recomputeService) questionExists(ctx context.Context, state *run, id uint) (bool, error) {
	if exists, ok := state.questions[id]; ok {
		return exists, nil
	}
	_, err := s.questions.GetByID(ctx, id)
	switch {
	case err == nil:
		state.questions[id] = true
	case errors.Is(err, gorm.ErrRecordNotFound):
		state.questions[id] = false
	default:
		return false, fmt.Errorf("load question %d: %w", id, err)
	}
	return state.questions[id], nil
}

// inferRawScore uses the stored raw score, else full marks for an all-accepted submission, else zero.
func inferRawScore(row models.AssessmentSubmission) float64 {
	if row.RawScore != nil {
		return *row.RawScore
	}
	verdicts, err := row.DecodedVerdicts()
	if err != nil || len(verdicts) == 0 {
		if row.Status == models.SubmissionStatusAccepted {
			return models.DefaultQuestionMarks
		}
		return 0
	}
	if models.AllAccepted(verdicts) {
		return models.DefaultQuestionMarks
	}
	return 0
}

func diffFloat(changes *[]FieldChange, fields map[string]interface{}, field string, old, updated float64) {
	if old == updated {
		return
	}
	*changes = append(*changes, FieldChange{Field: field, Old: old, New: updated})
	fields[field] = updated
}

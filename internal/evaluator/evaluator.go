// Package evaluator scores a finished practice conversation and records the
// result. The attempt row, the progress changes it causes and their events
// commit in one transaction or not at all.
package evaluator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"datecoach/internal/campaign"
	"datecoach/internal/domain"
	"datecoach/internal/events"
	"datecoach/internal/llm"
	"datecoach/internal/logger"
	"datecoach/internal/metrics"
	"datecoach/internal/progress"
	"datecoach/internal/repo"
)

var (
	// ErrNotFound means the conversation is missing, empty or not owned by the user.
	ErrNotFound = errors.New("conversation not found")
	// ErrScoringUnavailable means the scoring call failed or timed out.
	ErrScoringUnavailable = errors.New("scoring unavailable")
	// ErrPersistence means the attempt could not be stored. Nothing was written.
	ErrPersistence = errors.New("persistence failure")
)

// TranscriptSource loads the ordered transcript of a user's conversation.
type TranscriptSource interface {
	LoadTranscript(ctx context.Context, userID, conversationID string) ([]domain.TranscriptLine, error)
}

// PromptSource returns the scoring system prompt.
type PromptSource interface {
	ScoringSystemPrompt(ctx context.Context) (string, error)
}

type Options struct {
	MaxTokens    int
	Temperature  float64
	ScoreTimeout time.Duration
	// PersistTimeout bounds transcript loading and the commit.
	PersistTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxTokens:      512,
		Temperature:    0.2,
		ScoreTimeout:   90 * time.Second,
		PersistTimeout: 30 * time.Second,
	}
}

type Evaluator struct {
	DB          *sql.DB
	Repo        repo.Repo
	Progress    *progress.Service
	Transcripts TranscriptSource
	Prompts     PromptSource
	Scorer      llm.Provider
	Events      events.Writer
	Log         *logger.Logger
	Opts        Options
	Now         func() time.Time
	NewID       func() string

	group singleflight.Group
}

func New(db *sql.DB, progressSvc *progress.Service, transcripts TranscriptSource, prompts PromptSource, scorer llm.Provider, log *logger.Logger) *Evaluator {
	if log == nil {
		log = logger.Nop()
	}
	return &Evaluator{
		DB:          db,
		Repo:        repo.Repo{DB: db},
		Progress:    progressSvc,
		Transcripts: transcripts,
		Prompts:     prompts,
		Scorer:      scorer,
		Events:      events.Writer{Now: time.Now},
		Log:         log,
		Opts:        DefaultOptions(),
		Now:         time.Now,
		NewID:       uuid.NewString,
	}
}

type Request struct {
	UserID         string
	ConversationID string
	Track          domain.Track
	Level          domain.Level
}

func (r Request) key() string {
	return fmt.Sprintf("%s|%s|%s|%d", r.UserID, r.ConversationID, r.Track, r.Level)
}

type Result struct {
	AttemptID string
	Outcome   domain.Outcome
	Feedback  domain.Feedback
	Unlocked  []domain.Unlock
}

func (e *Evaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Evaluate scores one conversation. Identical concurrent requests share a
// single run. The run itself is detached from ctx: if the caller goes away
// Evaluate returns ctx.Err() while scoring and the commit carry on, bounded
// by their own timeouts.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	detached := context.WithoutCancel(ctx)
	ch := e.group.DoChan(req.key(), func() (any, error) {
		return e.evaluate(detached, req)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		res := r.Val.(Result)
		res.Unlocked = append([]domain.Unlock{}, res.Unlocked...)
		return res, nil
	}
}

func (e *Evaluator) evaluate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	log := e.Log.With("user_id", req.UserID, "conversation_id", req.ConversationID, "submode_id", req.Track, "difficulty_level", req.Level)
	log.Info("evaluation started")

	lines, err := e.loadTranscript(ctx, req)
	if err != nil {
		return Result{}, err
	}

	system, err := e.Prompts.ScoringSystemPrompt(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load scoring prompt: %w", err)
	}

	scoreCtx, cancel := context.WithTimeout(ctx, e.Opts.ScoreTimeout)
	resp, err := e.Scorer.Generate(scoreCtx, llm.Request{
		System:      system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: RenderUserMessage(req.Track, req.Level, lines)}},
		MaxTokens:   e.Opts.MaxTokens,
		Temperature: e.Opts.Temperature,
	})
	cancel()
	if err != nil {
		metrics.RecordScoringFailure()
		log.Warn("scoring failed", "error", err.Error(), "rate_limited", llm.IsRateLimit(err))
		return Result{}, fmt.Errorf("%w: %w", ErrScoringUnavailable, err)
	}

	outcome, feedback, ok := ParseScoringResponse(resp.Text)
	if !ok {
		metrics.RecordParseFallback()
		log.Warn("unparseable scoring response recorded as fail", "raw", truncate(resp.Text, 200))
	}

	res, err := e.persist(ctx, req, outcome, feedback)
	if err != nil {
		log.Error("evaluation not persisted", "error", err.Error())
		return Result{}, err
	}

	metrics.RecordEvaluation(outcome.String(), time.Since(start), len(res.Unlocked))
	log.Info("evaluation finished", "status", outcome.String(), "attempt_id", res.AttemptID, "unlocked", res.Unlocked)
	return res, nil
}

func (e *Evaluator) loadTranscript(ctx context.Context, req Request) ([]domain.TranscriptLine, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Opts.PersistTimeout)
	defer cancel()
	lines, err := e.Transcripts.LoadTranscript(ctx, req.UserID, req.ConversationID)
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.ConversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %s has no messages", ErrNotFound, req.ConversationID)
	}
	return lines, nil
}

// persist writes the attempt and, on a pass, the progress changes.
func (e *Evaluator) persist(ctx context.Context, req Request, outcome domain.Outcome, feedback domain.Feedback) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Opts.PersistTimeout)
	defer cancel()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: begin: %w", ErrPersistence, err)
	}
	defer tx.Rollback()

	conversationID := req.ConversationID
	attempt := domain.Attempt{
		ID:             e.NewID(),
		UserID:         req.UserID,
		ConversationID: &conversationID,
		Track:          req.Track,
		Level:          req.Level,
		Outcome:        outcome,
		Feedback:       &feedback,
		CreatedAt:      e.now().UTC().Format(time.RFC3339Nano),
	}
	if err := e.Repo.InsertAttempt(ctx, tx, attempt); err != nil {
		return Result{}, fmt.Errorf("%w: insert attempt: %w", ErrPersistence, err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeAttemptRecorded, req.UserID, "attempt", attempt.ID, events.EventPayload{
		"conversation_id":  req.ConversationID,
		"submode_id":       req.Track,
		"difficulty_level": req.Level,
		"status":           outcome.String(),
	}); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	unlocked := []domain.Unlock{}
	if outcome == domain.OutcomePass {
		if err := e.Progress.MarkPassed(ctx, tx, req.UserID, req.Track, req.Level); err != nil {
			return Result{}, persistErr(err)
		}
		if unlocked, err = e.Progress.UnlockNext(ctx, tx, req.UserID, req.Track, req.Level); err != nil {
			return Result{}, persistErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}
	return Result{
		AttemptID: attempt.ID,
		Outcome:   outcome,
		Feedback:  feedback,
		Unlocked:  unlocked,
	}, nil
}

// persistErr keeps caller errors such as an invalid level as they are and
// marks everything else as a storage failure.
func persistErr(err error) error {
	if errors.Is(err, campaign.ErrInvalidLevel) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

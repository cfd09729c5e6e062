// Package progress owns the per-user unlock and pass state of the training
// campaign. Initialize commits on its own; MarkPassed and UnlockNext run in a
// transaction supplied by the caller.
package progress

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"datecoach/internal/campaign"
	"datecoach/internal/domain"
	"datecoach/internal/events"
	"datecoach/internal/logger"
	"datecoach/internal/repo"
)

type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Graph  campaign.Graph
	Events events.Writer
	Log    *logger.Logger
	Now    func() time.Time
}

func New(db *sql.DB, graph campaign.Graph, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Graph:  graph,
		Events: events.Writer{Now: time.Now},
		Log:    log,
		Now:    time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Initialize wipes the user's progress and unlocks the bootstrap set. Running
// it again produces the same end state.
func (s *Service) Initialize(ctx context.Context, userID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.Repo.DeleteProgress(ctx, tx, userID); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	at := s.now()
	bootstrap := s.Graph.Bootstrap()
	cells := make([]string, 0, len(bootstrap))
	for _, u := range bootstrap {
		if _, err := s.Repo.UnlockLevel(ctx, tx, userID, u.Track, u.Level, at); err != nil {
			return fmt.Errorf("unlock %s: %w", u, err)
		}
		cells = append(cells, u.String())
	}
	if err := s.Repo.MarkOnboarded(ctx, tx, userID, at); err != nil {
		return fmt.Errorf("mark onboarded: %w", err)
	}
	if err := s.Events.Append(ctx, tx, events.TypeProgressInitialized, userID, "progress", userID, events.EventPayload{"unlocked": cells}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.Log.Info("training progress initialized", "user_id", userID, "unlocked", cells)
	return nil
}

// Progress returns every track of the campaign with all three levels. Cells
// without a stored row are reported locked and not passed.
func (s *Service) Progress(ctx context.Context, userID string) (domain.ProgressSnapshot, error) {
	rows, err := s.Repo.ListProgress(ctx, nil, userID)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	onboarded, err := s.Repo.IsOnboarded(ctx, nil, userID)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	stored := make(map[domain.Unlock]domain.ProgressEntry, len(rows))
	for _, r := range rows {
		stored[domain.Unlock{Track: r.Track, Level: r.Level}] = r
	}
	tracks := s.Graph.Tracks()
	snap := domain.ProgressSnapshot{
		OnboardingComplete: onboarded,
		Tracks:             make([]domain.TrackProgress, 0, len(tracks)),
	}
	for _, t := range tracks {
		tp := domain.TrackProgress{Track: t, Levels: make([]domain.LevelState, 0, len(domain.Levels))}
		for _, l := range domain.Levels {
			st := domain.LevelState{Level: l}
			if e, ok := stored[domain.Unlock{Track: t, Level: l}]; ok {
				st.IsUnlocked = e.IsUnlocked
				st.Passed = e.Passed
				st.PassedAt = e.PassedAt
			}
			tp.Levels = append(tp.Levels, st)
		}
		snap.Tracks = append(snap.Tracks, tp)
	}
	return snap, nil
}

// MarkPassed records a pass of (track, level) inside tx. Passing an already
// passed cell refreshes passed_at.
func (s *Service) MarkPassed(ctx context.Context, tx *sql.Tx, userID string, track domain.Track, level domain.Level) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %d", campaign.ErrInvalidLevel, level)
	}
	cell := domain.Unlock{Track: track, Level: level}
	if err := s.Repo.MarkLevelPassed(ctx, tx, userID, track, level, s.now()); err != nil {
		return fmt.Errorf("mark %s passed: %w", cell, err)
	}
	return s.Events.Append(ctx, tx, events.TypeLevelPassed, userID, "progress", cell.String(), events.EventPayload{
		"submode_id":       track,
		"difficulty_level": level,
	})
}

// UnlockNext unlocks the cells that a pass of (track, level) opens and
// returns only the ones whose state changed. Passed cells are never reset.
func (s *Service) UnlockNext(ctx context.Context, tx *sql.Tx, userID string, track domain.Track, level domain.Level) ([]domain.Unlock, error) {
	targets, err := s.Graph.UnlockTargets(track, level)
	if err != nil {
		return nil, err
	}
	at := s.now()
	unlocked := []domain.Unlock{}
	for _, u := range targets {
		changed, err := s.Repo.UnlockLevel(ctx, tx, userID, u.Track, u.Level, at)
		if err != nil {
			return nil, fmt.Errorf("unlock %s: %w", u, err)
		}
		if !changed {
			continue
		}
		if err := s.Events.Append(ctx, tx, events.TypeLevelUnlocked, userID, "progress", u.String(), events.EventPayload{
			"submode_id":       u.Track,
			"difficulty_level": u.Level,
			"from":             domain.Unlock{Track: track, Level: level}.String(),
		}); err != nil {
			return nil, err
		}
		unlocked = append(unlocked, u)
	}
	return unlocked, nil
}

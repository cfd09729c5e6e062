package evaluator

import (
	"context"
	"errors"
	"fmt"

	"datecoach/internal/domain"
	"datecoach/internal/repo"
)

// History lists the user's attempts, newest first.
func (e *Evaluator) History(ctx context.Context, userID string) ([]domain.Attempt, error) {
	return e.Repo.ListAttempts(ctx, userID)
}

func (e *Evaluator) Attempt(ctx context.Context, userID, attemptID string) (domain.Attempt, error) {
	a, err := e.Repo.GetAttempt(ctx, userID, attemptID)
	if errors.Is(err, repo.ErrNotFound) {
		return a, fmt.Errorf("attempt %s: %w", attemptID, repo.ErrNotFound)
	}
	return a, err
}

// DeleteAttempt is the only way an attempt leaves the history.
func (e *Evaluator) DeleteAttempt(ctx context.Context, userID, attemptID string) error {
	if err := e.Repo.DeleteAttempt(ctx, userID, attemptID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("attempt %s: %w", attemptID, repo.ErrNotFound)
		}
		return err
	}
	e.Log.Info("attempt deleted", "user_id", userID, "attempt_id", attemptID)
	return nil
}

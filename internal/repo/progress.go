package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"datecoach/internal/domain"
)

// ListProgress returns every stored progress row for a user.
func (r Repo) ListProgress(ctx context.Context, tx *sql.Tx, userID string) ([]domain.ProgressEntry, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT user_id,track_id,level,is_unlocked,passed,passed_at FROM training_progress WHERE user_id=? ORDER BY track_id, level`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProgressEntry
	for rows.Next() {
		var (
			e                domain.ProgressEntry
			unlocked, passed int
			passedAt         sql.NullString
		)
		if err := rows.Scan(&e.UserID, &e.Track, &e.Level, &unlocked, &passed, &passedAt); err != nil {
			return nil, err
		}
		e.IsUnlocked = unlocked == 1
		e.Passed = passed == 1
		if passedAt.Valid {
			v := passedAt.String
			e.PassedAt = &v
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// GetProgressEntry returns one cell, or ErrNotFound when no row exists.
func (r Repo) GetProgressEntry(ctx context.Context, tx *sql.Tx, userID string, track domain.Track, level domain.Level) (domain.ProgressEntry, error) {
	e := domain.ProgressEntry{UserID: userID, Track: track, Level: level}
	var (
		unlocked, passed int
		passedAt         sql.NullString
	)
	err := r.q(tx).QueryRowContext(ctx, `SELECT is_unlocked,passed,passed_at FROM training_progress WHERE user_id=? AND track_id=? AND level=?`,
		userID, string(track), int(level)).Scan(&unlocked, &passed, &passedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.IsUnlocked = unlocked == 1
	e.Passed = passed == 1
	if passedAt.Valid {
		v := passedAt.String
		e.PassedAt = &v
	}
	return e, nil
}

// DeleteProgress removes every progress row and the onboarding marker of a user.
func (r Repo) DeleteProgress(ctx context.Context, tx *sql.Tx, userID string) error {
	if _, err := r.q(tx).ExecContext(ctx, `DELETE FROM training_progress WHERE user_id=?`, userID); err != nil {
		return err
	}
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM training_onboarding WHERE user_id=?`, userID)
	return err
}

// UnlockLevel unlocks a cell without touching its passed state. It reports
// whether a row was inserted or flipped from locked to unlocked; an already
// unlocked row is left alone and reported as unchanged.
func (r Repo) UnlockLevel(ctx context.Context, tx *sql.Tx, userID string, track domain.Track, level domain.Level, at time.Time) (bool, error) {
	ts := at.UTC().Format(time.RFC3339Nano)
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO training_progress(user_id,track_id,level,is_unlocked,passed,created_at,updated_at) VALUES (?,?,?,1,0,?,?)
ON CONFLICT(user_id,track_id,level) DO UPDATE SET is_unlocked=1, updated_at=excluded.updated_at WHERE training_progress.is_unlocked=0`,
		userID, string(track), int(level), ts, ts)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkLevelPassed upserts a cell as unlocked and passed at the given time.
func (r Repo) MarkLevelPassed(ctx context.Context, tx *sql.Tx, userID string, track domain.Track, level domain.Level, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO training_progress(user_id,track_id,level,is_unlocked,passed,passed_at,created_at,updated_at) VALUES (?,?,?,1,1,?,?,?)
ON CONFLICT(user_id,track_id,level) DO UPDATE SET is_unlocked=1, passed=1, passed_at=excluded.passed_at, updated_at=excluded.updated_at`,
		userID, string(track), int(level), ts, ts, ts)
	return err
}

// MarkOnboarded records that the user finished onboarding.
func (r Repo) MarkOnboarded(ctx context.Context, tx *sql.Tx, userID string, at time.Time) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO training_onboarding(user_id,completed_at) VALUES (?,?)
ON CONFLICT(user_id) DO UPDATE SET completed_at=excluded.completed_at`, userID, at.UTC().Format(time.RFC3339Nano))
	return err
}

func (r Repo) IsOnboarded(ctx context.Context, tx *sql.Tx, userID string) (bool, error) {
	var n int
	if err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM training_onboarding WHERE user_id=?`, userID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

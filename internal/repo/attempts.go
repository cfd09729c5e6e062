package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"datecoach/internal/domain"
)

// InsertAttempt stores an attempt. Attempts are append-only; there is no update path.
func (r Repo) InsertAttempt(ctx context.Context, tx *sql.Tx, a domain.Attempt) error {
	if a.ID == "" {
		return errors.New("attempt id required")
	}
	if a.UserID == "" {
		return errors.New("attempt user_id required")
	}
	var feedback any
	if a.Feedback != nil {
		data, err := json.Marshal(a.Feedback.Normalize())
		if err != nil {
			return fmt.Errorf("marshal feedback: %w", err)
		}
		feedback = string(data)
	}
	var conversationID any
	if a.ConversationID != nil {
		conversationID = *a.ConversationID
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO training_attempts(id,user_id,conversation_id,track_id,level,status,feedback_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, conversationID, string(a.Track), int(a.Level), a.Outcome.String(), feedback, a.CreatedAt)
	return err
}

// ListAttempts returns a user's attempts, newest first.
func (r Repo) ListAttempts(ctx context.Context, userID string) ([]domain.Attempt, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,conversation_id,track_id,level,status,feedback_json,created_at FROM training_attempts WHERE user_id=? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// GetAttempt returns one attempt owned by userID.
func (r Repo) GetAttempt(ctx context.Context, userID, id string) (domain.Attempt, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,user_id,conversation_id,track_id,level,status,feedback_json,created_at FROM training_attempts WHERE id=? AND user_id=?`, id, userID)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, ErrNotFound
	}
	return a, err
}

// DeleteAttempt removes one attempt owned by userID.
func (r Repo) DeleteAttempt(ctx context.Context, userID, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM training_attempts WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(s rowScanner) (domain.Attempt, error) {
	var (
		a              domain.Attempt
		conversationID sql.NullString
		status         string
		feedback       sql.NullString
	)
	if err := s.Scan(&a.ID, &a.UserID, &conversationID, &a.Track, &a.Level, &status, &feedback, &a.CreatedAt); err != nil {
		return domain.Attempt{}, err
	}
	if conversationID.Valid {
		v := conversationID.String
		a.ConversationID = &v
	}
	outcome, err := domain.ParseOutcome(status)
	if err != nil {
		return domain.Attempt{}, err
	}
	a.Outcome = outcome
	// A corrupt feedback blob degrades to no feedback rather than failing the read.
	if feedback.Valid && feedback.String != "" {
		var fb domain.Feedback
		if json.Unmarshal([]byte(feedback.String), &fb) == nil {
			fb = fb.Normalize()
			a.Feedback = &fb
		}
	}
	return a, nil
}

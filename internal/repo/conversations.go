package repo

import (
	"context"
	"database/sql"
	"errors"

	"datecoach/internal/domain"
)

func (r Repo) InsertConversation(ctx context.Context, c domain.Conversation) error {
	var level any
	if c.Level != nil {
		level = int(*c.Level)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO conversations(id,user_id,track_id,level,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.UserID, string(c.Track), level, c.CreatedAt)
	return err
}

// GetConversation returns a conversation owned by userID.
func (r Repo) GetConversation(ctx context.Context, userID, id string) (domain.Conversation, error) {
	var (
		c     domain.Conversation
		level sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,track_id,level,created_at FROM conversations WHERE id=? AND user_id=?`, id, userID).
		Scan(&c.ID, &c.UserID, &c.Track, &level, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if level.Valid {
		l := domain.Level(level.Int64)
		c.Level = &l
	}
	return c, nil
}

// DeleteConversation removes a conversation. Its messages cascade; attempts
// that referenced it keep their row with conversation_id set to NULL.
func (r Repo) DeleteConversation(ctx context.Context, userID, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM conversations WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertMessage(ctx context.Context, m domain.Message) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO messages(id,conversation_id,role,content,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.CreatedAt)
	return err
}

// ListMessages returns the messages of a conversation in chronological order.
func (r Repo) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,conversation_id,role,content,created_at FROM messages WHERE conversation_id=? ORDER BY created_at ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// LoadTranscript loads the ordered transcript of a conversation owned by userID.
// A missing conversation or one without messages is ErrNotFound.
func (r Repo) LoadTranscript(ctx context.Context, userID, conversationID string) ([]domain.TranscriptLine, error) {
	if _, err := r.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := r.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	lines := make([]domain.TranscriptLine, 0, len(msgs))
	for _, m := range msgs {
		speaker := domain.SpeakerOther
		if m.Role == domain.RoleUser {
			speaker = domain.SpeakerUser
		}
		lines = append(lines, domain.TranscriptLine{Speaker: speaker, Text: m.Content})
	}
	return lines, nil
}

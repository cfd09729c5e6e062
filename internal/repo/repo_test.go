package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datecoach/internal/db"
	"datecoach/internal/domain"
	"datecoach/internal/events"
	"datecoach/internal/migrate"
	"datecoach/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return repo.Repo{DB: conn}
}

func addConversation(t *testing.T, r repo.Repo, id, userID string, msgs ...domain.Message) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.InsertConversation(ctx, domain.Conversation{ID: id, UserID: userID, Track: "first_contact", CreatedAt: "2024-01-01T00:00:00Z"}))
	for _, m := range msgs {
		m.ConversationID = id
		require.NoError(t, r.InsertMessage(ctx, m))
	}
}

func TestTranscriptIsOrderedAndScoped(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	// Same timestamp: insertion order decides.
	addConversation(t, r, "c1", "alice",
		domain.Message{ID: "m1", Role: domain.RoleUser, Content: "hi", CreatedAt: "2024-01-01T00:00:01Z"},
		domain.Message{ID: "m2", Role: domain.RoleAssistant, Content: "hey", CreatedAt: "2024-01-01T00:00:01Z"},
		domain.Message{ID: "m0", Role: domain.RoleUser, Content: "earlier", CreatedAt: "2024-01-01T00:00:00Z"},
	)

	lines, err := r.LoadTranscript(ctx, "alice", "c1")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, domain.TranscriptLine{Speaker: domain.SpeakerUser, Text: "earlier"}, lines[0])
	assert.Equal(t, domain.TranscriptLine{Speaker: domain.SpeakerUser, Text: "hi"}, lines[1])
	assert.Equal(t, domain.TranscriptLine{Speaker: domain.SpeakerOther, Text: "hey"}, lines[2])

	_, err = r.LoadTranscript(ctx, "bob", "c1")
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	addConversation(t, r, "empty", "alice")
	_, err = r.LoadTranscript(ctx, "alice", "empty")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestDeleteConversationNullsAttemptReference(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	addConversation(t, r, "c1", "alice", domain.Message{ID: "m1", Role: domain.RoleUser, Content: "hi", CreatedAt: "2024-01-01T00:00:00Z"})
	conv := "c1"
	fb := domain.Feedback{Observed: []string{"x"}}
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.InsertAttempt(ctx, tx, domain.Attempt{
		ID: "a1", UserID: "alice", ConversationID: &conv, Track: "first_contact", Level: 1,
		Outcome: domain.OutcomePass, Feedback: &fb, CreatedAt: "2024-01-01T00:01:00Z",
	}))
	require.NoError(t, tx.Commit())

	assert.True(t, errors.Is(r.DeleteConversation(ctx, "bob", "c1"), repo.ErrNotFound))
	require.NoError(t, r.DeleteConversation(ctx, "alice", "c1"))

	a, err := r.GetAttempt(ctx, "alice", "a1")
	require.NoError(t, err)
	assert.Nil(t, a.ConversationID)
	assert.Equal(t, domain.OutcomePass, a.Outcome)
	require.NotNil(t, a.Feedback)
	assert.Equal(t, []string{"x"}, a.Feedback.Observed)

	msgs, err := r.ListMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAttemptsNewestFirstAndScoped(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	for i, ts := range []string{"2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z"} {
		require.NoError(t, r.InsertAttempt(ctx, tx, domain.Attempt{
			ID: []string{"old", "new"}[i], UserID: "alice", Track: "rejections", Level: 2,
			Outcome: domain.OutcomeFail, CreatedAt: ts,
		}))
	}
	require.NoError(t, tx.Commit())

	list, err := r.ListAttempts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Nil(t, list[0].Feedback)

	other, err := r.ListAttempts(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = r.GetAttempt(ctx, "bob", "new")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
	assert.True(t, errors.Is(r.DeleteAttempt(ctx, "bob", "new"), repo.ErrNotFound))
	require.NoError(t, r.DeleteAttempt(ctx, "alice", "new"))
}

func TestUnlockLevelReportsChanges(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	changed, err := r.UnlockLevel(ctx, nil, "alice", "first_contact", 2, at)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = r.UnlockLevel(ctx, nil, "alice", "first_contact", 2, at)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, r.MarkLevelPassed(ctx, nil, "alice", "first_contact", 2, at))
	changed, err = r.UnlockLevel(ctx, nil, "alice", "first_contact", 2, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	e, err := r.GetProgressEntry(ctx, nil, "alice", "first_contact", 2)
	require.NoError(t, err)
	assert.True(t, e.Passed)
	require.NotNil(t, e.PassedAt)
	assert.Equal(t, "2024-01-01T00:00:00Z", *e.PassedAt)

	_, err = r.GetProgressEntry(ctx, nil, "alice", "first_contact", 3)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestEventsQueries(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	latest, err := r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), latest)

	w := events.Writer{Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, tx, events.TypeProgressInitialized, "alice", "progress", "alice", nil))
	require.NoError(t, w.Append(ctx, tx, events.TypeLevelUnlocked, "alice", "progress", "first_contact/2", events.EventPayload{"level": 2}))
	require.NoError(t, w.Append(ctx, tx, events.TypeLevelUnlocked, "bob", "progress", "first_contact/2", nil))
	require.NoError(t, tx.Commit())

	all, err := r.LatestEvents(ctx, 10, "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "bob", all[0].UserID)

	mine, err := r.LatestEvents(ctx, 10, "alice", events.TypeLevelUnlocked)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.JSONEq(t, `{"level":2}`, mine[0].Payload)

	after, err := r.EventsAfter(ctx, 10, all[2].ID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Less(t, after[0].ID, after[1].ID)

	latest, err = r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, all[0].ID, latest)
}

func TestEventRolledBackWithTransaction(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, events.Writer{}.Append(ctx, tx, events.TypeAttemptRecorded, "alice", "attempt", "a1", nil))
	require.NoError(t, tx.Rollback())

	evts, err := r.LatestEvents(ctx, 10, "", "")
	require.NoError(t, err)
	assert.Empty(t, evts)
}

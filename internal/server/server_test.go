package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datecoach/internal/campaign"
	"datecoach/internal/configsvc"
	"datecoach/internal/db"
	"datecoach/internal/evaluator"
	"datecoach/internal/llm"
	"datecoach/internal/migrate"
	"datecoach/internal/progress"
	"datecoach/internal/repo"
	datecoachsdk "datecoach/sdk/go"
)

const (
	testSecret = "test-secret"
	passReply  = `{"status":"pass","feedback":{"observed":["asked about her trip"],"interpretation":["shows curiosity"]}}`
	failReply  = "```json\n{\"status\":\"fail\",\"feedback\":{\"observed\":[\"talked only about himself\"]}}\n```"
)

type testServer struct {
	URL    string
	Scorer *llm.MockProvider
	Repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) sdk(t *testing.T, userID string) *datecoachsdk.Client {
	t.Helper()
	token, err := SignToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	c := datecoachsdk.New(s.URL, token)
	c.HTTPClient = s.client
	return c
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	prog := progress.New(conn, campaign.Default(), nil)
	scorer := llm.NewMockProvider()
	r := repo.Repo{DB: conn}
	ev := evaluator.New(conn, prog, r, configsvc.Static("grade the user"), scorer, nil)
	handler, err := New(Config{
		Progress:  prog,
		Evaluator: ev,
		Repo:      r,
		Auth:      AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Scorer: scorer,
		Repo:   r,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func authHeader(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

// seedConversation creates a conversation with alternating user/assistant turns.
func seedConversation(t *testing.T, c *datecoachsdk.Client, track string, turns ...string) string {
	t.Helper()
	ctx := context.Background()
	conv, err := c.CreateConversation(ctx, track, 1)
	require.NoError(t, err)
	for i, text := range turns {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		_, err := c.AppendMessage(ctx, conv.ID, role, text)
		require.NoError(t, err)
	}
	return conv.ID
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/practice/progress", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/practice/progress", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	other, err := SignToken("other-secret", "u1", time.Hour)
	require.NoError(t, err)
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/practice/progress", nil, map[string]string{"Authorization": "Bearer " + other})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestSignTokenRoundTrip(t *testing.T) {
	token, err := SignToken(testSecret, "user-42", time.Minute)
	require.NoError(t, err)
	p, err := authenticateJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-42", p.UserID)

	_, err = SignToken("", "user-42", time.Minute)
	assert.Error(t, err)
	_, err = authenticateJWT(token, "")
	assert.Error(t, err)
}

func TestInitializeAndProgress(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	c := srv.sdk(t, "alice")

	before, err := c.Progress(ctx)
	require.NoError(t, err)
	assert.False(t, before.OnboardingComplete)
	require.Len(t, before.Trainings, 7)
	l1, ok := before.Level("first_contact", 1)
	require.True(t, ok)
	assert.False(t, l1.IsUnlocked)

	require.NoError(t, c.Initialize(ctx))
	after, err := c.Progress(ctx)
	require.NoError(t, err)
	assert.True(t, after.OnboardingComplete)
	for _, cell := range []struct {
		track string
		level int
		open  bool
	}{
		{"first_contact", 1, true},
		{"first_contact", 2, true},
		{"first_contact", 3, false},
		{"keep_conversation", 1, true},
		{"keep_conversation", 2, false},
		{"after_date", 1, false},
	} {
		st, ok := after.Level(cell.track, cell.level)
		require.True(t, ok)
		assert.Equal(t, cell.open, st.IsUnlocked, "%s/%d", cell.track, cell.level)
		assert.False(t, st.Passed)
		assert.Nil(t, st.PassedAt)
	}

	// Other users are untouched.
	bob, err := srv.sdk(t, "bob").Progress(ctx)
	require.NoError(t, err)
	assert.False(t, bob.OnboardingComplete)
}

func TestEvaluatePassFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	c := srv.sdk(t, "alice")
	require.NoError(t, c.Initialize(ctx))
	conv := seedConversation(t, c, "first_contact", "Hi! Was that photo taken in Lisbon?", "Yes, last spring!")

	srv.Scorer.AddResponse(llm.MockResponse{Text: passReply})
	res, err := c.Evaluate(ctx, conv, "first_contact", 2)
	require.NoError(t, err)
	assert.Equal(t, "pass", res.Status)
	assert.Equal(t, []string{"asked about her trip"}, res.Feedback.Observed)
	assert.Equal(t, []datecoachsdk.Unlock{{SubmodeID: "first_contact", DifficultyLevel: 3}}, res.Unlocked)

	prog, err := c.Progress(ctx)
	require.NoError(t, err)
	l2, _ := prog.Level("first_contact", 2)
	assert.True(t, l2.Passed)
	assert.NotNil(t, l2.PassedAt)
	l3, _ := prog.Level("first_contact", 3)
	assert.True(t, l3.IsUnlocked)

	history, err := c.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.AttemptID, history[0].AttemptID)
	assert.Equal(t, "pass", history[0].Status)
	require.NotNil(t, history[0].ConversationID)
	assert.Equal(t, conv, *history[0].ConversationID)

	one, err := c.Attempt(ctx, res.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, 2, one.DifficultyLevel)
}

func TestEvaluateFailHasEmptyUnlocked(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := srv.sdk(t, "alice")
	conv := seedConversation(t, c, "rejections", "so u busy?", "A bit.")

	srv.Scorer.AddResponse(llm.MockResponse{Text: failReply})
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/practice/evaluate", map[string]any{
		"conversation_id":  conv,
		"submode_id":       "rejections",
		"difficulty_level": 1,
	}, authHeader(t, "alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `{"observed":["talked only about himself"],"interpretation":[]}`, extract(t, data, "feedback"))
	assert.JSONEq(t, `[]`, extract(t, data, "unlocked"))
	assert.JSONEq(t, `"fail"`, extract(t, data, "status"))
}

func extract(t *testing.T, data []byte, key string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	return string(m[key])
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := srv.sdk(t, "alice")
	conv := seedConversation(t, c, "first_contact", "hello")
	url := srv.URL + "/api/v1/practice/evaluate"
	headers := authHeader(t, "alice")

	res, data := doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{
		"conversation_id": "not-a-uuid", "submode_id": "first_contact", "difficulty_level": 1,
	}, headers)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "bad_request", errorCode(t, data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{
		"conversation_id": conv, "submode_id": "first_contact", "difficulty_level": 4,
	}, headers)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "invalid_level", errorCode(t, data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{
		"conversation_id": conv, "submode_id": "speed_dating", "difficulty_level": 1,
	}, headers)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "unknown_track", errorCode(t, data))

	assert.Equal(t, 0, srv.Scorer.CallCount())
}

func TestEvaluateNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	alice := srv.sdk(t, "alice")

	_, err := alice.Evaluate(ctx, uuid.NewString(), "first_contact", 1)
	var apiErr *datecoachsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)

	// Bob's conversation is invisible to alice.
	conv := seedConversation(t, srv.sdk(t, "bob"), "first_contact", "hey")
	_, err = alice.Evaluate(ctx, conv, "first_contact", 1)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	// An empty conversation cannot be evaluated.
	empty, err := alice.CreateConversation(ctx, "first_contact", 0)
	require.NoError(t, err)
	_, err = alice.Evaluate(ctx, empty.ID, "first_contact", 1)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, 0, srv.Scorer.CallCount())
}

func TestEvaluateScoringUnavailable(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	c := srv.sdk(t, "alice")
	conv := seedConversation(t, c, "first_contact", "hey there")

	srv.Scorer.AddResponse(llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: errors.New("gateway timeout")}})
	_, err := c.Evaluate(ctx, conv, "first_contact", 1)
	var apiErr *datecoachsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "scoring_unavailable", apiErr.Code)

	history, err := c.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDeleteAttemptAndConversation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	c := srv.sdk(t, "alice")
	conv := seedConversation(t, c, "first_contact", "hi", "hello", "how was your weekend?")

	msgs, err := c.Messages(ctx, conv)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)

	srv.Scorer.AddResponse(llm.MockResponse{Text: passReply})
	srv.Scorer.AddResponse(llm.MockResponse{Text: passReply})
	first, err := c.Evaluate(ctx, conv, "first_contact", 1)
	require.NoError(t, err)
	second, err := c.Evaluate(ctx, conv, "first_contact", 2)
	require.NoError(t, err)

	// Deleting the conversation keeps its attempts.
	require.NoError(t, c.DeleteConversation(ctx, conv))
	history, err := c.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, a := range history {
		assert.Nil(t, a.ConversationID)
	}

	require.NoError(t, c.DeleteAttempt(ctx, first.AttemptID))
	history, err = c.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, second.AttemptID, history[0].AttemptID)

	// Progress earned by the deleted attempt stays.
	prog, err := c.Progress(ctx)
	require.NoError(t, err)
	l1, _ := prog.Level("first_contact", 1)
	assert.True(t, l1.Passed)

	var apiErr *datecoachsdk.APIError
	err = c.DeleteAttempt(ctx, first.AttemptID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	res, data := doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/v1/practice/history/xyz", nil, authHeader(t, "alice"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestAppendMessageValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := srv.sdk(t, "alice")
	conv, err := c.CreateConversation(context.Background(), "first_contact", 2)
	require.NoError(t, err)
	require.NotNil(t, conv.DifficultyLevel)
	assert.Equal(t, 2, *conv.DifficultyLevel)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/conversations/"+conv.ID+"/messages", map[string]any{
		"role": "narrator", "content": "hi",
	}, authHeader(t, "alice"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/conversations", map[string]any{
		"submode_id": "first_contact", "difficulty_level": 9,
	}, authHeader(t, "alice"))
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "invalid_level", errorCode(t, data))
}

func TestEventsListsOwnEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, srv.sdk(t, "alice").Initialize(ctx))
	require.NoError(t, srv.sdk(t, "bob").Initialize(ctx))

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/events?type=progress.initialized", nil, authHeader(t, "alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var body EventsResponse
	require.NoError(t, json.Unmarshal(data, &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "alice", body.Items[0].UserID)
}

func TestOpenAPIAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/api/v1/practice/evaluate")
	assert.Contains(t, string(data), "bearerAuth")

	doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/health", nil, nil)
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "datecoach_http_requests_total")
}

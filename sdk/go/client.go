package datecoachsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal DateCoach practice API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Evaluations can take as long as
// the scoring timeout, so the default HTTP timeout is generous.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/api/v1",
		BearerToken: token,
		Timeout:     2 * time.Minute,
	}
}

type Feedback struct {
	Observed       []string `json:"observed"`
	Interpretation []string `json:"interpretation"`
}

type Unlock struct {
	SubmodeID       string `json:"submode_id"`
	DifficultyLevel int    `json:"difficulty_level"`
}

// Evaluation is the result of POST /practice/evaluate.
type Evaluation struct {
	AttemptID string   `json:"attempt_id"`
	Status    string   `json:"status"`
	Feedback  Feedback `json:"feedback"`
	Unlocked  []Unlock `json:"unlocked"`
}

type LevelState struct {
	DifficultyLevel int     `json:"difficulty_level"`
	IsUnlocked      bool    `json:"is_unlocked"`
	Passed          bool    `json:"passed"`
	PassedAt        *string `json:"passed_at"`
}

type TrackProgress struct {
	SubmodeID string       `json:"submode_id"`
	Levels    []LevelState `json:"levels"`
}

type Progress struct {
	OnboardingComplete bool            `json:"onboarding_complete"`
	Trainings          []TrackProgress `json:"trainings"`
}

// Level returns the state of one cell, or false when the track is unknown.
func (p Progress) Level(submodeID string, level int) (LevelState, bool) {
	for _, t := range p.Trainings {
		if t.SubmodeID != submodeID {
			continue
		}
		for _, l := range t.Levels {
			if l.DifficultyLevel == level {
				return l, true
			}
		}
	}
	return LevelState{}, false
}

type Attempt struct {
	AttemptID       string    `json:"attempt_id"`
	ConversationID  *string   `json:"conversation_id"`
	SubmodeID       string    `json:"submode_id"`
	DifficultyLevel int       `json:"difficulty_level"`
	Status          string    `json:"status"`
	Feedback        *Feedback `json:"feedback"`
	CreatedAt       string    `json:"created_at"`
}

type Conversation struct {
	ID              string `json:"id"`
	SubmodeID       string `json:"submode_id"`
	DifficultyLevel *int   `json:"difficulty_level,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Evaluate scores a stored conversation for one training cell.
func (c *Client) Evaluate(ctx context.Context, conversationID, submodeID string, level int) (Evaluation, error) {
	body := map[string]any{
		"conversation_id":  conversationID,
		"submode_id":       submodeID,
		"difficulty_level": level,
	}
	var resp Evaluation
	err := c.do(ctx, http.MethodPost, "practice/evaluate", body, &resp)
	return resp, err
}

func (c *Client) Progress(ctx context.Context) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, "practice/progress", nil, &resp)
	return resp, err
}

// Initialize resets progress to the starting unlocks.
func (c *Client) Initialize(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "practice/initialize", nil, nil)
}

// History lists attempts, newest first.
func (c *Client) History(ctx context.Context) ([]Attempt, error) {
	var resp struct {
		Attempts []Attempt `json:"attempts"`
	}
	err := c.do(ctx, http.MethodGet, "practice/history", nil, &resp)
	return resp.Attempts, err
}

func (c *Client) Attempt(ctx context.Context, attemptID string) (Attempt, error) {
	var resp Attempt
	err := c.do(ctx, http.MethodGet, "practice/history/"+url.PathEscape(attemptID), nil, &resp)
	return resp, err
}

func (c *Client) DeleteAttempt(ctx context.Context, attemptID string) error {
	return c.do(ctx, http.MethodDelete, "practice/history/"+url.PathEscape(attemptID), nil, nil)
}

// CreateConversation starts a conversation; level 0 leaves it unset.
func (c *Client) CreateConversation(ctx context.Context, submodeID string, level int) (Conversation, error) {
	body := map[string]any{"submode_id": submodeID}
	if level != 0 {
		body["difficulty_level"] = level
	}
	var resp Conversation
	err := c.do(ctx, http.MethodPost, "conversations", body, &resp)
	return resp, err
}

func (c *Client) AppendMessage(ctx context.Context, conversationID, role, content string) (Message, error) {
	body := map[string]any{"role": role, "content": content}
	var resp Message
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("conversations/%s/messages", url.PathEscape(conversationID)), body, &resp)
	return resp, err
}

func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var resp struct {
		Messages []Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("conversations/%s/messages", url.PathEscape(conversationID)), nil, &resp)
	return resp.Messages, err
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "conversations/"+url.PathEscape(conversationID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}

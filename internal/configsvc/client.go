// Package configsvc reads prompt files from the sibling Config Service.
package configsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable covers transport failures, non-2xx answers and files that
// lack the expected content.
var ErrUnavailable = errors.New("config service unavailable")

// DefaultPromptKey is the logical key of the training evaluator prompt.
const DefaultPromptKey = "prompts/training_evaluator.json"

// Client fetches files by key from the Config Service.
type Client struct {
	BaseURL    string
	AppID      string
	PromptKey  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func New(baseURL, appID string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:   baseURL,
		AppID:     appID,
		PromptKey: DefaultPromptKey,
		Timeout:   timeout,
	}
}

// File is the envelope the Config Service returns for a stored file.
type File struct {
	Path    string          `json:"path"`
	Content json.RawMessage `json:"content"`
}

type promptContent struct {
	SystemPrompt string `json:"system_prompt"`
}

// ScoringSystemPrompt returns content.system_prompt of the evaluator prompt file.
func (c *Client) ScoringSystemPrompt(ctx context.Context) (string, error) {
	key := c.PromptKey
	if key == "" {
		key = DefaultPromptKey
	}
	f, err := c.GetFile(ctx, key)
	if err != nil {
		return "", err
	}
	var pc promptContent
	if err := json.Unmarshal(f.Content, &pc); err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", ErrUnavailable, key, err)
	}
	if strings.TrimSpace(pc.SystemPrompt) == "" {
		return "", fmt.Errorf("%w: %s has no system_prompt", ErrUnavailable, key)
	}
	return pc.SystemPrompt, nil
}

// GetFile fetches one file by its logical path.
func (c *Client) GetFile(ctx context.Context, path string) (File, error) {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
	}
	endpoint := fmt.Sprintf("%s/v1/apps/%s/files?path=%s",
		strings.TrimRight(c.BaseURL, "/"), url.PathEscape(c.AppID), url.QueryEscape(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return File{}, fmt.Errorf("%w: get %s: status=%d body=%s", ErrUnavailable, path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var f File
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return File{}, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	if len(f.Content) == 0 {
		return File{}, fmt.Errorf("%w: %s has no content", ErrUnavailable, path)
	}
	return f, nil
}

// Static serves a fixed prompt. Used by the CLI and tests when no Config
// Service is configured.
type Static string

func (s Static) ScoringSystemPrompt(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", fmt.Errorf("%w: empty static prompt", ErrUnavailable)
	}
	return string(s), nil
}

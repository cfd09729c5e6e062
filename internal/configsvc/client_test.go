package configsvc_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datecoach/internal/configsvc"
)

func TestScoringSystemPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/apps/dating_coach/files", r.URL.Path)
		assert.Equal(t, configsvc.DefaultPromptKey, r.URL.Query().Get("path"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"path":    r.URL.Query().Get("path"),
			"content": map[string]any{"system_prompt": "You grade dating practice."},
		})
	}))
	defer srv.Close()

	c := configsvc.New(srv.URL, "dating_coach", 5*time.Second)
	prompt, err := c.ScoringSystemPrompt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "You grade dating practice.", prompt)
}

func TestScoringSystemPromptFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>"))
		},
		"no prompt": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"content":{"other":"x"}}`))
		},
		"no content": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"path":"p"}`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			_, err := configsvc.New(srv.URL, "app", time.Second).ScoringSystemPrompt(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, configsvc.ErrUnavailable))
		})
	}
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, err := configsvc.New(url, "app", time.Second).ScoringSystemPrompt(context.Background())
	assert.True(t, errors.Is(err, configsvc.ErrUnavailable))
}

func TestStatic(t *testing.T) {
	p, err := configsvc.Static("grade it").ScoringSystemPrompt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "grade it", p)

	_, err = configsvc.Static(" ").ScoringSystemPrompt(context.Background())
	assert.True(t, errors.Is(err, configsvc.ErrUnavailable))
}

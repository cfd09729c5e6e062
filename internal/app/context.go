package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"datecoach/internal/campaign"
	"datecoach/internal/config"
	"datecoach/internal/configsvc"
	"datecoach/internal/db"
	"datecoach/internal/domain"
	"datecoach/internal/evaluator"
	"datecoach/internal/llm"
	"datecoach/internal/logger"
	"datecoach/internal/migrate"
	"datecoach/internal/progress"
	"datecoach/internal/repo"
)

// App holds the wired services of one workspace.
type App struct {
	DB        *sql.DB
	Repo      repo.Repo
	Config    *config.Config
	Graph     campaign.Graph
	Progress  *progress.Service
	Evaluator *evaluator.Evaluator
	Log       *logger.Logger
}

// Open opens the workspace database, applies migrations and wires the
// progression and evaluation services from cfg.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *logger.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, fmt.Errorf("ensure workspace: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if applied > 0 {
		log.Info("migrations applied", "count", applied)
	}
	a, err := Wire(conn, cfg, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

// Wire builds the services over an already migrated database.
func Wire(conn *sql.DB, cfg *config.Config, log *logger.Logger) (*App, error) {
	tracks := make([]domain.Track, 0, len(cfg.Campaign.Tracks))
	for _, t := range cfg.Campaign.Tracks {
		tracks = append(tracks, domain.Track(t))
	}
	graph, err := campaign.New(tracks)
	if err != nil {
		return nil, fmt.Errorf("campaign: %w", err)
	}
	scorer, err := llm.NewProvider(ScoringConfig(cfg.Scoring), log)
	if err != nil {
		return nil, err
	}
	r := repo.Repo{DB: conn}
	progressSvc := progress.New(conn, graph, log)
	ev := evaluator.New(conn, progressSvc, r, PromptSource(cfg), scorer, log)
	ev.Opts = evaluator.Options{
		MaxTokens:      cfg.Scoring.MaxTokens,
		Temperature:    cfg.Scoring.Temperature,
		ScoreTimeout:   cfg.ScoringTimeout(),
		PersistTimeout: evaluator.DefaultOptions().PersistTimeout,
	}
	return &App{
		DB:        conn,
		Repo:      r,
		Config:    cfg,
		Graph:     graph,
		Progress:  progressSvc,
		Evaluator: ev,
		Log:       log,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// PromptSource returns the inline system prompt when one is configured and
// the Config Service client otherwise.
func PromptSource(cfg *config.Config) evaluator.PromptSource {
	if strings.TrimSpace(cfg.Scoring.SystemPrompt) != "" {
		return configsvc.Static(cfg.Scoring.SystemPrompt)
	}
	client := configsvc.New(cfg.Services.ConfigServiceURL, cfg.Services.AppID, cfg.ServicesTimeout())
	if cfg.Scoring.PromptKey != "" {
		client.PromptKey = cfg.Scoring.PromptKey
	}
	return client
}

// ScoringConfig maps the scoring section onto provider settings. Empty API
// keys fall back to OPENAI_API_KEY and ANTHROPIC_API_KEY.
func ScoringConfig(sc config.ScoringConfig) llm.Config {
	out := llm.Config{Provider: sc.Provider}
	switch sc.Provider {
	case "gateway", "openai":
		key := sc.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		out.OpenAI = llm.OpenAIConfig{APIKey: key, Model: sc.Model, BaseURL: sc.BaseURL}
	case "anthropic":
		key := sc.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		out.Anthropic = llm.AnthropicConfig{APIKey: key, Model: sc.Model, BaseURL: sc.BaseURL}
	}
	return out
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"datecoach/internal/app"
	"datecoach/internal/config"
	"datecoach/internal/domain"
	"datecoach/internal/evaluator"
	"datecoach/internal/logger"
	"datecoach/internal/migrate"
	"datecoach/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dc",
	Short: "DateCoach training backend",
	Long: `DateCoach scores practice conversations and tracks training progress.
- Tracks: the ordered training scenarios (first_contact, keep_conversation, ...), each with levels 1-3.
- Initialize: resets a user to the starting unlocks (levels 1-2 of the first track, level 1 of the second).
- Evaluate: sends a stored conversation to the scorer; a pass marks the level passed and unlocks what comes next.
- History: every evaluation is kept as an attempt until explicitly deleted.
- Event log: progression changes, view with 'dc log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DATECOACH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "", "user id for local commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(conversationCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
}

// loadConfig reads datecoach.yml (or defaults) and applies DATECOACH_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("scoring_api_key"); v != "" {
		cfg.Scoring.APIKey = v
	}
	if v := viper.GetString("scoring_provider"); v != "" {
		cfg.Scoring.Provider = v
	}
	if v := viper.GetString("config_service_url"); v != "" {
		cfg.Services.ConfigServiceURL = v
	}
	if v := viper.GetString("log_mode"); v != "" {
		cfg.Logging.Mode = v
	}
	return cfg, cfg.Validate()
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Options{Mode: cfg.Logging.Mode})
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func requireUser() (string, error) {
	user := strings.TrimSpace(viper.GetString("user"))
	if user == "" {
		return "", fmt.Errorf("--user required")
	}
	return user, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				if strings.TrimSpace(a.Config.Auth.JWTSecret) == "" {
					return fmt.Errorf("auth.jwt_secret (or DATECOACH_JWT_SECRET) is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Progress:  a.Progress,
					Evaluator: a.Evaluator,
					Repo:      a.Repo,
					BasePath:  basePath,
					Auth:      server.AuthConfig{JWTSecret: a.Config.Auth.JWTSecret},
					Log:       a.Log,
				})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, a.Repo, a.Config.Webhooks, a.Log)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving DateCoach API", "addr", addr, "base_path", basePath, "scoring_provider", a.Config.Scoring.Provider)
				fmt.Printf("Serving DateCoach API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// app.Open migrates; this only reports the schema version.
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				latest, err := migrate.Latest()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"schema_version": latest})
				}
				fmt.Printf("schema at version %d\n", latest)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage datecoach.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default datecoach.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Auth.JWTSecret != "" {
				shown.Auth.JWTSecret = "[REDACTED]"
			}
			if shown.Scoring.APIKey != "" {
				shown.Scoring.APIKey = "[REDACTED]"
			}
			if viper.GetBool("json") {
				return printJSON(shown)
			}
			out, err := yaml.Marshal(&shown)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate datecoach.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func progressCmd() *cobra.Command {
	prog := &cobra.Command{
		Use:   "progress",
		Short: "Inspect or reset a user's training progress",
	}
	prog.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := a.Progress.Progress(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Track", "Easy", "Medium", "Hard"})
				for _, tp := range snap.Tracks {
					row := table.Row{tp.Track}
					for _, l := range tp.Levels {
						row = append(row, cellState(l))
					}
					tw.AppendRow(row)
				}
				tw.Render()
				fmt.Printf("onboarding complete: %v\n", snap.OnboardingComplete)
				return nil
			})
		},
	})
	prog.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Reset progress to the starting unlocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Progress.Initialize(ctx, user); err != nil {
					return err
				}
				fmt.Println("progress initialized for", user)
				return nil
			})
		},
	})
	return prog
}

func cellState(l domain.LevelState) string {
	switch {
	case l.Passed:
		return "passed"
	case l.IsUnlocked:
		return "open"
	default:
		return "locked"
	}
}

func historyCmd() *cobra.Command {
	hist := &cobra.Command{
		Use:   "history",
		Short: "Evaluation attempts",
	}
	hist.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List attempts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Evaluator.History(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Attempt", "Track", "Level", "Status", "Conversation", "Created"})
				for _, at := range items {
					conv := "-"
					if at.ConversationID != nil {
						conv = *at.ConversationID
					}
					tw.AppendRow(table.Row{at.ID, at.Track, at.Level, at.Outcome, conv, at.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	var id string
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete one attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Evaluator.DeleteAttempt(ctx, user, id)
			})
		},
	}
	del.Flags().StringVar(&id, "id", "", "attempt id")
	hist.AddCommand(del)
	return hist
}

type transcriptTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func conversationCmd() *cobra.Command {
	conv := &cobra.Command{
		Use:   "conversation",
		Short: "Store practice conversations",
	}
	var track, file string
	var level int
	imp := &cobra.Command{
		Use:   "import",
		Short: "Import a transcript file ([{\"role\":\"user\",\"content\":\"...\"}, ...])",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			if track == "" || file == "" {
				return fmt.Errorf("--track and --file required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var turns []transcriptTurn
			if err := json.Unmarshal(data, &turns); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !a.Graph.Contains(domain.Track(track)) {
					return fmt.Errorf("unknown track %q", track)
				}
				now := time.Now().UTC()
				c := domain.Conversation{ID: uuid.NewString(), UserID: user, Track: domain.Track(track), CreatedAt: now.Format(time.RFC3339Nano)}
				if level != 0 {
					l := domain.Level(level)
					if !l.Valid() {
						return fmt.Errorf("level must be 1, 2 or 3")
					}
					c.Level = &l
				}
				if err := a.Repo.InsertConversation(ctx, c); err != nil {
					return err
				}
				for i, turn := range turns {
					role := domain.MessageRole(turn.Role)
					if role != domain.RoleUser && role != domain.RoleAssistant {
						return fmt.Errorf("turn %d: role must be user or assistant", i)
					}
					if err := a.Repo.InsertMessage(ctx, domain.Message{
						ID:             uuid.NewString(),
						ConversationID: c.ID,
						Role:           role,
						Content:        turn.Content,
						CreatedAt:      now.Add(time.Duration(i) * time.Millisecond).Format(time.RFC3339Nano),
					}); err != nil {
						return err
					}
				}
				fmt.Println(c.ID)
				return nil
			})
		},
	}
	imp.Flags().StringVar(&track, "track", "", "track id")
	imp.Flags().IntVar(&level, "level", 0, "difficulty level")
	imp.Flags().StringVar(&file, "file", "", "transcript JSON file")
	conv.AddCommand(imp)
	return conv
}

func evaluateCmd() *cobra.Command {
	var conversationID, track string
	var level int
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a stored conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			if conversationID == "" || track == "" {
				return fmt.Errorf("--conversation and --track required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Evaluator.Evaluate(ctx, evaluator.Request{
					UserID:         user,
					ConversationID: conversationID,
					Track:          domain.Track(track),
					Level:          domain.Level(level),
				})
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"attempt_id": res.AttemptID,
					"status":     res.Outcome.String(),
					"feedback":   res.Feedback.Normalize(),
					"unlocked":   res.Unlocked,
				})
			})
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&track, "track", "", "track id")
	cmd.Flags().IntVar(&level, "level", 1, "difficulty level (1-3)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := server.SignToken(cfg.Auth.JWTSecret, user, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Progression changes: initializations, recorded attempts, passed and unlocked levels.",
	}
	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Repo.LatestEvents(ctx, n, viper.GetString("user"), evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "User", "Entity", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.UserID, e.EntityKind + ":" + e.EntityID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	log.AddCommand(tail)
	return log
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

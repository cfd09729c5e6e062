package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"datecoach/internal/domain"
	"datecoach/internal/evaluator"
)

func (s *server) validateCell(track string, level int) (domain.Track, domain.Level, huma.StatusError) {
	t := domain.Track(strings.TrimSpace(track))
	l := domain.Level(level)
	if !l.Valid() {
		return t, l, newAPIError(http.StatusUnprocessableEntity, "invalid_level", fmt.Sprintf("difficulty_level must be 1, 2 or 3, got %d", level), map[string]any{"difficulty_level": level})
	}
	if !s.cfg.Progress.Graph.Contains(t) {
		return t, l, newAPIError(http.StatusUnprocessableEntity, "unknown_track", fmt.Sprintf("unknown submode_id %q", track), map[string]any{"submode_id": track})
	}
	return t, l, nil
}

func (s *server) registerPractice(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "evaluate",
		Method:      http.MethodPost,
		Path:        "/practice/evaluate",
		Summary:     "Evaluate a practice conversation",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusBadGateway, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body EvaluateRequest `json:"body"`
	}) (*struct {
		Body EvaluateResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		convID, idErr := parseID("conversation_id", input.Body.ConversationID)
		if idErr != nil {
			return nil, idErr
		}
		track, level, cellErr := s.validateCell(input.Body.SubmodeID, input.Body.Difficulty)
		if cellErr != nil {
			return nil, cellErr
		}
		res, err := s.cfg.Evaluator.Evaluate(ctx, evaluator.Request{
			UserID:         userID,
			ConversationID: convID,
			Track:          track,
			Level:          level,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body EvaluateResponse `json:"body"`
		}{Body: toEvaluateResponse(res.AttemptID, res.Outcome, res.Feedback, res.Unlocked)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-progress",
		Method:      http.MethodGet,
		Path:        "/practice/progress",
		Summary:     "Get training progress",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.ProgressSnapshot `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := s.cfg.Progress.Progress(ctx, userID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body domain.ProgressSnapshot `json:"body"`
		}{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "initialize-progress",
		Method:        http.MethodPost,
		Path:          "/practice/initialize",
		Summary:       "Reset training progress to the starting unlocks",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.cfg.Progress.Initialize(ctx, userID); err != nil {
			return nil, s.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func (s *server) registerHistory(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-attempts",
		Method:      http.MethodGet,
		Path:        "/practice/history",
		Summary:     "List evaluation attempts, newest first",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		attempts, err := s.cfg.Evaluator.History(ctx, userID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{Attempts: toAttemptResponses(attempts)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-attempt",
		Method:      http.MethodGet,
		Path:        "/practice/history/{attempt_id}",
		Summary:     "Get one attempt",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AttemptID string `path:"attempt_id"`
	}) (*struct {
		Body AttemptResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, idErr := parseID("attempt_id", input.AttemptID)
		if idErr != nil {
			return nil, idErr
		}
		a, err := s.cfg.Evaluator.Attempt(ctx, userID, id)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body AttemptResponse `json:"body"`
		}{Body: toAttemptResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-attempt",
		Method:        http.MethodDelete,
		Path:          "/practice/history/{attempt_id}",
		Summary:       "Delete one attempt",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AttemptID string `path:"attempt_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, idErr := parseID("attempt_id", input.AttemptID)
		if idErr != nil {
			return nil, idErr
		}
		if err := s.cfg.Evaluator.DeleteAttempt(ctx, userID, id); err != nil {
			return nil, s.handleError(err)
		}
		return &struct{}{}, nil
	})
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"datecoach/internal/domain"
)

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (s *server) registerConversations(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-conversation",
		Method:        http.MethodPost,
		Path:          "/conversations",
		Summary:       "Start a practice conversation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateConversationRequest `json:"body"`
	}) (*struct {
		Body domain.Conversation `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		track := domain.Track(strings.TrimSpace(input.Body.SubmodeID))
		if !s.cfg.Progress.Graph.Contains(track) {
			return nil, newAPIError(http.StatusUnprocessableEntity, "unknown_track", fmt.Sprintf("unknown submode_id %q", input.Body.SubmodeID), nil)
		}
		conv := domain.Conversation{
			ID:        uuid.NewString(),
			UserID:    userID,
			Track:     track,
			CreatedAt: nowString(),
		}
		if input.Body.Difficulty != nil {
			l := domain.Level(*input.Body.Difficulty)
			if !l.Valid() {
				return nil, newAPIError(http.StatusUnprocessableEntity, "invalid_level", fmt.Sprintf("difficulty_level must be 1, 2 or 3, got %d", *input.Body.Difficulty), nil)
			}
			conv.Level = &l
		}
		if err := s.cfg.Repo.InsertConversation(ctx, conv); err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body domain.Conversation `json:"body"`
		}{Body: conv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "append-message",
		Method:        http.MethodPost,
		Path:          "/conversations/{id}/messages",
		Summary:       "Append a message to a conversation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body AppendMessageRequest `json:"body"`
	}) (*struct {
		Body domain.Message `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		convID, idErr := parseID("id", input.ID)
		if idErr != nil {
			return nil, idErr
		}
		if _, err := s.cfg.Repo.GetConversation(ctx, userID, convID); err != nil {
			return nil, s.handleError(err)
		}
		msg := domain.Message{
			ID:             uuid.NewString(),
			ConversationID: convID,
			Role:           domain.MessageRole(input.Body.Role),
			Content:        input.Body.Content,
			CreatedAt:      nowString(),
		}
		if err := s.cfg.Repo.InsertMessage(ctx, msg); err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body domain.Message `json:"body"`
		}{Body: msg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/conversations/{id}/messages",
		Summary:     "List conversation messages in order",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body MessagesResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		convID, idErr := parseID("id", input.ID)
		if idErr != nil {
			return nil, idErr
		}
		if _, err := s.cfg.Repo.GetConversation(ctx, userID, convID); err != nil {
			return nil, s.handleError(err)
		}
		msgs, err := s.cfg.Repo.ListMessages(ctx, convID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body MessagesResponse `json:"body"`
		}{Body: MessagesResponse{Messages: nonNilSlice(msgs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-conversation",
		Method:        http.MethodDelete,
		Path:          "/conversations/{id}",
		Summary:       "Delete a conversation; its attempts stay in history",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		convID, idErr := parseID("id", input.ID)
		if idErr != nil {
			return nil, idErr
		}
		if err := s.cfg.Repo.DeleteConversation(ctx, userID, convID); err != nil {
			return nil, s.handleError(err)
		}
		s.log.Info("conversation deleted", "user_id", userID, "conversation_id", convID)
		return &struct{}{}, nil
	})
}

func (s *server) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List the caller's recent training events",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int    `query:"limit" minimum:"0" maximum:"500"`
		Type  string `query:"type"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evts, err := s.cfg.Repo.LatestEvents(ctx, input.Limit, userID, input.Type)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: EventsResponse{Items: nonNilSlice(evts)}}, nil
	})
}

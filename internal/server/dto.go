package server

import (
	"datecoach/internal/domain"
)

type EvaluateRequest struct {
	ConversationID string `json:"conversation_id" doc:"Conversation to evaluate" example:"4b1f5f2e-8d5c-4c0b-9d59-3c2f1c9e7a10"`
	SubmodeID      string `json:"submode_id" minLength:"1" example:"first_contact"`
	Difficulty     int    `json:"difficulty_level" example:"1"`
}

type EvaluateResponse struct {
	AttemptID string          `json:"attempt_id"`
	Status    string          `json:"status" enum:"pass,fail"`
	Feedback  domain.Feedback `json:"feedback"`
	Unlocked  []domain.Unlock `json:"unlocked"`
}

type AttemptResponse struct {
	AttemptID       string           `json:"attempt_id"`
	ConversationID  *string          `json:"conversation_id"`
	SubmodeID       string           `json:"submode_id"`
	DifficultyLevel int              `json:"difficulty_level"`
	Status          string           `json:"status" enum:"pass,fail"`
	Feedback        *domain.Feedback `json:"feedback"`
	CreatedAt       string           `json:"created_at" format:"date-time"`
}

type HistoryResponse struct {
	Attempts []AttemptResponse `json:"attempts"`
}

type CreateConversationRequest struct {
	SubmodeID  string `json:"submode_id" minLength:"1" example:"first_contact"`
	Difficulty *int   `json:"difficulty_level,omitempty" example:"1"`
}

type AppendMessageRequest struct {
	Role    string `json:"role" enum:"user,assistant"`
	Content string `json:"content" minLength:"1"`
}

type MessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

type EventsResponse struct {
	Items []domain.Event `json:"items"`
}

func toEvaluateResponse(attemptID string, outcome domain.Outcome, feedback domain.Feedback, unlocked []domain.Unlock) EvaluateResponse {
	return EvaluateResponse{
		AttemptID: attemptID,
		Status:    outcome.String(),
		Feedback:  feedback.Normalize(),
		Unlocked:  nonNilSlice(unlocked),
	}
}

func toAttemptResponse(a domain.Attempt) AttemptResponse {
	var fb *domain.Feedback
	if a.Feedback != nil {
		n := a.Feedback.Normalize()
		fb = &n
	}
	return AttemptResponse{
		AttemptID:       a.ID,
		ConversationID:  a.ConversationID,
		SubmodeID:       string(a.Track),
		DifficultyLevel: int(a.Level),
		Status:          a.Outcome.String(),
		Feedback:        fb,
		CreatedAt:       a.CreatedAt,
	}
}

func toAttemptResponses(in []domain.Attempt) []AttemptResponse {
	out := make([]AttemptResponse, 0, len(in))
	for _, a := range in {
		out = append(out, toAttemptResponse(a))
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

package domain

import (
	"fmt"
	"strings"
)

// Track identifies a training track in the campaign (for example "first_contact").
type Track string

// Level is a difficulty tier inside a track.
type Level int

const (
	LevelEasy   Level = 1
	LevelMedium Level = 2
	LevelHard   Level = 3
)

// Levels lists every difficulty tier in ascending order.
var Levels = []Level{LevelEasy, LevelMedium, LevelHard}

// Valid reports whether l is one of the three campaign tiers.
func (l Level) Valid() bool {
	return l >= LevelEasy && l <= LevelHard
}

// Outcome is the terminal result of one evaluation.
type Outcome uint8

const (
	OutcomeFail Outcome = iota
	OutcomePass
)

func (o Outcome) String() string {
	if o == OutcomePass {
		return "pass"
	}
	return "fail"
}

// ParseOutcome converts the wire representation back into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass":
		return OutcomePass, nil
	case "fail":
		return OutcomeFail, nil
	default:
		return OutcomeFail, fmt.Errorf("invalid outcome %q", s)
	}
}

// Feedback is the structured explanation returned by the scorer.
type Feedback struct {
	Observed       []string `json:"observed"`
	Interpretation []string `json:"interpretation"`
}

// EmptyFeedback returns feedback with non-nil empty lists so it encodes as [].
func EmptyFeedback() Feedback {
	return Feedback{Observed: []string{}, Interpretation: []string{}}
}

// Normalize replaces nil lists with empty ones.
func (f Feedback) Normalize() Feedback {
	if f.Observed == nil {
		f.Observed = []string{}
	}
	if f.Interpretation == nil {
		f.Interpretation = []string{}
	}
	return f
}

// Unlock names one (track, level) cell of the campaign.
type Unlock struct {
	Track Track `json:"submode_id"`
	Level Level `json:"difficulty_level"`
}

func (u Unlock) String() string {
	return fmt.Sprintf("%s/%d", u.Track, u.Level)
}

type ProgressEntry struct {
	UserID     string  `json:"user_id"`
	Track      Track   `json:"submode_id"`
	Level      Level   `json:"difficulty_level"`
	IsUnlocked bool    `json:"is_unlocked"`
	Passed     bool    `json:"passed"`
	PassedAt   *string `json:"passed_at,omitempty" format:"date-time"`
}

type LevelState struct {
	Level      Level   `json:"difficulty_level"`
	IsUnlocked bool    `json:"is_unlocked"`
	Passed     bool    `json:"passed"`
	PassedAt   *string `json:"passed_at" format:"date-time"`
}

type TrackProgress struct {
	Track  Track        `json:"submode_id"`
	Levels []LevelState `json:"levels"`
}

// ProgressSnapshot is the full campaign state for one user.
type ProgressSnapshot struct {
	OnboardingComplete bool            `json:"onboarding_complete"`
	Tracks             []TrackProgress `json:"trainings"`
}

// Attempt is an immutable record of one evaluation.
type Attempt struct {
	ID             string    `json:"attempt_id"`
	UserID         string    `json:"user_id"`
	ConversationID *string   `json:"conversation_id"`
	Track          Track     `json:"submode_id"`
	Level          Level     `json:"difficulty_level"`
	Outcome        Outcome   `json:"-"`
	Feedback       *Feedback `json:"feedback"`
	CreatedAt      string    `json:"created_at" format:"date-time"`
}

type Conversation struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Track     Track  `json:"submode_id"`
	Level     *Level `json:"difficulty_level,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// MessageRole is who authored a stored chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role" enum:"user,assistant"`
	Content        string      `json:"content"`
	CreatedAt      string      `json:"created_at" format:"date-time"`
}

// Speaker is the transcript-level view of a message author.
type Speaker int

const (
	SpeakerUser Speaker = iota
	SpeakerOther
)

type TranscriptLine struct {
	Speaker Speaker
	Text    string
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

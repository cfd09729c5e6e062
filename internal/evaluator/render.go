package evaluator

import (
	"fmt"
	"strings"

	"datecoach/internal/domain"
)

// DifficultyLabel names a level for the scoring prompt. Unknown levels read
// as "Medium"; the unlock rule stays strict about them.
func DifficultyLabel(l domain.Level) string {
	switch l {
	case domain.LevelEasy:
		return "Easy"
	case domain.LevelHard:
		return "Hard"
	default:
		return "Medium"
	}
}

// RenderTranscript writes one "User: ..." or "Character: ..." line per turn.
// Every non-user speaker, coach included, is a Character.
func RenderTranscript(lines []domain.TranscriptLine) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		who := "Character"
		if l.Speaker == domain.SpeakerUser {
			who = "User"
		}
		out = append(out, who+": "+l.Text)
	}
	return strings.Join(out, "\n")
}

// RenderUserMessage builds the single user turn sent to the scorer.
func RenderUserMessage(track domain.Track, level domain.Level, lines []domain.TranscriptLine) string {
	return fmt.Sprintf("Training: %s\nDifficulty: %s\n\nConversation transcript:\n%s\n\nEvaluate and return JSON only.",
		track, DifficultyLabel(level), RenderTranscript(lines))
}

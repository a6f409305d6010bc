package game

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExportSession appends the result of a closed round to a text file.
func ExportSession(s *Session, filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Open file in append mode
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(FormatResults(s)); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

// FormatResults renders a round as a plain text block.
func FormatResults(s *Session) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Diffuse game %s\n", s.Code))
	sb.WriteString(fmt.Sprintf("Started: %s\n", s.CreatedAt.Format("2006-01-02 15:04:05")))
	if closed := s.ClosedAt(); !closed.IsZero() {
		sb.WriteString(fmt.Sprintf("Ended: %s\n", closed.Format("2006-01-02 15:04:05")))
	}
	sb.WriteString(fmt.Sprintf("Questioner: %s\n", s.Questioner.Mention()))
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	sb.WriteString(fmt.Sprintf("Prompt: %q\n", s.Gold.PositiveInputForm))
	if s.Gold.Negative != nil {
		sb.WriteString(fmt.Sprintf("Negative prompt: %q\n", s.Gold.NegativeInputForm))
	}

	ranking := s.Ranking()
	if len(ranking) == 0 {
		sb.WriteString("\nNo submissions.\n")
	} else {
		sb.WriteString("\nSubmissions:\n")
		for i, sub := range ranking {
			sb.WriteString(fmt.Sprintf("%d. %s (%s): %q score %.2f%%", i+1, sub.Player.DisplayName, sub.Player.Mention(),
				deref(sub.Positive), sub.Score*100))
			if sub.Negative != nil {
				sb.WriteString(fmt.Sprintf(" negative %q", *sub.Negative))
			}
			sb.WriteString("\n")
		}
	}
	sb.WriteString(fmt.Sprintf("Exported at %s\n", time.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")
	return sb.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

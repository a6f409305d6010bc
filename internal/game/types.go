package game

import (
	"context"
	"time"
)

type State string

const (
	StateOpen   State = "Open"
	StateClosed State = "Closed"
)

type CloseReason string

const (
	CloseTimeout CloseReason = "timeout"
	CloseStopped CloseReason = "stopped"
	CloseWon     CloseReason = "won"
)

// Embedder is the text encoder used for scoring. It returns one row per
// token; rows are mean-pooled before comparison.
type Embedder interface {
	EmbedTokens(ctx context.Context, text string) ([][]float32, error)
}

type SessionConfig struct {
	InitialChance               int           `json:"initialChance" yaml:"initial_chance"`
	IncludeNegativeOnFinalScore bool          `json:"includeNegativeOnFinalScore" yaml:"include_negative_on_final_score"`
	Duration                    time.Duration `json:"duration" yaml:"duration"`
	// WinScore closes the round early once a submission reaches it. Zero disables.
	WinScore float64 `json:"winScore" yaml:"win_score"`
}

const DefaultInitialChance = 5

func (c SessionConfig) withDefaults() SessionConfig {
	if c.InitialChance <= 0 {
		c.InitialChance = DefaultInitialChance
	}
	return c
}

type Player struct {
	URL         string `json:"url"`
	Acct        string `json:"acct"`
	DisplayName string `json:"displayName"`
}

// Mention renders the player as an @-mention.
func (p Player) Mention() string {
	return "@" + p.Acct
}

// GoldPrompt is the hidden prompt pair. InputForm fields keep the text as the
// questioner typed it, for the reveal.
type GoldPrompt struct {
	Positive          *string
	Negative          *string
	PositiveInputForm string
	NegativeInputForm string
}

// Submission is one player's kept guess. It is a value: updating it means
// storing a new value.
type Submission struct {
	StatusID      string    `json:"statusId"`
	Player        Player    `json:"player"`
	Positive      *string   `json:"positive"`
	Negative      *string   `json:"negative"`
	Score         float64   `json:"score"`
	ScorePositive float64   `json:"scorePositive"`
	ScoreNegative float64   `json:"scoreNegative"`
	LeftChance    int       `json:"leftChance"`
	SubmittedAt   time.Time `json:"submittedAt"`

	seq uint64
}

type SubmitRequest struct {
	StatusID string
	// InReplyToID, when set, must name an eligible post of the round.
	InReplyToID string
	Player   Player
	Positive *string
	Negative *string
}

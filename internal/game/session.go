package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrNoChancesLeft  = errors.New("no chances left")
	ErrNotEligible    = errors.New("reply target is not part of this game")
	ErrGameInProgress = errors.New("game already in progress")
	ErrNoActiveGame   = errors.New("no active game")
	ErrMissingPrompt  = errors.New("positive prompt required")
)

type polarity struct {
	embedding [][]float32
	mean      []float32
}

// Session is one round of the guessing game.
type Session struct {
	ID         string
	Code       string
	CreatedAt  time.Time
	Config     SessionConfig
	Questioner Player
	Gold       GoldPrompt

	embedder Embedder
	positive polarity
	negative polarity

	// submitMu orders attempts; mu guards the fields below and is never held
	// while embedding.
	submitMu sync.Mutex
	mu       sync.Mutex

	state            State
	closedAt         time.Time
	questionStatusID string
	seq              uint64
	submissions      map[string]Submission // account URL -> kept submission
	eligible         map[string]struct{}
}

// AttemptResult describes one call to Attempt: the scores of the new guess
// and the submission that is stored afterwards.
type AttemptResult struct {
	Kept          Submission
	Score         float64
	ScorePositive float64
	ScoreNegative float64
	// Improved reports whether the new guess replaced the stored one.
	Improved bool
}

// NewSession embeds the gold prompts once; a missing polarity has no
// embedding.
func NewSession(ctx context.Context, emb Embedder, cfg SessionConfig, gold GoldPrompt, questioner Player) (*Session, error) {
	if gold.Positive == nil && gold.Negative == nil {
		return nil, ErrMissingPrompt
	}
	s := &Session{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Config:      cfg.withDefaults(),
		Questioner:  questioner,
		Gold:        gold,
		embedder:    emb,
		state:       StateOpen,
		submissions: make(map[string]Submission),
		eligible:    make(map[string]struct{}),
	}
	var err error
	if s.positive, err = embedGold(ctx, emb, gold.Positive); err != nil {
		return nil, fmt.Errorf("embed gold positive: %w", err)
	}
	if s.negative, err = embedGold(ctx, emb, gold.Negative); err != nil {
		return nil, fmt.Errorf("embed gold negative: %w", err)
	}
	return s, nil
}

func embedGold(ctx context.Context, emb Embedder, prompt *string) (polarity, error) {
	if prompt == nil {
		return polarity{}, nil
	}
	rows, err := emb.EmbedTokens(ctx, *prompt)
	if err != nil {
		return polarity{}, err
	}
	mean := MeanPool(rows)
	if mean == nil {
		return polarity{}, errors.New("empty embedding")
	}
	return polarity{embedding: rows, mean: mean}, nil
}

// Submit scores a guess and returns the submission kept for the player.
func (s *Session) Submit(ctx context.Context, req SubmitRequest) (Submission, error) {
	res, err := s.Attempt(ctx, req)
	if err != nil {
		return Submission{}, err
	}
	return res.Kept, nil
}

// Attempt scores a guess. Every attempt costs one chance; a guess that scores
// lower than the stored one only updates the remaining chances.
func (s *Session) Attempt(ctx context.Context, req SubmitRequest) (AttemptResult, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return AttemptResult{}, ErrSessionClosed
	}
	if req.InReplyToID != "" {
		if _, ok := s.eligible[req.InReplyToID]; !ok {
			s.mu.Unlock()
			return AttemptResult{}, ErrNotEligible
		}
	}
	if s.leftChanceLocked(req.Player.URL) <= 0 {
		s.mu.Unlock()
		return AttemptResult{}, ErrNoChancesLeft
	}
	s.mu.Unlock()

	scorePositive, err := SimilarityScore(ctx, s.embedder, req.Positive, s.Gold.Positive, s.positive.mean)
	if err != nil {
		return AttemptResult{}, fmt.Errorf("score positive: %w", err)
	}
	scoreNegative, err := SimilarityScore(ctx, s.embedder, req.Negative, s.Gold.Negative, s.negative.mean)
	if err != nil {
		return AttemptResult{}, fmt.Errorf("score negative: %w", err)
	}
	score := FinalScore(scorePositive, scoreNegative, s.Config.IncludeNegativeOnFinalScore)

	s.mu.Lock()
	defer s.mu.Unlock()
	// the round may have closed while we were scoring
	if s.state == StateClosed {
		return AttemptResult{}, ErrSessionClosed
	}

	prev, hadPrev := s.submissions[req.Player.URL]
	left := s.Config.InitialChance - 1
	if hadPrev {
		left = prev.LeftChance - 1
	}
	next := Submission{
		StatusID:      req.StatusID,
		Player:        req.Player,
		Positive:      req.Positive,
		Negative:      req.Negative,
		Score:         score,
		ScorePositive: scorePositive,
		ScoreNegative: scoreNegative,
		LeftChance:    left,
		SubmittedAt:   time.Now().UTC(),
	}
	// an equal re-guess keeps the player's place among tied scores
	if hadPrev && prev.Score == next.Score {
		next.seq = prev.seq
	} else {
		s.seq++
		next.seq = s.seq
	}

	res := AttemptResult{Score: score, ScorePositive: scorePositive, ScoreNegative: scoreNegative}
	if hadPrev && prev.Score > next.Score {
		kept := prev
		kept.LeftChance = left
		s.submissions[req.Player.URL] = kept
		res.Kept = kept
	} else {
		s.submissions[req.Player.URL] = next
		res.Kept = next
		res.Improved = true
	}

	log.Info().Str("game", s.Code).Str("acct", req.Player.Acct).
		Float64("score_positive", scorePositive).Float64("score_negative", scoreNegative).
		Int("left_chance", left).Msg("game:submit")
	return res, nil
}

func (s *Session) LeftChanceFor(accountURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leftChanceLocked(accountURL)
}

func (s *Session) leftChanceLocked(accountURL string) int {
	sub, ok := s.submissions[accountURL]
	if !ok {
		return s.Config.InitialChance
	}
	return sub.LeftChance
}

func (s *Session) RegisterEligible(statusID string) {
	if statusID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eligible[statusID] = struct{}{}
}

func (s *Session) IsEligible(statusID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.eligible[statusID]
	return ok
}

// SetQuestionStatus records the post that shows the puzzle image and makes it
// eligible for replies.
func (s *Session) SetQuestionStatus(statusID string) {
	s.mu.Lock()
	s.questionStatusID = statusID
	s.mu.Unlock()
	s.RegisterEligible(statusID)
}

func (s *Session) QuestionStatusID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questionStatusID
}

// Close ends the round. It reports false if the round was already closed.
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	s.closedAt = time.Now().UTC()
	return true
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ClosedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedAt
}

func (s *Session) SubmissionFor(accountURL string) (Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[accountURL]
	return sub, ok
}

// Ranking returns kept submissions, best score first; ties go to the earlier
// submission.
func (s *Session) Ranking() []Submission {
	s.mu.Lock()
	out := make([]Submission, 0, len(s.submissions))
	for _, sub := range s.submissions {
		out = append(out, sub)
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Winners returns every submission sharing the best score.
func (s *Session) Winners() []Submission {
	ranking := s.Ranking()
	if len(ranking) == 0 {
		return nil
	}
	best := ranking[0].Score
	var out []Submission
	for _, sub := range ranking {
		if sub.Score < best {
			break
		}
		out = append(out, sub)
	}
	return out
}

func (s *Session) SubmissionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submissions)
}

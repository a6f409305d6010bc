package game

import (
	"context"
	"slices"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CloseListener runs after a round has closed, outside the manager lock.
type CloseListener func(s *Session, reason CloseReason)

// Manager owns the single open round and its timeout.
type Manager struct {
	mu        sync.Mutex
	embedder  Embedder
	active    *Session
	last      *Session
	timer     *time.Timer
	listeners []CloseListener
}

func NewManager(emb Embedder) *Manager {
	return &Manager{embedder: emb}
}

func (m *Manager) OnClose(fn CloseListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start opens a new round. Gold embeddings are computed before the round
// becomes visible, so a failing embedder leaves no half-open round behind.
func (m *Manager) Start(ctx context.Context, cfg SessionConfig, gold GoldPrompt, questioner Player) (*Session, error) {
	if m.Active() != nil {
		return nil, ErrGameInProgress
	}
	s, err := NewSession(ctx, m.embedder, cfg, gold, questioner)
	if err != nil {
		return nil, err
	}
	s.Code = gonanoid.MustGenerate(codeAlphabet, 5)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, ErrGameInProgress
	}
	m.active = s
	if d := s.Config.Duration; d > 0 {
		m.timer = time.AfterFunc(d, func() {
			if m.Close(s, CloseTimeout) {
				log.Info().Str("game", s.Code).Msg("game timed out")
			}
		})
	}
	log.Info().Str("game", s.Code).Str("questioner", questioner.Acct).
		Int("initial_chance", s.Config.InitialChance).Dur("duration", s.Config.Duration).Msg("game:start")
	return s, nil
}

// Active returns the open round, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Last returns the most recently closed round, or nil.
func (m *Manager) Last() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Stop closes the open round.
func (m *Manager) Stop(reason CloseReason) (*Session, error) {
	s := m.Active()
	if s == nil {
		return nil, ErrNoActiveGame
	}
	if !m.Close(s, reason) {
		return nil, ErrNoActiveGame
	}
	return s, nil
}

// Close closes s if it is still the open round and notifies listeners. It
// reports whether this call closed it.
func (m *Manager) Close(s *Session, reason CloseReason) bool {
	m.mu.Lock()
	if m.active != s {
		m.mu.Unlock()
		return false
	}
	m.active = nil
	m.last = s
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	if !s.Close() {
		return false
	}
	log.Info().Str("game", s.Code).Str("reason", string(reason)).Int("submissions", s.SubmissionCount()).Msg("game:close")
	for _, fn := range listeners {
		fn(s, reason)
	}
	return true
}

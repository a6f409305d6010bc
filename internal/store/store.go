package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nyahyun/diffusers-mastodon-bot/internal/game"
)

var ErrGameNotFound = errors.New("game not found")

// Store persists the processed-status ledger and closed games in sqlite.
type Store struct {
	db *sql.DB
}

// GameRecord is a closed game as stored.
type GameRecord struct {
	ID               string     `json:"id"`
	Code             string     `json:"code"`
	QuestionerAcct   string     `json:"questionerAcct"`
	QuestionerURL    string     `json:"questionerUrl"`
	QuestionStatusID string     `json:"questionStatusId,omitempty"`
	GoldPositive     *string    `json:"goldPositive"`
	GoldNegative     *string    `json:"goldNegative"`
	PositiveInput    string     `json:"positiveInput"`
	NegativeInput    string     `json:"negativeInput"`
	CloseReason      string     `json:"closeReason"`
	CreatedAt        time.Time  `json:"createdAt"`
	ClosedAt         *time.Time `json:"closedAt"`
	Submissions      int        `json:"submissions"`
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// MarkProcessed records a status id. It returns false when the id was already
// recorded, so redelivered statuses are dispatched once.
func (s *Store) MarkProcessed(ctx context.Context, statusID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO processed_statuses (status_id, processed_at) VALUES (?, ?)`,
		statusID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark status %s: %w", statusID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PruneProcessed forgets ids older than the cutoff.
func (s *Store) PruneProcessed(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_statuses WHERE processed_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed statuses: %w", err)
	}
	return res.RowsAffected()
}

// SaveGame stores a game and its ranked submissions, replacing an earlier copy.
func (s *Store) SaveGame(ctx context.Context, g *game.Session, reason game.CloseReason) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var closedAt *time.Time
	if t := g.ClosedAt(); !t.IsZero() {
		closedAt = &t
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM game_submissions WHERE game_id = ?`, g.ID); err != nil {
		return fmt.Errorf("failed to clear submissions: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO games
		(id, code, questioner_acct, questioner_url, question_status_id, gold_positive, gold_negative,
		 positive_input, negative_input, close_reason, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Code, g.Questioner.Acct, g.Questioner.URL, g.QuestionStatusID(), g.Gold.Positive, g.Gold.Negative,
		g.Gold.PositiveInputForm, g.Gold.NegativeInputForm, string(reason), g.CreatedAt, closedAt)
	if err != nil {
		return fmt.Errorf("failed to save game %s: %w", g.Code, err)
	}

	for i, sub := range g.Ranking() {
		_, err := tx.ExecContext(ctx, `INSERT INTO game_submissions
			(game_id, account_url, acct, display_name, status_id, positive, negative,
			 score, score_positive, score_negative, left_chance, rank, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, sub.Player.URL, sub.Player.Acct, sub.Player.DisplayName, sub.StatusID, sub.Positive, sub.Negative,
			sub.Score, sub.ScorePositive, sub.ScoreNegative, sub.LeftChance, i+1, sub.SubmittedAt)
		if err != nil {
			return fmt.Errorf("failed to save submission of %s: %w", sub.Player.Acct, err)
		}
	}
	return tx.Commit()
}

// RecentGames lists stored games, newest first.
func (s *Store) RecentGames(ctx context.Context, limit int) ([]GameRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT g.id, g.code, g.questioner_acct, g.questioner_url,
			COALESCE(g.question_status_id, ''), g.gold_positive, g.gold_negative,
			COALESCE(g.positive_input, ''), COALESCE(g.negative_input, ''), g.close_reason, g.created_at, g.closed_at,
			(SELECT COUNT(*) FROM game_submissions s WHERE s.game_id = g.id)
		FROM games g ORDER BY g.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query games: %w", err)
	}
	defer rows.Close()

	var out []GameRecord
	for rows.Next() {
		var (
			r        GameRecord
			pos, neg sql.NullString
			closedAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Code, &r.QuestionerAcct, &r.QuestionerURL, &r.QuestionStatusID, &pos, &neg,
			&r.PositiveInput, &r.NegativeInput, &r.CloseReason, &r.CreatedAt, &closedAt, &r.Submissions); err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		r.GoldPositive = nullString(pos)
		r.GoldNegative = nullString(neg)
		if closedAt.Valid {
			t := closedAt.Time
			r.ClosedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GameSubmissions returns the ranked submissions of a stored game.
func (s *Store) GameSubmissions(ctx context.Context, gameID string) ([]game.Submission, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM games WHERE id = ?`, gameID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up game: %w", err)
	}
	if exists == 0 {
		return nil, ErrGameNotFound
	}

	rows, err := s.db.QueryContext(ctx, `SELECT account_url, acct, COALESCE(display_name, ''), COALESCE(status_id, ''),
			positive, negative, score, score_positive, score_negative, left_chance, submitted_at
		FROM game_submissions WHERE game_id = ? ORDER BY rank`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var out []game.Submission
	for rows.Next() {
		var (
			sub      game.Submission
			pos, neg sql.NullString
		)
		if err := rows.Scan(&sub.Player.URL, &sub.Player.Acct, &sub.Player.DisplayName, &sub.StatusID, &pos, &neg,
			&sub.Score, &sub.ScorePositive, &sub.ScoreNegative, &sub.LeftChance, &sub.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		sub.Positive = nullString(pos)
		sub.Negative = nullString(neg)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

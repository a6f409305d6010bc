package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nyahyun/diffusers-mastodon-bot/internal/bot"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/diffusion"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/game"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/mastodon"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/prompt"
)

// Scoreboard receives game progress for live display.
type Scoreboard interface {
	GameStarted(s *game.Session)
	SubmissionScored(s *game.Session, sub game.Submission)
	GameClosed(s *game.Session, reason game.CloseReason)
}

type GameOptions struct {
	StartTag string
	StopTag  string
	Session  game.SessionConfig
	Defaults diffusion.Params
	// RankingSize limits how many players the result post lists.
	RankingSize int
}

// Game runs the prompt guessing game: a questioner starts a round with a
// hidden prompt, players reply to the question post with guesses.
type Game struct {
	games    *game.Manager
	renderer diffusion.Renderer
	poster   bot.Poster
	board    Scoreboard
	opts     GameOptions
}

// NewGame registers a close listener on games that posts the results.
func NewGame(games *game.Manager, renderer diffusion.Renderer, poster bot.Poster, board Scoreboard, opts GameOptions) *Game {
	if opts.RankingSize <= 0 {
		opts.RankingSize = 5
	}
	g := &Game{games: games, renderer: renderer, poster: poster, board: board, opts: opts}
	games.OnClose(g.announceResults)
	return g
}

func (g *Game) Kind() bot.HandlerKind { return bot.KindGame }

func (g *Game) Matches(rc *bot.RequestContext) bool {
	if !rc.MentionsBot() {
		return false
	}
	if rc.ContainsTag(g.opts.StartTag) || rc.ContainsTag(g.opts.StopTag) {
		return true
	}
	s := g.games.Active()
	replyTo := rc.Status().InReplyToID
	return s != nil && replyTo != "" && s.IsEligible(replyTo)
}

func (g *Game) Handle(ctx context.Context, rc *bot.RequestContext) (bool, error) {
	switch {
	case rc.ContainsTag(g.opts.StopTag):
		return true, g.stop(ctx, rc)
	case rc.ContainsTag(g.opts.StartTag):
		return true, g.start(ctx, rc)
	default:
		return true, g.submit(ctx, rc)
	}
}

func playerOf(a mastodon.Account) game.Player {
	name := a.DisplayName
	if name == "" {
		name = a.Username
	}
	return game.Player{URL: a.URL, Acct: a.Acct, DisplayName: name}
}

func (g *Game) start(ctx context.Context, rc *bot.RequestContext) error {
	if g.games.Active() != nil {
		_, err := rc.Reply(ctx, "A game is already running. Please wait for it to end.")
		return err
	}
	parsed := parsedPrompt(rc)
	if parsed.Positive == nil {
		_, err := rc.Reply(ctx, "Please write the hidden prompt after the tag.")
		return err
	}
	args, _, err := diffusion.ParseArgs(parsed.Args)
	if err != nil {
		_, rerr := rc.Reply(ctx, "Invalid option: "+err.Error())
		return rerr
	}

	req := diffusion.Request{Prompt: *parsed.Positive, Params: g.opts.Defaults.Merge(args)}
	gold := game.GoldPrompt{Positive: normalized(parsed.Positive), PositiveInputForm: *parsed.Positive}
	if parsed.Negative != nil {
		req.NegativePrompt = *parsed.Negative
		gold.Negative = normalized(parsed.Negative)
		gold.NegativeInputForm = *parsed.Negative
	}

	images, err := g.renderer.Render(ctx, req)
	if err == nil && len(images) == 0 {
		err = diffusion.ErrNoImages
	}
	if err != nil {
		_, _ = rc.Reply(ctx, "Sorry, rendering the question failed.", bot.WithVisibility(mastodon.VisibilityDirect))
		return fmt.Errorf("render question: %w", err)
	}

	s, err := g.games.Start(ctx, g.opts.Session, gold, playerOf(rc.Author()))
	if errors.Is(err, game.ErrGameInProgress) {
		_, rerr := rc.Reply(ctx, "A game is already running. Please wait for it to end.")
		return rerr
	}
	if err != nil {
		return fmt.Errorf("start game: %w", err)
	}

	question, err := g.postQuestion(ctx, s, images)
	if err != nil {
		g.games.Close(s, game.CloseStopped)
		return err
	}
	s.SetQuestionStatus(question.ID)
	if g.board != nil {
		g.board.GameStarted(s)
	}

	_, err = rc.Reply(ctx, fmt.Sprintf("Game %s started: %s", s.Code, question.URL),
		bot.WithVisibility(mastodon.VisibilityDirect))
	return err
}

func (g *Game) postQuestion(ctx context.Context, s *game.Session, images [][]byte) (*mastodon.Status, error) {
	if len(images) > 1 {
		images = images[:1]
	}
	att, err := g.poster.UploadMedia(ctx, images[0], "question.png", "guess the prompt")
	if err != nil {
		return nil, fmt.Errorf("%w: upload question: %w", bot.ErrReplyDelivery, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Guess the prompt! Game %s by %s\n", s.Code, s.Questioner.Mention())
	fmt.Fprintf(&b, "Reply to this post with your guess. You have %d chances.", s.Config.InitialChance)
	if s.Config.IncludeNegativeOnFinalScore {
		b.WriteString(" The negative prompt counts too (negative: ...).")
	}
	if d := s.Config.Duration; d > 0 {
		fmt.Fprintf(&b, "\nThe game ends in %s.", d.Round(time.Minute))
	}

	st, err := g.poster.PostStatus(ctx, mastodon.Toot{
		Status:     b.String(),
		MediaIDs:   []string{att.ID},
		Visibility: mastodon.VisibilityUnlisted,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: post question: %w", bot.ErrReplyDelivery, err)
	}
	return st, nil
}

func (g *Game) stop(ctx context.Context, rc *bot.RequestContext) error {
	s := g.games.Active()
	if s == nil {
		_, err := rc.Reply(ctx, "There is no game running.")
		return err
	}
	if rc.Author().URL != s.Questioner.URL {
		_, err := rc.Reply(ctx, "Only the questioner can stop the game.")
		return err
	}
	if _, err := g.games.Stop(game.CloseStopped); err != nil && !errors.Is(err, game.ErrNoActiveGame) {
		return err
	}
	return nil
}

func (g *Game) submit(ctx context.Context, rc *bot.RequestContext) error {
	s := g.games.Active()
	if s == nil {
		return nil
	}
	player := playerOf(rc.Author())
	if player.URL == s.Questioner.URL {
		_, err := rc.Reply(ctx, "You asked this question, so you cannot answer it.")
		return err
	}
	parsed := parsedPrompt(rc)
	if parsed.Positive == nil && parsed.Negative == nil {
		_, err := rc.Reply(ctx, "Please write your guess.")
		return err
	}

	st := rc.Status()
	res, err := s.Attempt(ctx, game.SubmitRequest{
		StatusID:    st.ID,
		InReplyToID: st.InReplyToID,
		Player:      player,
		Positive:    normalized(parsed.Positive),
		Negative:    normalized(parsed.Negative),
	})
	switch {
	case errors.Is(err, game.ErrNoChancesLeft):
		_, rerr := rc.Reply(ctx, "You have no chances left in this game.")
		return rerr
	case errors.Is(err, game.ErrSessionClosed):
		_, rerr := rc.Reply(ctx, "This game is already over.")
		return rerr
	case errors.Is(err, game.ErrNotEligible):
		return nil
	case err != nil:
		return fmt.Errorf("score guess: %w", err)
	}

	reply, err := rc.Reply(ctx, scoreText(s, res))
	if reply != nil {
		s.RegisterEligible(reply.ID)
	}
	if g.board != nil {
		g.board.SubmissionScored(s, res.Kept)
	}
	if win := s.Config.WinScore; win > 0 && res.Kept.Score >= win {
		g.games.Close(s, game.CloseWon)
	}
	return err
}

func scoreText(s *game.Session, res game.AttemptResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "score: %s", percent(res.Score))
	if s.Config.IncludeNegativeOnFinalScore {
		fmt.Fprintf(&b, " (positive %s, negative %s)", percent(res.ScorePositive), percent(res.ScoreNegative))
	}
	if !res.Improved {
		fmt.Fprintf(&b, "\nyour best guess so far is kept: %s", percent(res.Kept.Score))
	}
	fmt.Fprintf(&b, "\nchances left: %d", res.Kept.LeftChance)
	return b.String()
}

// announceResults replies to the question post with the revealed prompt and
// the ranking.
func (g *Game) announceResults(s *game.Session, reason game.CloseReason) {
	if g.board != nil {
		g.board.GameClosed(s, reason)
	}
	// the question was never posted
	if s.QuestionStatusID() == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := g.poster.PostStatus(ctx, mastodon.Toot{
		Status:      resultText(s, reason, g.opts.RankingSize),
		InReplyToID: s.QuestionStatusID(),
		Visibility:  mastodon.VisibilityUnlisted,
	})
	if err != nil {
		log.Error().Err(err).Str("game", s.Code).Msg("failed to post results")
	}
}

func resultText(s *game.Session, reason game.CloseReason, size int) string {
	var b strings.Builder
	switch reason {
	case game.CloseWon:
		fmt.Fprintf(&b, "Game %s was solved!\n", s.Code)
	case game.CloseStopped:
		fmt.Fprintf(&b, "Game %s was stopped by %s.\n", s.Code, s.Questioner.Mention())
	default:
		fmt.Fprintf(&b, "Game %s is over.\n", s.Code)
	}
	fmt.Fprintf(&b, "prompt: %s\n", s.Gold.PositiveInputForm)
	if s.Gold.Negative != nil {
		fmt.Fprintf(&b, "negative prompt: %s\n", s.Gold.NegativeInputForm)
	}

	ranking := s.Ranking()
	if len(ranking) == 0 {
		b.WriteString("\nNobody answered.")
		return b.String()
	}
	b.WriteString("\n")
	for i, sub := range ranking {
		if i >= size {
			break
		}
		fmt.Fprintf(&b, "%d. %s %s", i+1, sub.Player.Mention(), percent(sub.Score))
		if sub.Positive != nil {
			fmt.Fprintf(&b, " %q", *sub.Positive)
		}
		b.WriteString("\n")
	}
	winners := s.Winners()
	names := make([]string, 0, len(winners))
	for _, w := range winners {
		names = append(names, w.Player.Mention())
	}
	fmt.Fprintf(&b, "\nCongratulations %s!", strings.Join(names, " "))
	return b.String()
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func normalized(s *string) *string {
	if s == nil {
		return nil
	}
	n := strings.ToLower(prompt.Normalize(*s))
	if n == "" {
		return nil
	}
	return &n
}

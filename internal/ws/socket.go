package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/nyahyun/diffusers-mastodon-bot/internal/game"
)

const room = "scoreboard"

type ConnCtx struct {
	Watching bool
}

// Server pushes game progress to scoreboard clients.
type Server struct {
	Games *game.Manager

	mu      sync.Mutex
	io      *socketio.Server
	members map[string]socketio.Conn // socketID -> Conn
}

func New(games *game.Manager) *Server {
	return &Server{Games: games, members: make(map[string]socketio.Conn)}
}

// Mount attaches Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	// scoreboard:watch
	io.OnEvent("/", "scoreboard:watch", func(s socketio.Conn) map[string]any {
		s.SetContext(&ConnCtx{Watching: true})
		s.Join(room)
		srv.addMember(s)
		log.Info().Str("sid", s.ID()).Msg("scoreboard:watch")
		s.Emit("game:state", srv.currentState())
		return map[string]any{"ok": true}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		srv.removeMember(s)
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	srv.mu.Lock()
	srv.io = io
	srv.mu.Unlock()

	go io.Serve()

	// Mount to router
	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

func (srv *Server) addMember(c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.members[c.ID()] = c
}

func (srv *Server) removeMember(c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	delete(srv.members, c.ID())
}

// Watchers returns the number of connected scoreboard clients.
func (srv *Server) Watchers() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.members)
}

func (srv *Server) broadcast(event string, payload any) {
	srv.mu.Lock()
	io := srv.io
	srv.mu.Unlock()
	if io == nil {
		return
	}
	io.BroadcastToRoom("/", room, event, payload)
}

// GameStarted announces a new round without revealing its prompt.
func (srv *Server) GameStarted(s *game.Session) {
	srv.broadcast("game:started", SessionState(s))
}

// SubmissionScored pushes the stored submission and the refreshed ranking.
func (srv *Server) SubmissionScored(s *game.Session, sub game.Submission) {
	srv.broadcast("game:submission", map[string]any{
		"code":       s.Code,
		"submission": scoreEntry(sub),
		"ranking":    ranking(s),
	})
}

// GameClosed reveals the prompt and the winners.
func (srv *Server) GameClosed(s *game.Session, reason game.CloseReason) {
	payload := SessionState(s)
	payload["reason"] = string(reason)
	payload["prompt"] = s.Gold.PositiveInputForm
	if s.Gold.Negative != nil {
		payload["negativePrompt"] = s.Gold.NegativeInputForm
	}
	winners := make([]map[string]any, 0)
	for _, w := range s.Winners() {
		winners = append(winners, scoreEntry(w))
	}
	payload["winners"] = winners
	srv.broadcast("game:closed", payload)
}

func (srv *Server) currentState() map[string]any {
	if srv.Games == nil {
		return map[string]any{"active": false}
	}
	if s := srv.Games.Active(); s != nil {
		st := SessionState(s)
		st["active"] = true
		return st
	}
	return map[string]any{"active": false}
}

// SessionState is the public view of a round. Guessed prompts stay hidden
// while the round is open.
func SessionState(s *game.Session) map[string]any {
	return map[string]any{
		"code":             s.Code,
		"state":            string(s.State()),
		"createdAt":        s.CreatedAt.Format(time.RFC3339),
		"questioner":       s.Questioner.Acct,
		"initialChance":    s.Config.InitialChance,
		"questionStatusId": s.QuestionStatusID(),
		"ranking":          ranking(s),
	}
}

func ranking(s *game.Session) []map[string]any {
	out := make([]map[string]any, 0)
	open := s.State() == game.StateOpen
	for _, sub := range s.Ranking() {
		e := scoreEntry(sub)
		if !open && sub.Positive != nil {
			e["prompt"] = *sub.Positive
		}
		out = append(out, e)
	}
	return out
}

func scoreEntry(sub game.Submission) map[string]any {
	return map[string]any{
		"acct":        sub.Player.Acct,
		"displayName": sub.Player.DisplayName,
		"score":       sub.Score,
		"leftChance":  sub.LeftChance,
	}
}

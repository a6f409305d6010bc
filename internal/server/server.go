// Package server exposes the admin HTTP API and mounts the scoreboard socket.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/nyahyun/diffusers-mastodon-bot/internal/game"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/store"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/ws"
	staticserver "github.com/nyahyun/diffusers-mastodon-bot/static"
)

// Archive serves closed games.
type Archive interface {
	RecentGames(ctx context.Context, limit int) ([]store.GameRecord, error)
	GameSubmissions(ctx context.Context, gameID string) ([]game.Submission, error)
}

type Options struct {
	AdminUser string
	AdminPass string
	Version   string
}

type Server struct {
	games   *game.Manager
	archive Archive
	opts    Options
}

func New(games *game.Manager, archive Archive, opts Options) *Server {
	return &Server{games: games, archive: archive, opts: opts}
}

// Router builds the gin engine. sock may be nil.
func (srv *Server) Router(sock *ws.Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC(), "version": srv.opts.Version})
	})

	r.GET("/api/game/active", srv.activeGame)
	if srv.archive != nil {
		r.GET("/api/games/recent", srv.recentGames)
		r.GET("/api/games/:id/submissions", srv.gameSubmissions)
	}

	// admin routes only exist with credentials
	if srv.opts.AdminUser != "" && srv.opts.AdminPass != "" {
		auth := gin.BasicAuth(gin.Accounts{srv.opts.AdminUser: srv.opts.AdminPass})
		r.POST("/api/game/stop", auth, srv.stopGame)
	}

	if sock != nil {
		sock.Mount(r)
		r.GET("/scoreboard", gin.WrapH(staticserver.Handler()))
	}
	return r
}

// requestLogger logs requests, skipping socket.io polling noise.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		log.Info().Str("method", c.Request.Method).Str("path", path).
			Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	}
}

func (srv *Server) activeGame(c *gin.Context) {
	s := srv.games.Active()
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_active_game"})
		return
	}
	c.JSON(http.StatusOK, ws.SessionState(s))
}

func (srv *Server) stopGame(c *gin.Context) {
	s, err := srv.games.Stop(game.CloseStopped)
	if errors.Is(err, game.ErrNoActiveGame) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_active_game"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("game", s.Code).Msg("game stopped by admin")
	c.JSON(http.StatusOK, gin.H{"code": s.Code, "state": string(s.State())})
}

func (srv *Server) recentGames(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}
	games, err := srv.archive.RecentGames(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list games")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage"})
		return
	}
	if games == nil {
		games = []store.GameRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

func (srv *Server) gameSubmissions(c *gin.Context) {
	subs, err := srv.archive.GameSubmissions(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrGameNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "game_not_found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to list submissions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage"})
		return
	}
	if subs == nil {
		subs = []game.Submission{}
	}
	c.JSON(http.StatusOK, gin.H{"submissions": subs})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/nyahyun/diffusers-mastodon-bot/internal/bot"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/config"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/diffusion"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/embedding"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/game"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/handlers"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/mastodon"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/server"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/store"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/ws"
)

func run(ctx context.Context, cfg config.Config) error {
	cleanup, err := config.SetupLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := mastodon.New(cfg.EndpointURL, cfg.AccessToken)
	if cfg.StreamingURL != "" {
		client.StreamingURL = cfg.StreamingURL
	}
	me, err := client.VerifyCredentials(ctx)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	log.Info().Str("acct", me.Acct).Str("url", me.URL).Msg("logged in")

	emb, err := embedding.New(embedding.Config{
		Provider:      embedding.Provider(cfg.EmbeddingProvider),
		Model:         cfg.EmbeddingModel,
		OllamaHost:    cfg.OllamaHost,
		OpenAIKey:     cfg.OpenAIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	renderer := diffusion.NewWebUI(cfg.WebUIHost)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if n, err := db.PruneProcessed(ctx, time.Now().Add(-cfg.PruneAfter)); err != nil {
		log.Warn().Err(err).Msg("failed to prune processed statuses")
	} else if n > 0 {
		log.Info().Int64("pruned", n).Msg("pruned processed statuses")
	}

	games := game.NewManager(emb)
	games.OnClose(func(s *game.Session, reason game.CloseReason) {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.SaveGame(saveCtx, s, reason); err != nil {
			log.Error().Err(err).Str("game", s.Code).Msg("failed to save game")
		}
		if !cfg.ExportEnabled {
			return
		}
		if err := game.ExportSession(s, cfg.ExportFile); err != nil {
			log.Error().Err(err).Str("game", s.Code).Msg("failed to export game data")
		} else {
			log.Info().Str("game", s.Code).Str("file", cfg.ExportFile).Msg("exported game data")
		}
	})
	sock := ws.New(games)

	defaults := diffusion.Params(cfg.ProcKwargs)
	dispatcher := bot.NewDispatcher(*me, client, db,
		handlers.PromptParser{},
		handlers.NewGame(games, renderer, client, sock, handlers.GameOptions{
			StartTag: cfg.GameStartTag,
			StopTag:  cfg.GameStopTag,
			Session:  cfg.Game,
			Defaults: defaults,
		}),
		&handlers.Diffuse{
			Renderer: renderer,
			Tag:      cfg.DiffuseTag,
			Defaults: defaults,
			GridCell: cfg.GridCell,
		},
	)

	gin.SetMode(gin.ReleaseMode)
	api := server.New(games, db, server.Options{AdminUser: cfg.AdminUser, AdminPass: cfg.AdminPass, Version: Version})
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: api.Router(sock)}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	announce(ctx, client, cfg.ListenStart)

	events := make(chan mastodon.Status, 16)
	go func() {
		if err := client.Stream(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("stream stopped")
		}
	}()
	err = dispatcher.Run(ctx, events)
	log.Info().Msg("shutting down")
	if s := games.Active(); s != nil {
		games.Close(s, game.CloseStopped)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	announce(shutdownCtx, client, cfg.ListenEnd)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// announce posts a listen start/end notice when one is configured.
func announce(ctx context.Context, client *mastodon.Client, text string) {
	if text == "" {
		return
	}
	if _, err := client.PostStatus(ctx, mastodon.Toot{Status: text, Visibility: mastodon.VisibilityUnlisted}); err != nil {
		log.Warn().Err(err).Msg("failed to post announcement")
	}
}

package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyahyun/diffusers-mastodon-bot/internal/game"
)

type letterEmbedder struct{}

func (letterEmbedder) EmbedTokens(_ context.Context, text string) ([][]float32, error) {
	var rows [][]float32
	for _, r := range text {
		row := make([]float32, 128)
		row[r%128] = 1
		rows = append(rows, row)
	}
	return rows, nil
}

func strp(s string) *string { return &s }

func startGame(t *testing.T) (*game.Manager, *game.Session) {
	t.Helper()
	m := game.NewManager(letterEmbedder{})
	s, err := m.Start(context.Background(), game.SessionConfig{InitialChance: 3},
		game.GoldPrompt{Positive: strp("red cat"), PositiveInputForm: "Red cat"},
		game.Player{URL: "https://example.social/@host", Acct: "host"})
	require.NoError(t, err)
	return m, s
}

func TestSessionState_HidesPromptsWhileOpen(t *testing.T) {
	_, s := startGame(t)
	_, err := s.Submit(context.Background(), game.SubmitRequest{
		Player:   game.Player{URL: "https://example.social/@alice", Acct: "alice"},
		Positive: strp("red car"),
	})
	require.NoError(t, err)

	st := SessionState(s)
	assert.Equal(t, "Open", st["state"])
	assert.Equal(t, 3, st["initialChance"])
	rk := st["ranking"].([]map[string]any)
	require.Len(t, rk, 1)
	assert.Equal(t, "alice", rk[0]["acct"])
	assert.Equal(t, 2, rk[0]["leftChance"])
	_, revealed := rk[0]["prompt"]
	assert.False(t, revealed)

	s.Close()
	rk = SessionState(s)["ranking"].([]map[string]any)
	assert.Equal(t, "red car", rk[0]["prompt"])
}

func TestCurrentState(t *testing.T) {
	m, s := startGame(t)
	srv := New(m)

	st := srv.currentState()
	assert.Equal(t, true, st["active"])
	assert.Equal(t, s.Code, st["code"])

	_, err := m.Stop(game.CloseStopped)
	require.NoError(t, err)
	assert.Equal(t, false, srv.currentState()["active"])
}

func TestBroadcastBeforeMount_IsNoop(t *testing.T) {
	m, s := startGame(t)
	srv := New(m)
	assert.NotPanics(t, func() {
		srv.GameStarted(s)
		srv.GameClosed(s, game.CloseTimeout)
	})
	assert.Equal(t, 0, srv.Watchers())
}

func TestMount_RegistersPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	srv := New(nil)
	io := srv.Mount(r)
	defer io.Close()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/socket.io/", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

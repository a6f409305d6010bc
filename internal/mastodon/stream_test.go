package mastodon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeEvent(t *testing.T, event string, payload any) streamMessage {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return streamMessage{Stream: []string{"user"}, Event: event, Payload: string(b)}
}

func TestDecodeEvent_Update(t *testing.T) {
	st, ok, err := decodeEvent(encodeEvent(t, "update", Status{ID: "7", Content: "<p>hi</p>"}))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "7", st.ID)
}

func TestDecodeEvent_MentionNotification(t *testing.T) {
	n := Notification{ID: "n1", Type: "mention", Status: &Status{ID: "8"}}
	st, ok, err := decodeEvent(encodeEvent(t, "notification", n))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "8", st.ID)
}

func TestDecodeEvent_IgnoresOtherNotifications(t *testing.T) {
	n := Notification{ID: "n1", Type: "favourite", Status: &Status{ID: "8"}}
	_, ok, err := decodeEvent(encodeEvent(t, "notification", n))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = decodeEvent(streamMessage{Event: "delete", Payload: "8"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeEvent_BadPayload(t *testing.T) {
	_, _, err := decodeEvent(streamMessage{Event: "update", Payload: "{"})
	assert.Error(t, err)
}

func TestStreamURL(t *testing.T) {
	c := New("https://example.social", "tok")
	u, err := c.streamURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://example.social/api/v1/streaming?stream=user", u)

	c.StreamingURL = "http://localhost:4000/"
	u, err = c.streamURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:4000/api/v1/streaming?stream=user", u)

	c.StreamingURL = "ftp://nope"
	_, err = c.streamURL()
	assert.Error(t, err)
}

func TestStream_DeliversStatusesFromWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/streaming", r.URL.Path)
		assert.Equal(t, "user", r.URL.Query().Get("stream"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(encodeEvent(t, "update", Status{ID: "1"}))
		conn.WriteJSON(encodeEvent(t, "notification", Notification{Type: "follow"}))
		conn.WriteJSON(encodeEvent(t, "notification", Notification{Type: "mention", Status: &Status{ID: "2"}}))
		// keep the connection open until the client goes away
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(chan Status, 4)
	done := make(chan error, 1)
	go func() { done <- New(srv.URL, "tok").Stream(ctx, out) }()

	var ids []string
	for len(ids) < 2 {
		select {
		case st := <-out:
			ids = append(ids, st.ID)
		case <-ctx.Done():
			t.Fatal("timed out waiting for statuses")
		}
	}
	assert.Equal(t, []string{"1", "2"}, ids)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	minBackoff = time.Second
	maxBackoff = time.Minute
)

type streamMessage struct {
	Stream  []string `json:"stream"`
	Event   string   `json:"event"`
	Payload string   `json:"payload"`
}

// Stream follows the authenticated user's stream and sends every status that
// arrives as a home timeline update or a mention notification to out. It
// reconnects with capped exponential backoff and only returns once ctx is done.
func (c *Client) Stream(ctx context.Context, out chan<- Status) error {
	backoff := minBackoff
	for {
		received, err := c.streamOnce(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			backoff = minBackoff
		}
		log.Warn().Err(err).Dur("retry_in", backoff).Msg("stream disconnected")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, out chan<- Status) (bool, error) {
	if c.AccessToken == "" {
		return false, ErrMissingToken
	}
	u, err := c.streamURL()
	if err != nil {
		return false, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.AccessToken)
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return false, fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()
	log.Info().Str("url", redact(u)).Msg("stream connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	received := false
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return received, fmt.Errorf("read stream: %w", err)
		}
		received = true
		st, ok, err := decodeEvent(msg)
		if err != nil {
			log.Error().Err(err).Str("event", msg.Event).Msg("decode stream event")
			continue
		}
		if !ok {
			continue
		}
		select {
		case out <- st:
		case <-ctx.Done():
			return received, ctx.Err()
		}
	}
}

// decodeEvent extracts the status carried by a stream message. The payload is
// itself a JSON document encoded as a string.
func decodeEvent(msg streamMessage) (Status, bool, error) {
	switch msg.Event {
	case "update":
		var st Status
		if err := json.Unmarshal([]byte(msg.Payload), &st); err != nil {
			return Status{}, false, fmt.Errorf("unmarshal update: %w", err)
		}
		return st, true, nil
	case "notification":
		var n Notification
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			return Status{}, false, fmt.Errorf("unmarshal notification: %w", err)
		}
		if n.Type != "mention" || n.Status == nil {
			return Status{}, false, nil
		}
		return *n.Status, true, nil
	default:
		return Status{}, false, nil
	}
}

func (c *Client) streamURL() (string, error) {
	base := c.StreamingURL
	if base == "" {
		base = c.BaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse streaming url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", errors.New("streaming url must be http(s) or ws(s)")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/streaming"
	u.RawQuery = url.Values{"stream": {"user"}}.Encode()
	return u.String(), nil
}

func redact(u string) string {
	if i := strings.Index(u, "?"); i >= 0 {
		return u[:i]
	}
	return u
}

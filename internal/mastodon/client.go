// Package mastodon is a small client for the parts of the Mastodon API the bot
// needs: posting replies, uploading media and following the user stream.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

var ErrMissingToken = errors.New("missing mastodon access token")

type Client struct {
	BaseURL      string
	StreamingURL string
	AccessToken  string
	http         *http.Client
}

func New(baseURL, accessToken string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		http:        &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) VerifyCredentials(ctx context.Context) (*Account, error) {
	var acc Account
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/accounts/verify_credentials", nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (c *Client) Status(ctx context.Context, id string) (*Status, error) {
	var st Status
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/statuses/"+id, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) PostStatus(ctx context.Context, toot Toot) (*Status, error) {
	if strings.TrimSpace(toot.Status) == "" && len(toot.MediaIDs) == 0 {
		return nil, errors.New("empty status")
	}
	var st Status
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/statuses", toot, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// UploadMedia uploads an image via the v2 media endpoint. The server may
// process the file asynchronously; the returned id is usable right away for
// images.
func (c *Client) UploadMedia(ctx context.Context, data []byte, filename, description string) (*Attachment, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", http.DetectContentType(data))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form part: %w", err)
	}
	if description != "" {
		if err := w.WriteField("description", description); err != nil {
			return nil, fmt.Errorf("write description: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v2/media", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	var att Attachment
	if err := c.do(req, &att); err != nil {
		return nil, err
	}
	return &att, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.AccessToken == "" {
		return ErrMissingToken
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("mastodon status %d: %s", resp.StatusCode, truncate(string(b), 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

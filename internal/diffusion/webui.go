package diffusion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// WebUI talks to the txt2img endpoint of a Stable Diffusion web UI server.
type WebUI struct {
	Host string
	http *http.Client
}

var _ Renderer = (*WebUI)(nil)

func NewWebUI(host string) *WebUI {
	if host == "" {
		host = "http://localhost:7860"
	}
	return &WebUI{Host: strings.TrimRight(host, "/"), http: &http.Client{Timeout: 5 * time.Minute}}
}

func (c *WebUI) Render(ctx context.Context, req Request) ([][]byte, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("empty prompt")
	}
	payload := map[string]any{}
	for k, v := range req.Params {
		if k == "sampler" {
			payload["sampler_name"] = v
			continue
		}
		payload[k] = v
	}
	payload["prompt"] = req.Prompt
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host+"/sdapi/v1/txt2img", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to webui: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("webui status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Images []string `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Images) == 0 {
		return nil, ErrNoImages
	}
	images := make([][]byte, 0, len(out.Images))
	for i, s := range out.Images {
		// some versions prefix a data URL header
		if j := strings.Index(s, ","); j >= 0 && strings.HasPrefix(s, "data:") {
			s = s[j+1:]
		}
		img, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode image %d: %w", i, err)
		}
		images = append(images, img)
	}
	log.Info().Int("images", len(images)).Dur("dur", time.Since(start)).Msg("render complete")
	return images, nil
}

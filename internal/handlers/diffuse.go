package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nyahyun/diffusers-mastodon-bot/internal/bot"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/diffusion"
)

// MaxAttachments is the number of media a Mastodon status can carry.
const MaxAttachments = 4

// Diffuse renders the prompt of a tagged mention and replies with the images.
type Diffuse struct {
	Renderer diffusion.Renderer
	Tag      string
	Defaults diffusion.Params
	// GridCell is the cell size used when images are combined into a grid.
	GridCell int
}

func (d *Diffuse) Kind() bot.HandlerKind { return bot.KindDiffuse }

func (d *Diffuse) Matches(rc *bot.RequestContext) bool {
	return rc.MentionsBot() && rc.ContainsTag(d.Tag)
}

func (d *Diffuse) Handle(ctx context.Context, rc *bot.RequestContext) (bool, error) {
	parsed := parsedPrompt(rc)
	if parsed.Positive == nil {
		_, err := rc.Reply(ctx, "Please write a prompt after the tag.")
		return true, err
	}
	args, unknown, err := diffusion.ParseArgs(parsed.Args)
	if err != nil {
		_, rerr := rc.Reply(ctx, "Invalid option: "+err.Error())
		return true, rerr
	}

	req := diffusion.Request{Prompt: *parsed.Positive, Params: d.Defaults.Merge(args)}
	if parsed.Negative != nil {
		req.NegativePrompt = *parsed.Negative
	}
	log.Info().Str("acct", rc.Author().Acct).Str("prompt", req.Prompt).Msg("diffuse: render")

	images, err := d.Renderer.Render(ctx, req)
	if err != nil {
		_, _ = rc.Reply(ctx, "Sorry, rendering failed.")
		return true, fmt.Errorf("render: %w", err)
	}
	opts, err := mediaOptions(images, req.Prompt, d.GridCell)
	if err != nil {
		return true, err
	}
	if st := rc.Status(); st.Sensitive || st.SpoilerText != "" {
		opts = append(opts, bot.WithSensitive(st.SpoilerText))
	}

	var body strings.Builder
	body.WriteString("prompt: " + req.Prompt)
	if req.NegativePrompt != "" {
		body.WriteString("\nnegative prompt: " + req.NegativePrompt)
	}
	if len(unknown) > 0 {
		body.WriteString("\nignored options: " + strings.Join(unknown, ", "))
	}
	_, err = rc.Reply(ctx, body.String(), opts...)
	return true, err
}

// mediaOptions attaches images, combining them into one grid when there are
// more than a status can carry.
func mediaOptions(images [][]byte, description string, cell int) ([]bot.ReplyOption, error) {
	if len(images) == 0 {
		return nil, diffusion.ErrNoImages
	}
	if len(images) > MaxAttachments {
		cols := 1
		for cols*cols < len(images) {
			cols++
		}
		grid, err := diffusion.Grid(images, cols, cell)
		if err != nil {
			return nil, fmt.Errorf("grid: %w", err)
		}
		images = [][]byte{grid}
	}
	opts := make([]bot.ReplyOption, 0, len(images))
	for i, img := range images {
		opts = append(opts, bot.WithMedia(img, fmt.Sprintf("diffuse-%d.png", i+1), description))
	}
	return opts, nil
}

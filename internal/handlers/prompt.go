// Package handlers holds the bot's request handlers.
package handlers

import (
	"context"

	"github.com/nyahyun/diffusers-mastodon-bot/internal/bot"
	"github.com/nyahyun/diffusers-mastodon-bot/internal/prompt"
)

const payloadParsed = "parsed"

// PromptParser parses the prompt of every status addressed to the bot and
// leaves it in the payload for later handlers. It never consumes.
type PromptParser struct{}

func (PromptParser) Kind() bot.HandlerKind { return bot.KindPrompt }

func (PromptParser) Matches(rc *bot.RequestContext) bool {
	return rc.MentionsBot()
}

func (PromptParser) Handle(_ context.Context, rc *bot.RequestContext) (bool, error) {
	rc.SetPayload(bot.KindPrompt, payloadParsed, parseStatus(rc))
	return false, nil
}

func parseStatus(rc *bot.RequestContext) prompt.Parsed {
	return prompt.Parse(prompt.PlainText(rc.Status().Content))
}

// parsedPrompt reads the parser's result, parsing on demand when the parser
// did not run.
func parsedPrompt(rc *bot.RequestContext) prompt.Parsed {
	if p, ok := bot.PayloadAs[prompt.Parsed](rc, bot.KindPrompt, payloadParsed); ok {
		return p
	}
	return parseStatus(rc)
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/nyahyun/diffusers-mastodon-bot/internal/mastodon"
)

var ErrReplyDelivery = errors.New("reply delivery failed")

// Poster is the part of the Mastodon client handlers need to answer.
type Poster interface {
	PostStatus(ctx context.Context, toot mastodon.Toot) (*mastodon.Status, error)
	UploadMedia(ctx context.Context, data []byte, filename, description string) (*mastodon.Attachment, error)
}

// RequestContext wraps one inbound status. Everything except the payload is
// derived once in NewRequestContext and never changes.
type RequestContext struct {
	status mastodon.Status
	self   mastodon.Account

	poster     Poster
	tags       map[string]struct{}
	mentions   map[string]struct{}
	visibility mastodon.Visibility
	payload    map[HandlerKind]map[string]any
}

func NewRequestContext(status mastodon.Status, self mastodon.Account, poster Poster) *RequestContext {
	rc := &RequestContext{
		status:     status,
		self:       self,
		poster:     poster,
		tags:       make(map[string]struct{}, len(status.Tags)),
		mentions:   make(map[string]struct{}, len(status.Mentions)),
		visibility: replyVisibility(status.Visibility),
	}
	for _, t := range status.Tags {
		rc.tags[strings.ToLower(t.Name)] = struct{}{}
	}
	for _, m := range status.Mentions {
		rc.mentions[m.URL] = struct{}{}
	}
	rc.status = rc.Status()
	return rc
}

// replyVisibility is unlisted whatever the original visibility was.
func replyVisibility(mastodon.Visibility) mastodon.Visibility {
	return mastodon.VisibilityUnlisted
}

func (rc *RequestContext) ContainsTag(name string) bool {
	_, ok := rc.tags[strings.ToLower(strings.TrimPrefix(name, "#"))]
	return ok
}

func (rc *RequestContext) MentionsBot() bool {
	_, ok := rc.mentions[rc.self.URL]
	return ok
}

func (rc *RequestContext) IsFromSelf() bool {
	return rc.status.Account.URL == rc.self.URL
}

func (rc *RequestContext) ReplyVisibility() mastodon.Visibility {
	return rc.visibility
}

// Status returns a copy of the inbound status.
func (rc *RequestContext) Status() mastodon.Status {
	st := rc.status
	st.Mentions = slices.Clone(st.Mentions)
	st.Tags = slices.Clone(st.Tags)
	st.MediaAttachments = slices.Clone(st.MediaAttachments)
	return st
}

// Self is the bot's own account.
func (rc *RequestContext) Self() mastodon.Account {
	return rc.self
}

// Author is the account that wrote the status.
func (rc *RequestContext) Author() mastodon.Account {
	return rc.status.Account
}

type media struct {
	data        []byte
	filename    string
	description string
}

type replyOptions struct {
	visibility mastodon.Visibility
	media      []media
	sensitive  bool
	spoiler    string
	noMentions bool
}

type ReplyOption func(*replyOptions)

func WithVisibility(v mastodon.Visibility) ReplyOption {
	return func(o *replyOptions) { o.visibility = v }
}

// WithMedia attaches an image; it is uploaded before the status is posted.
func WithMedia(data []byte, filename, description string) ReplyOption {
	return func(o *replyOptions) {
		o.media = append(o.media, media{data: data, filename: filename, description: description})
	}
}

func WithSensitive(spoiler string) ReplyOption {
	return func(o *replyOptions) {
		o.sensitive = true
		o.spoiler = spoiler
	}
}

// WithoutMentions posts the body as is, without the leading @-mentions.
func WithoutMentions() ReplyOption {
	return func(o *replyOptions) { o.noMentions = true }
}

// Reply answers the status, mentioning its author and everyone else it
// mentioned except the bot.
func (rc *RequestContext) Reply(ctx context.Context, body string, opts ...ReplyOption) (*mastodon.Status, error) {
	o := replyOptions{visibility: rc.visibility}
	for _, opt := range opts {
		opt(&o)
	}

	toot := mastodon.Toot{
		Status:      body,
		InReplyToID: rc.status.ID,
		Visibility:  o.visibility,
		Sensitive:   o.sensitive,
		SpoilerText: o.spoiler,
	}
	if !o.noMentions {
		if prefix := rc.mentionPrefix(); prefix != "" {
			toot.Status = prefix + " " + body
		}
	}
	for _, m := range o.media {
		att, err := rc.poster.UploadMedia(ctx, m.data, m.filename, m.description)
		if err != nil {
			return nil, fmt.Errorf("%w: upload %s: %w", ErrReplyDelivery, m.filename, err)
		}
		toot.MediaIDs = append(toot.MediaIDs, att.ID)
	}

	st, err := rc.poster.PostStatus(ctx, toot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReplyDelivery, err)
	}
	return st, nil
}

func (rc *RequestContext) mentionPrefix() string {
	seen := map[string]bool{rc.self.Acct: true}
	var parts []string
	add := func(acct string) {
		if acct == "" || seen[acct] {
			return
		}
		seen[acct] = true
		parts = append(parts, "@"+acct)
	}
	if !rc.IsFromSelf() {
		add(rc.status.Account.Acct)
	}
	for _, m := range rc.status.Mentions {
		if m.URL == rc.self.URL {
			continue
		}
		add(m.Acct)
	}
	return strings.Join(parts, " ")
}

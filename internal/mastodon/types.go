package mastodon

import (
	"time"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
	Bot         bool   `json:"bot"`
}

type Mention struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Acct     string `json:"acct"`
	URL      string `json:"url"`
}

type Tag struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Attachment struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Status is the subset of a Mastodon status the bot reads. InReplyToID is
// empty for top-level posts (JSON null leaves it untouched).
type Status struct {
	ID                 string       `json:"id"`
	URI                string       `json:"uri"`
	URL                string       `json:"url"`
	CreatedAt          time.Time    `json:"created_at"`
	Account            Account      `json:"account"`
	InReplyToID        string       `json:"in_reply_to_id"`
	InReplyToAccountID string       `json:"in_reply_to_account_id"`
	Content            string       `json:"content"`
	SpoilerText        string       `json:"spoiler_text"`
	Sensitive          bool         `json:"sensitive"`
	Visibility         Visibility   `json:"visibility"`
	Mentions           []Mention    `json:"mentions"`
	Tags               []Tag        `json:"tags"`
	MediaAttachments   []Attachment `json:"media_attachments"`
}

type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Account   Account   `json:"account"`
	Status    *Status   `json:"status"`
}

// Toot is an outgoing status.
type Toot struct {
	Status      string     `json:"status"`
	InReplyToID string     `json:"in_reply_to_id,omitempty"`
	MediaIDs    []string   `json:"media_ids,omitempty"`
	Sensitive   bool       `json:"sensitive,omitempty"`
	SpoilerText string     `json:"spoiler_text,omitempty"`
	Visibility  Visibility `json:"visibility,omitempty"`
}

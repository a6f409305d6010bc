// Package prompt extracts diffusion prompts from status content.
package prompt

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

type Parsed struct {
	Positive *string
	Negative *string
	// Args holds key=value lines, e.g. "steps=30".
	Args map[string]string
}

var (
	mentionRe = regexp.MustCompile(`(^|\s)@[\w.\-]+(@[\w.\-]+)?`)
	tagRe     = regexp.MustCompile(`(^|\s)#\w+`)
	argRe     = regexp.MustCompile(`^([A-Za-z_]+)\s*=\s*(\S+)$`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

var negativePrefixes = []string{"negative prompt:", "negative:", "neg:"}

// PlainText renders status HTML as text; paragraphs and <br> become newlines.
func PlainText(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return content
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			b.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && n.Data == "p" {
			b.WriteString("\n")
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String())
}

// Parse splits plain status text into a positive prompt, a negative prompt
// and render arguments. Mentions and hashtags are removed first.
func Parse(text string) Parsed {
	var positive, negative []string
	args := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		line = Normalize(tagRe.ReplaceAllString(mentionRe.ReplaceAllString(line, " "), " "))
		if line == "" {
			continue
		}
		if rest, ok := cutNegative(line); ok {
			if rest != "" {
				negative = append(negative, rest)
			}
			continue
		}
		if m := argRe.FindStringSubmatch(line); m != nil {
			args[strings.ToLower(m[1])] = m[2]
			continue
		}
		positive = append(positive, line)
	}
	return Parsed{
		Positive: join(positive),
		Negative: join(negative),
		Args:     args,
	}
}

// Normalize collapses whitespace so guesses compare independent of layout.
func Normalize(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func cutNegative(line string) (string, bool) {
	lower := strings.ToLower(line)
	for _, p := range negativePrefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(line[len(p):]), true
		}
	}
	return "", false
}

func join(parts []string) *string {
	if len(parts) == 0 {
		return nil
	}
	s := strings.Join(parts, " ")
	return &s
}

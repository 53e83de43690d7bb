// ABOUTME: Transcript export for conversations, as Markdown or standalone HTML.
// ABOUTME: Segments become separate blocks; tool calls and thinking are rendered as collapsed annotations.

package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389-research/parley/chat"
	"github.com/2389-research/parley/segment"
)

// NameFor resolves a message's display name. Unknown senders fall back to
// their sender id.
type NameFor func(m chat.Message) string

// defaultName labels messages by role when no resolver is given.
func defaultName(m chat.Message) string {
	switch m.Role {
	case chat.RoleUser:
		return "You"
	case chat.RoleSystem:
		return "System"
	default:
		if m.SenderID != "" {
			return m.SenderID
		}
		return "Assistant"
	}
}

// Options configures an export.
type Options struct {
	// Title heads the transcript.
	Title string
	// NameFor resolves display names; nil uses role-based defaults.
	NameFor NameFor
	// IncludeThinking adds reasoning text as quoted annotations.
	IncludeThinking bool
	// IncludeToolCalls lists tool invocations beneath their message.
	IncludeToolCalls bool
}

func (o *Options) nameFor(m chat.Message) string {
	if o.NameFor != nil {
		if name := o.NameFor(m); name != "" {
			return name
		}
	}
	return defaultName(m)
}

// Markdown renders the messages as a Markdown transcript. Replies that
// carry multiple display segments become separate blocks under one header.
func Markdown(msgs []chat.Message, opts Options) string {
	var b strings.Builder
	if opts.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", opts.Title)
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "## %s", opts.nameFor(m))
		if !m.CreatedAt.IsZero() {
			fmt.Fprintf(&b, " — %s", m.CreatedAt.Format(time.RFC3339))
		}
		b.WriteString("\n\n")

		if opts.IncludeThinking && m.Thinking != "" {
			for _, line := range strings.Split(strings.TrimSpace(m.Thinking), "\n") {
				fmt.Fprintf(&b, "> %s\n", line)
			}
			b.WriteString("\n")
		}

		for _, seg := range segment.Parse(m.Content) {
			b.WriteString(seg)
			b.WriteString("\n\n")
		}

		if opts.IncludeToolCalls {
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "- tool `%s` (%s)\n", tc.Name, tc.Status)
			}
			if len(m.ToolCalls) > 0 {
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// htmlPage is the standalone transcript document.
var htmlPage = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 46rem; margin: 2rem auto; padding: 0 1rem; }
.msg { margin-bottom: 1.5rem; }
.meta { color: #667; font-size: 0.85rem; margin-bottom: 0.25rem; }
.bubble { background: #f2f3f5; border-radius: 0.5rem; padding: 0.5rem 0.75rem; margin-bottom: 0.35rem; }
.user .bubble { background: #d8e8ff; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Messages}}<div class="msg {{.Role}}">
<div class="meta">{{.Name}}{{if .When}} · {{.When}}{{end}}</div>
{{range .Bubbles}}<div class="bubble">{{.}}</div>
{{end}}</div>
{{end}}</body>
</html>
`))

type htmlMessage struct {
	Role    string
	Name    string
	When    string
	Bubbles []template.HTML
}

type htmlData struct {
	Title    string
	Messages []htmlMessage
}

// HTML renders the messages as a standalone HTML document. Message bodies
// pass through goldmark so Markdown in replies renders properly.
func HTML(msgs []chat.Message, opts Options) (string, error) {
	title := opts.Title
	if title == "" {
		title = "Conversation"
	}
	data := htmlData{Title: title}
	for _, m := range msgs {
		hm := htmlMessage{
			Role: m.Role,
			Name: opts.nameFor(m),
		}
		if !m.CreatedAt.IsZero() {
			hm.When = m.CreatedAt.Format("2006-01-02 15:04")
		}
		for _, seg := range segment.Parse(m.Content) {
			hm.Bubbles = append(hm.Bubbles, markdownToHTML(seg))
		}
		data.Messages = append(data.Messages, hm)
	}

	var buf bytes.Buffer
	if err := htmlPage.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering transcript: %w", err)
	}
	return buf.String(), nil
}

// markdownToHTML converts a markdown string to HTML using goldmark.
// Raw HTML in the input is stripped to prevent XSS.
func markdownToHTML(input string) template.HTML {
	var buf bytes.Buffer
	md := goldmark.New()
	if err := md.Convert([]byte(input), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(input))
	}
	return template.HTML(buf.String())
}

package api

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/farrosalferro/fashion-recommender/internal/session"
)

// transcriptMarkdown renders a session as markdown: one section per
// message, with its images inlined.
func transcriptMarkdown(snap session.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", snap.SessionID)
	if len(snap.Messages) == 0 {
		b.WriteString("_No messages yet._\n")
	}
	for _, m := range snap.Messages {
		title := "User"
		if m.Role == session.RoleAssistant {
			title = "Assistant"
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, m.Content)
		for _, ref := range m.Images {
			if !displayable(ref.URL) {
				fmt.Fprintf(&b, "- `%s` (%s)\n", ref.ImageID, ref.Kind)
				continue
			}
			fmt.Fprintf(&b, "![%s](%s)\n", ref.ImageID, ref.URL)
		}
		if len(m.Images) > 0 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// displayable reports whether a browser can load url directly. Local
// file paths cannot.
func displayable(url string) bool {
	return strings.HasPrefix(url, "http://") ||
		strings.HasPrefix(url, "https://") ||
		strings.HasPrefix(url, "data:image/")
}

func renderTranscript(snap session.Snapshot) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(transcriptMarkdown(snap)), &body); err != nil {
		return nil, err
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title>
<style>body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; line-height: 1.5; } img { max-height: 16rem; margin: 0.25rem; }</style>
</head>
<body>
%s
</body></html>`, html.EscapeString("Session "+snap.SessionID), body.String())
	return page.Bytes(), nil
}

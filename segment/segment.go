// ABOUTME: Splits raw model output into display segments delimited by <message> tags.
// ABOUTME: Tolerates a trailing unclosed tag so an in-flight streaming buffer can be re-parsed safely.

package segment

import (
	"regexp"
	"strings"
)

const openTag = "<message>"

// spanRe matches one well-formed <message>...</message> span, non-greedy so
// adjacent spans do not merge. (?s) lets bodies contain newlines.
var spanRe = regexp.MustCompile(`(?s)<message>(.*?)</message>`)

// Parse splits content into ordered display segments.
//
// Rules:
//   - No <message> open tag anywhere: the trimmed content is a single
//     segment, even when empty, so a reply always renders at least one bubble.
//   - Otherwise every well-formed span contributes its trimmed, non-empty body,
//     in order of appearance.
//   - Text after the last complete span that still contains an open tag is a
//     provisional final segment (the streaming case: the closing tag has not
//     arrived yet).
//   - If tags were present but no segment survived trimming, the trimmed whole
//     content is returned instead so nothing is silently dropped.
//
// Parse is pure and total: it never fails, and calling it repeatedly on a
// growing buffer is safe because each call re-parses from scratch.
func Parse(content string) []string {
	if !strings.Contains(content, openTag) {
		return []string{strings.TrimSpace(content)}
	}

	var segments []string
	last := 0
	for _, m := range spanRe.FindAllStringSubmatchIndex(content, -1) {
		body := strings.TrimSpace(content[m[2]:m[3]])
		if body != "" {
			segments = append(segments, body)
		}
		last = m[1]
	}

	// Trailing unclosed open tag: everything after it is a provisional segment.
	if rest := content[last:]; strings.Contains(rest, openTag) {
		idx := strings.Index(rest, openTag)
		if trailing := strings.TrimSpace(rest[idx+len(openTag):]); trailing != "" {
			segments = append(segments, trailing)
		}
	}

	if len(segments) == 0 {
		return []string{strings.TrimSpace(content)}
	}
	return segments
}

// Count returns the number of display bubbles content produces, never less
// than one. Unread counters increment by this value when a reply finishes
// while the user is viewing another conversation.
func Count(content string) int {
	return len(Parse(content))
}

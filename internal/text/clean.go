package text

import (
	"regexp"
	"strings"
)

var (
	editLinkRe   = regexp.MustCompile(`(?mi)^\[edit[^\]]*\]\([^\)]+\)\s*$`)
	tocRe        = regexp.MustCompile(`(?mi)^#{1,3}\s+(?:table of )?contents?\s*\n(?:\s*[-*]\s*\[.*?\]\(#.*?\)\s*\n)*`)
	quotedLineRe = regexp.MustCompile(`(?m)^\s*>.*$`)
	replyHeadRe  = regexp.MustCompile(`(?m)^\s*On .{1,200} wrote:\s*$`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
)

// CleanNote strips markdown boilerplate that never helps retrieval.
func CleanNote(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = editLinkRe.ReplaceAllString(s, "")
	s = tocRe.ReplaceAllString(s, "")
	return strings.TrimSpace(blankRunRe.ReplaceAllString(s, "\n\n"))
}

// CleanEmailBody drops quoted replies so a thread's text is not indexed once
// per message that quotes it.
func CleanEmailBody(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if loc := replyHeadRe.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	s = quotedLineRe.ReplaceAllString(s, "")
	return strings.TrimSpace(blankRunRe.ReplaceAllString(s, "\n\n"))
}

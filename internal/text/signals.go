package text

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	mentionRe  = regexp.MustCompile(`(?:^|\s)@([A-Za-z][A-Za-z0-9._-]{1,40})`)
	checkboxRe = regexp.MustCompile(`^\s*[-*]\s*\[ \]\s*(.+)$`)
	labelRe    = regexp.MustCompile(`(?i)^\s*(?:[-*]\s*)?(?:todo|action items?|action|follow[- ]up|next steps?)\s*[:\-]\s*(.+)$`)
	phraseRe   = regexp.MustCompile(`(?i)\b(?:action item|will follow up|follow up with|to-do)\b`)
)

const (
	maxActionItems   = 20
	maxActionItemLen = 280
)

// ExtractPeople returns display names for participants plus @mentions found
// in the text, deduplicated case-insensitively in first-seen order.
func ExtractPeople(participants []string, body string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(name string) {
		name = strings.TrimSpace(strings.Trim(name, `"'`))
		if name == "" {
			return
		}
		k := strings.ToLower(name)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, name)
	}

	for _, p := range participants {
		if addr, err := mail.ParseAddress(p); err == nil {
			if addr.Name != "" {
				add(addr.Name)
			} else {
				add(addr.Address)
			}
			continue
		}
		add(p)
	}
	for _, m := range mentionRe.FindAllStringSubmatch(body, -1) {
		add(strings.TrimRight(m[1], "._-"))
	}
	return out
}

// ExtractActionItems finds open checkboxes, labelled lines (TODO:, Action:,
// Next steps:) and sentences that read like commitments.
func ExtractActionItems(body string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || len(out) >= maxActionItems {
			return
		}
		s = cutRunes(s, maxActionItemLen)
		k := strings.ToLower(s)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}

	for _, line := range strings.Split(body, "\n") {
		if m := checkboxRe.FindStringSubmatch(line); m != nil {
			add(m[1])
			continue
		}
		if m := labelRe.FindStringSubmatch(line); m != nil {
			add(m[1])
			continue
		}
		for _, s := range SplitSentences(line) {
			if phraseRe.MatchString(s) {
				add(s)
			}
		}
	}
	return out
}

// cutRunes keeps at most n bytes of s without splitting a rune.
func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}

package text

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)

// ContextHeader is prefixed to every chunk so a chunk can be read on its own.
type ContextHeader struct {
	Title        string
	Participants []string
	Date         time.Time
}

func (h ContextHeader) String() string {
	var lines []string
	if t := strings.TrimSpace(h.Title); t != "" {
		lines = append(lines, "Title: "+t)
	}
	if len(h.Participants) > 0 {
		lines = append(lines, "Participants: "+strings.Join(h.Participants, ", "))
	}
	if !h.Date.IsZero() {
		lines = append(lines, "Date: "+h.Date.UTC().Format("2006-01-02"))
	}
	return strings.Join(lines, "\n")
}

// WithHeader renders header and body the same way for chunks and summaries.
func WithHeader(header ContextHeader, body string) string {
	h := header.String()
	if h == "" {
		return body
	}
	return h + "\n---\n" + body
}

// IsBlank reports whether text has nothing worth indexing.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// SplitSentences splits text line by line and then on sentence punctuation.
// Trailing text without terminal punctuation is kept as its own sentence.
func SplitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		last := 0
		for _, loc := range sentenceRe.FindAllStringIndex(line, -1) {
			if s := strings.TrimSpace(line[loc[0]:loc[1]]); s != "" {
				out = append(out, s)
			}
			last = loc[1]
		}
		if rest := strings.TrimSpace(line[last:]); rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

// SentenceAwareChunks packs whole sentences into bodies of at most maxChars
// bytes, carrying roughly overlapChars of the previous body into the next one,
// and prefixes each body with the context header. Blank text yields no chunks.
func SentenceAwareChunks(text string, header ContextHeader, maxChars, overlapChars int) []string {
	if maxChars <= 0 {
		maxChars = 1200
	}
	if overlapChars < 0 || overlapChars >= maxChars {
		overlapChars = 0
	}

	var pieces []string
	for _, s := range SplitSentences(text) {
		pieces = append(pieces, splitLong(s, maxChars)...)
	}
	if len(pieces) == 0 {
		return nil
	}

	var bodies []string
	var cur strings.Builder
	fresh := false // cur holds something beyond the carried overlap

	for _, p := range pieces {
		if fresh && cur.Len()+1+len(p) > maxChars {
			body := cur.String()
			bodies = append(bodies, body)
			cur.Reset()
			cur.WriteString(overlapTail(body, overlapChars))
			fresh = false
		}
		if cur.Len() > 0 && cur.Len()+1+len(p) > maxChars {
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(p)
		fresh = true
	}
	if fresh {
		bodies = append(bodies, cur.String())
	}

	chunks := make([]string, len(bodies))
	for i, b := range bodies {
		chunks[i] = WithHeader(header, b)
	}
	return chunks
}

// overlapTail returns the last n bytes of body, starting on a word boundary.
func overlapTail(body string, n int) string {
	if n <= 0 || len(body) <= n {
		return ""
	}
	start := len(body) - n
	for start < len(body) && !utf8.RuneStart(body[start]) {
		start++
	}
	if start > 0 && body[start-1] != ' ' {
		if i := strings.IndexByte(body[start:], ' '); i >= 0 {
			start += i + 1
		}
	}
	return strings.TrimSpace(body[start:])
}

// splitLong breaks a sentence that alone exceeds maxChars on word boundaries,
// hard-cutting single words that are still too long.
func splitLong(s string, maxChars int) []string {
	if len(s) <= maxChars {
		return []string{s}
	}
	var out []string
	var cur strings.Builder
	for _, w := range strings.Fields(s) {
		for len(w) > maxChars {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			cut := maxChars
			for cut > 0 && !utf8.RuneStart(w[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxChars
			}
			out = append(out, w[:cut])
			w = w[cut:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(w) > maxChars {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

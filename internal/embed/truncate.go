package embed

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Truncator caps a text at the embedding model's input ceiling.
type Truncator interface {
	Truncate(text string) string
}

// TokenTruncator trims by cl100k_base tokens. Without an encoding it falls
// back to four runes per token.
type TokenTruncator struct {
	enc       *tiktoken.Tiktoken
	maxTokens int
}

func NewTokenTruncator(maxTokens int) *TokenTruncator {
	t := &TokenTruncator{maxTokens: maxTokens}
	if maxTokens <= 0 {
		return t
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, truncating by runes", "error", err)
		return t
	}
	t.enc = enc
	return t
}

func (t *TokenTruncator) Truncate(text string) string {
	if t.maxTokens <= 0 {
		return text
	}
	if t.enc == nil {
		return RuneTruncator(t.maxTokens * 4).Truncate(text)
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= t.maxTokens {
		return text
	}
	return trimPartialRune(t.enc.Decode(tokens[:t.maxTokens]))
}

// trimPartialRune drops trailing bytes left over from a rune that a token
// boundary cut in half.
func trimPartialRune(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

// RuneTruncator keeps at most n runes.
type RuneTruncator int

func (n RuneTruncator) Truncate(text string) string {
	if n <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= int(n) {
		return text
	}
	return string(runes[:n])
}

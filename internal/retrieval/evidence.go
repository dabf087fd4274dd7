package retrieval

import (
	"fmt"
	"strings"
)

// Evidence renders results as numbered blocks for an answer generator. The
// block number is the citation a generated answer refers back to.
func Evidence(docs []ScoredDocument) string {
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%d] %s (%s", i+1, d.Title, d.SourceType)
		if d.OccurredAt != nil {
			fmt.Fprintf(&b, ", %s", d.OccurredAt.UTC().Format("2006-01-02"))
		}
		b.WriteString(")\n")

		text := d.ChunkText
		if text == "" {
			text = d.SummaryText
		}
		b.WriteString(strings.TrimSpace(text))
		b.WriteString("\n")
	}
	return b.String()
}

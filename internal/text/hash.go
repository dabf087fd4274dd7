package text

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// ContentHash identifies one logical unit of a source (its summary, or its
// i-th chunk). It is not a checksum of the chunk text: callers fold the source
// record's revision into role, so any edit to the record yields a new hash
// family and the old one stops matching.
func ContentHash(sourceType, sourceID, role string, index *int) string {
	idx := "-"
	if index != nil {
		idx = strconv.Itoa(*index)
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{sourceType, sourceID, role, idx}, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Role qualifies a unit role with a revision stamp.
func Role(name, revision string) string {
	return name + "@" + revision
}

func Revision(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func Index(i int) *int {
	return &i
}

// Package analysis computes the post-run aggregates: the basic
// decision-code distribution and the token/cost statistics. Results are
// cached by an input hash so unchanged transcript sets are not
// recomputed.
package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// InputHash fingerprints a transcript set. Order-insensitive: the same
// ids in any order produce the same hash.
func InputHash(transcriptIDs []string) string {
	ids := make([]string, len(transcriptIDs))
	copy(ids, transcriptIDs)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])
}

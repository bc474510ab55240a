package quality

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/chunkstack/chunkstack/internal/store"
)

const shingleSize = 5

// MarkDuplicates flags exact duplicates (MD5 over canonicalised
// content) and near-duplicates (Jaccard over word shingles at or above
// the threshold). Duplicates are flagged, never removed; the first
// occurrence in reading order stays unflagged.
func MarkDuplicates(chunks []*store.ChunkNode, threshold float64) int {
	flagged := 0

	seen := make(map[string]bool)
	var shingleSets []map[string]struct{}

	for _, c := range chunks {
		canonical := Canonicalize(c.Content)
		sum := md5.Sum([]byte(canonical))
		digest := hex.EncodeToString(sum[:])

		if seen[digest] {
			c.Duplicate = true
			flagged++
			continue
		}
		seen[digest] = true

		shingles := wordShingles(canonical, shingleSize)
		if len(shingles) == 0 {
			continue
		}
		for _, prior := range shingleSets {
			if jaccard(shingles, prior) >= threshold {
				c.Duplicate = true
				flagged++
				break
			}
		}
		if !c.Duplicate {
			shingleSets = append(shingleSets, shingles)
		}
	}

	return flagged
}

// Canonicalize lowercases and collapses whitespace so formatting
// differences never defeat duplicate detection.
func Canonicalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func wordShingles(text string, k int) map[string]struct{} {
	words := strings.Fields(text)
	if len(words) < k {
		if len(words) == 0 {
			return nil
		}
		return map[string]struct{}{strings.Join(words, " "): {}}
	}
	out := make(map[string]struct{}, len(words)-k+1)
	for i := 0; i+k <= len(words); i++ {
		out[strings.Join(words[i:i+k], " ")] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for s := range small {
		if _, ok := large[s]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

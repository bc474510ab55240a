package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/chunkstack/chunkstack/internal/store"
)

// ChunkID derives a stable content-addressed chunk identifier. Two
// ingestions of the same source content produce identical IDs, which
// is what makes re-ingestion a row-level no-op. The ordinal
// disambiguates chunks with identical content under the same section.
func ChunkID(sourceID string, scale store.Scale, sectionPath []string, content string, ordinal int) string {
	h := sha256.New()
	h.Write([]byte(sourceID))
	h.Write([]byte{0})
	h.Write([]byte(scale))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sectionPath, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(ordinal)))
	return hex.EncodeToString(h.Sum(nil))
}

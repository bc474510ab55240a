package retrieve

// reorderLostInMiddle rearranges a score-descending list so the two
// strongest items sit first and last, with the rest interleaved
// high/low between them. Transformer attention degrades for content
// buried mid-context, so the edges carry the best evidence. Lists of
// one or two items are returned unchanged.
func reorderLostInMiddle(items []Item) []Item {
	n := len(items)
	if n <= 2 {
		return items
	}

	out := make([]Item, n)
	out[0] = items[0]
	out[n-1] = items[1]

	// Remaining items alternate from the front and back of the
	// ranked middle.
	middle := items[2:]
	lo, hi := 0, len(middle)-1
	fromFront := true
	for i := 1; i < n-1; i++ {
		if fromFront {
			out[i] = middle[lo]
			lo++
		} else {
			out[i] = middle[hi]
			hi--
		}
		fromFront = !fromFront
	}
	return out
}

// applyDiversityCaps drops items exceeding the per-source or per-page
// caps, removing the lowest-scored violators first. items must be
// score-descending; order is preserved.
func applyDiversityCaps(items []Item, perSource, perPage int) []Item {
	if perSource <= 0 && perPage <= 0 {
		return items
	}

	type pageKey struct {
		source string
		page   int
	}
	sourceCount := make(map[string]int)
	pageCount := make(map[pageKey]int)

	out := items[:0:0]
	for _, it := range items {
		src := it.Chunk.SourceID
		pk := pageKey{src, it.Chunk.PageNumber}

		if perSource > 0 && sourceCount[src] >= perSource {
			continue
		}
		// Page 0 means unpaginated; the page cap does not apply.
		if perPage > 0 && it.Chunk.PageNumber > 0 && pageCount[pk] >= perPage {
			continue
		}
		sourceCount[src]++
		pageCount[pk]++
		out = append(out, it)
	}
	return out
}

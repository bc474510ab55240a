// Package token counts tokens for chunk banding and embed batching.
package token

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates the token count of a text.
type Counter interface {
	Count(text string) int
}

// HeuristicCounter approximates BPE token counts without model data:
// a blend of character/4 and word*4/3 estimates. Within ~10% of
// cl100k_base on English prose, and needs no network access.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	chars := len(text)
	words := len(strings.Fields(text))
	est := (chars/4 + words*4/3 + 1) / 2
	if est < 1 {
		est = 1
	}
	return est
}

// TiktokenCounter counts with a real BPE encoding. Constructing it may
// download encoding data, so it is opt-in.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding (e.g. "cl100k_base").
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// ForEncoding returns a counter for the configured encoding name. The
// empty string selects the heuristic, which never touches the network.
// A tiktoken load failure falls back to the heuristic rather than
// failing ingestion.
func ForEncoding(encoding string) Counter {
	if encoding == "" {
		return HeuristicCounter{}
	}
	tc, err := NewTiktokenCounter(encoding)
	if err != nil {
		return HeuristicCounter{}
	}
	return tc
}

package transcribe

import (
	"strings"
	"sync"
)

// Accumulator is the ordered, append-only collection of finalized utterances
// for one session. Owned by exactly one bridge run.
type Accumulator struct {
	mu         sync.Mutex
	utterances []string
}

// Append stores one finalized utterance. Empty strings are ignored.
func (a *Accumulator) Append(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	a.utterances = append(a.utterances, text)
	a.mu.Unlock()
}

// Len returns the number of finalized utterances so far.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.utterances)
}

// Transcript joins the utterances with single spaces, in arrival order.
func (a *Accumulator) Transcript() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.utterances, " ")
}

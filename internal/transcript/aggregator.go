// Package transcript folds streaming transcript fragments into a
// conversation log with one entry per speaker turn.
package transcript

import (
	"github.com/lexiqai/voice-client/internal/protocol"
)

// Entry is one speaker turn in the log.
type Entry struct {
	Role protocol.Role `json:"role"`
	Text string        `json:"text"`
}

// Aggregator is not safe for concurrent use; it belongs to the session loop.
// No two consecutive log entries ever share a role.
type Aggregator struct {
	log   []Entry
	user  string
	agent string
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Apply routes a transcript event to Final or Partial.
func (a *Aggregator) Apply(ev protocol.Transcript) {
	if ev.Final {
		a.Final(ev.Role, ev.Text)
		return
	}
	a.Partial(ev.Role, ev.Text)
}

// Final records the authoritative text of a turn and resets that role's
// accumulator.
func (a *Aggregator) Final(role protocol.Role, text string) {
	a.setAccumulator(role, "")
	a.upsert(role, text)
}

// Partial records an in-progress fragment. Agent fragments are deltas that
// extend the accumulator; user fragments replace it and end any agent
// accumulation in progress.
func (a *Aggregator) Partial(role protocol.Role, text string) {
	switch role {
	case protocol.RoleAgent:
		a.agent += text
		a.upsert(role, a.agent)
	case protocol.RoleUser:
		a.user = text
		a.agent = ""
		a.upsert(role, a.user)
	}
}

// ClearAccumulators drops both in-progress fragments. The log is untouched.
func (a *Aggregator) ClearAccumulators() {
	a.user = ""
	a.agent = ""
}

// Accumulator returns the in-progress text for role.
func (a *Aggregator) Accumulator(role protocol.Role) string {
	if role == protocol.RoleAgent {
		return a.agent
	}
	return a.user
}

// Log returns a copy of the conversation log.
func (a *Aggregator) Log() []Entry {
	out := make([]Entry, len(a.log))
	copy(out, a.log)
	return out
}

func (a *Aggregator) setAccumulator(role protocol.Role, text string) {
	if role == protocol.RoleAgent {
		a.agent = text
	} else {
		a.user = text
	}
}

// upsert replaces the last entry when it has the same role, else appends.
func (a *Aggregator) upsert(role protocol.Role, text string) {
	if n := len(a.log); n > 0 && a.log[n-1].Role == role {
		a.log[n-1].Text = text
		return
	}
	a.log = append(a.log, Entry{Role: role, Text: text})
}

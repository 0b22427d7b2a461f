package ledger

import (
	"encoding/json"
	"time"
)

// Value is a serialized argument or result.
type Value struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Memento is the structured record of a single call, kept for audit and replay.
type Memento struct {
	Interaction string     `json:"interaction"`
	Sequence    int        `json:"sequence"`
	Member      string     `json:"member"`
	Target      Value      `json:"target"`
	Arguments   []Value    `json:"arguments"`
	Result      *Value     `json:"result,omitempty"`
	Threw       string     `json:"threw,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Digest      string     `json:"digest,omitempty"`
}

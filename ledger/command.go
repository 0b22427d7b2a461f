package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stateforward/go-invoke/kinds"
)

// Executor identifies who initiated a command.
type Executor string

const (
	User   Executor = "USER"
	System Executor = "SYSTEM"
)

// Mode identifies where a command runs.
type Mode string

const (
	Foreground Mode = "FOREGROUND"
	Background Mode = "BACKGROUND"
)

// Bookmark is a stable reference to a persisted domain object.
type Bookmark struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (b Bookmark) String() string {
	return fmt.Sprintf("%s:%s", b.Type, b.ID)
}

func (b Bookmark) IsZero() bool {
	return b.Type == "" && b.ID == ""
}

// Command is the durable representation of a top-level request.
//
// StartedAt and Result are write-once: the first writer wins and every later
// write is a no-op.
type Command struct {
	ID        uuid.UUID
	Executor  Executor
	ExecuteIn Mode
	Member    string
	Memento   *Memento

	startedAt time.Time
	result    Bookmark
}

// NewCommand allocates a command with a time ordered id.
func NewCommand(executor Executor, mode Mode) *Command {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Command{
		ID:        id,
		Executor:  executor,
		ExecuteIn: mode,
	}
}

func (command *Command) Kind() uint64 {
	return kinds.Command
}

func (command *Command) Id() string {
	if command == nil {
		return ""
	}
	return command.ID.String()
}

func (command *Command) StartedAt() time.Time {
	return command.startedAt
}

// Stamp sets the start time if it has not been set yet and reports whether it did.
func (command *Command) Stamp(at time.Time) bool {
	if command == nil || !command.startedAt.IsZero() {
		return false
	}
	command.startedAt = at
	return true
}

func (command *Command) Result() (Bookmark, bool) {
	if command == nil || command.result.IsZero() {
		return Bookmark{}, false
	}
	return command.result, true
}

// SetResult records the bookmark of the object produced by the command and reports
// whether it was recorded.
func (command *Command) SetResult(bookmark Bookmark) bool {
	if command == nil || bookmark.IsZero() || !command.result.IsZero() {
		return false
	}
	command.result = bookmark
	return true
}

// Restore rebuilds write-once state loaded from storage.
func (command *Command) Restore(startedAt time.Time, result Bookmark) {
	command.startedAt = startedAt
	command.result = result
}

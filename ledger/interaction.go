// Package ledger records the call tree of a single top-level request.
//
// An Interaction owns an explicit stack of in-flight Executions. Begin pushes a new
// Execution as a child of the current one, CompleteNormally and CompleteWithThrow pop
// it again and promote it to prior. Callers read what a call returned or threw from
// Prior once the call graph has unwound back to them.
//
// An Interaction belongs to the goroutine serving its request and is not safe for
// concurrent use.
package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stateforward/go-invoke/clock"
	"github.com/stateforward/go-invoke/kinds"
)

var ErrNotCurrent = errors.New("execution is not the current execution")

type Execution struct {
	Sequence    int
	Parent      *Execution
	Children    []*Execution
	Member      string
	Target      any
	Arguments   []any
	Memento     *Memento
	Event       any
	StartedAt   time.Time
	CompletedAt time.Time
	Returned    any
	Threw       error
}

func (execution *Execution) Kind() uint64 {
	return kinds.Execution
}

func (execution *Execution) Id() string {
	if execution == nil {
		return ""
	}
	return strconv.Itoa(execution.Sequence)
}

func (execution *Execution) Completed() bool {
	return execution != nil && !execution.CompletedAt.IsZero()
}

func (execution *Execution) Depth() int {
	depth := 0
	for parent := execution.Parent; parent != nil; parent = parent.Parent {
		depth++
	}
	return depth
}

type Interaction struct {
	ID         uuid.UUID
	Command    *Command
	clock      clock.Clock
	executions []*Execution
	stack      []*Execution
	prior      *Execution
}

func NewInteraction(command *Command, clk clock.Clock) *Interaction {
	if clk == nil {
		clk = clock.Make()
	}
	if command == nil {
		command = NewCommand(User, Foreground)
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Interaction{
		ID:      id,
		Command: command,
		clock:   clk,
	}
}

func (interaction *Interaction) Current() *Execution {
	if len(interaction.stack) == 0 {
		return nil
	}
	return interaction.stack[len(interaction.stack)-1]
}

func (interaction *Interaction) Prior() *Execution {
	return interaction.prior
}

// Executions returns every execution in the order they began.
func (interaction *Interaction) Executions() []*Execution {
	return append([]*Execution(nil), interaction.executions...)
}

func (interaction *Interaction) Roots() []*Execution {
	roots := []*Execution{}
	for _, execution := range interaction.executions {
		if execution.Parent == nil {
			roots = append(roots, execution)
		}
	}
	return roots
}

// BindCommand stamps the command's start time. Only the first stamp sticks.
func (interaction *Interaction) BindCommand(command *Command, at time.Time) {
	if command == nil {
		return
	}
	interaction.Command = command
	command.Stamp(at)
}

// Begin pushes a new execution and makes it current.
func (interaction *Interaction) Begin(member string, target any, arguments []any) *Execution {
	now := interaction.clock.Now()
	parent := interaction.Current()
	if parent == nil {
		interaction.BindCommand(interaction.Command, now)
		if interaction.Command != nil && interaction.Command.Member == "" {
			interaction.Command.Member = member
		}
	}
	execution := &Execution{
		Sequence:  len(interaction.executions) + 1,
		Parent:    parent,
		Member:    member,
		Target:    target,
		Arguments: arguments,
		StartedAt: now,
	}
	if parent != nil {
		parent.Children = append(parent.Children, execution)
	}
	interaction.executions = append(interaction.executions, execution)
	interaction.stack = append(interaction.stack, execution)
	return execution
}

// CompleteNormally pops execution, records what it returned and returns it as the
// new prior execution.
func (interaction *Interaction) CompleteNormally(execution *Execution, returned any) (*Execution, error) {
	if err := interaction.pop(execution); err != nil {
		return interaction.prior, err
	}
	execution.Returned = returned
	return execution, nil
}

// CompleteWithThrow pops execution, records the error it raised and returns it as the
// new prior execution.
func (interaction *Interaction) CompleteWithThrow(execution *Execution, err error) (*Execution, error) {
	if popErr := interaction.pop(execution); popErr != nil {
		return interaction.prior, popErr
	}
	execution.Threw = err
	return execution, nil
}

func (interaction *Interaction) pop(execution *Execution) error {
	current := interaction.Current()
	if execution == nil || current != execution {
		return fmt.Errorf("complete %s: %w", execution.Id(), ErrNotCurrent)
	}
	completedAt := interaction.clock.Now()
	if completedAt.Before(execution.StartedAt) {
		completedAt = execution.StartedAt
	}
	for _, child := range execution.Children {
		if completedAt.Before(child.CompletedAt) {
			completedAt = child.CompletedAt
		}
	}
	execution.CompletedAt = completedAt
	interaction.stack = interaction.stack[:len(interaction.stack)-1]
	interaction.prior = execution
	return nil
}

package invoke

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/stateforward/go-invoke/embedded"
	"github.com/stateforward/go-invoke/kinds"
)

/******* Phase *******/

type Phase uint64

var (
	Hide      = Phase(kinds.Hide)
	Disable   = Phase(kinds.Disable)
	Validate  = Phase(kinds.Validate)
	Executing = Phase(kinds.Executing)
	Executed  = Phase(kinds.Executed)
)

// Phases lists the phases of one invocation attempt in the order they are posted.
var Phases = []Phase{Hide, Disable, Validate, Executing, Executed}

func (phase Phase) String() string {
	switch phase {
	case Hide:
		return "HIDE"
	case Disable:
		return "DISABLE"
	case Validate:
		return "VALIDATE"
	case Executing:
		return "EXECUTING"
	case Executed:
		return "EXECUTED"
	}
	return fmt.Sprintf("Phase(%d)", uint64(phase))
}

// Authorizing reports whether subscribers may veto during the phase.
func (phase Phase) Authorizing() bool {
	return kinds.IsKind(uint64(phase), kinds.Authorization)
}

/******* Event types *******/

// EventType identifies the kind of event posted for an action. Subscribers register
// against a type and receive events of that type and of every type derived from it.
type EventType struct {
	name   string
	parent *EventType
	noop   bool
}

var (
	// ActionDomainEvent is the root of every event type.
	ActionDomainEvent = &EventType{name: "ActionDomainEvent"}
	// NoopEventType disables posting for actions bound to it.
	NoopEventType = &EventType{name: "Noop", noop: true}
)

// NewEventType declares an event type derived from parent, or from
// ActionDomainEvent when parent is nil.
func NewEventType(name string, parent *EventType) *EventType {
	if parent == nil {
		parent = ActionDomainEvent
	}
	return &EventType{name: name, parent: parent, noop: parent.noop}
}

func (t *EventType) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

func (t *EventType) Noop() bool {
	return t != nil && t.noop
}

// Is reports whether t is other or derives from it.
func (t *EventType) Is(other *EventType) bool {
	for current := t; current != nil; current = current.parent {
		if current == other {
			return true
		}
	}
	return false
}

/******* Domain event *******/

var ErrPhaseWindow = errors.New("event field is not writable in this phase")

// DomainEvent is posted to subscribers once per phase. Veto fields are writable during
// the authorization phases only, the return value during EXECUTED only.
type DomainEvent struct {
	id        string
	phase     Phase
	eventType *EventType
	action    *ActionDescriptor
	target    embedded.Object
	mixedIn   embedded.Object
	arguments []embedded.Object

	hidden         bool
	hiddenReason   string
	disabledReason string
	invalidReason  string

	returnValue embedded.Object
	overridden  bool
}

func newDomainEvent(phase Phase, attempt *Attempt) *DomainEvent {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &DomainEvent{
		id:        id.String(),
		phase:     phase,
		eventType: attempt.Action.EventType(),
		action:    attempt.Action,
		target:    attempt.Target,
		mixedIn:   attempt.MixedIn,
		arguments: attempt.Arguments,
	}
}

func (event *DomainEvent) Kind() uint64 {
	if event == nil {
		return kinds.Event
	}
	return uint64(event.phase)
}

func (event *DomainEvent) Id() string {
	if event == nil {
		return ""
	}
	return event.id
}

func (event *DomainEvent) Phase() Phase {
	return event.phase
}

func (event *DomainEvent) Type() *EventType {
	return event.eventType
}

func (event *DomainEvent) Action() *ActionDescriptor {
	return event.action
}

// Target is the object the action was invoked on. For contributed actions this is the
// mixee, not the mixin.
func (event *DomainEvent) Target() embedded.Object {
	return event.target
}

func (event *DomainEvent) MixedIn() embedded.Object {
	return event.mixedIn
}

func (event *DomainEvent) Arguments() []embedded.Object {
	return append([]embedded.Object(nil), event.arguments...)
}

func (event *DomainEvent) IsHidden() bool {
	return event.hidden
}

func (event *DomainEvent) HiddenReason() string {
	return event.hiddenReason
}

func (event *DomainEvent) DisabledReason() string {
	return event.disabledReason
}

func (event *DomainEvent) InvalidReason() string {
	return event.invalidReason
}

// Vetoed reports whether any authorization field has been set.
func (event *DomainEvent) Vetoed() bool {
	return event.hidden || event.disabledReason != "" || event.invalidReason != ""
}

func (event *DomainEvent) window(phase Phase, field string) error {
	if event.phase != phase {
		return fmt.Errorf("%s during %s: %w", field, event.phase, ErrPhaseWindow)
	}
	return nil
}

// Hide hides the action. Valid during HIDE.
func (event *DomainEvent) Hide(reason string) error {
	if err := event.window(Hide, "hide"); err != nil {
		return err
	}
	event.hidden = true
	event.hiddenReason = reason
	return nil
}

// Disable disables the action. Valid during DISABLE.
func (event *DomainEvent) Disable(reason string) error {
	if err := event.window(Disable, "disable"); err != nil {
		return err
	}
	if reason == "" {
		reason = "disabled"
	}
	event.disabledReason = reason
	return nil
}

// Invalidate rejects the submitted arguments. Valid during VALIDATE.
func (event *DomainEvent) Invalidate(reason string) error {
	if err := event.window(Validate, "invalidate"); err != nil {
		return err
	}
	if reason == "" {
		reason = "invalid"
	}
	event.invalidReason = reason
	return nil
}

// Veto hides, disables or invalidates depending on the current phase.
func (event *DomainEvent) Veto(format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	switch event.phase {
	case Hide:
		return event.Hide(reason)
	case Disable:
		return event.Disable(reason)
	case Validate:
		return event.Invalidate(reason)
	}
	return fmt.Errorf("veto during %s: %w", event.phase, ErrPhaseWindow)
}

func (event *DomainEvent) ReturnValue() embedded.Object {
	return event.returnValue
}

// Overridden reports whether a subscriber replaced the return value.
func (event *DomainEvent) Overridden() bool {
	return event.overridden
}

// SetReturnValue replaces what the invocation returns. Valid during EXECUTED.
func (event *DomainEvent) SetReturnValue(value embedded.Object) error {
	if err := event.window(Executed, "return value"); err != nil {
		return err
	}
	event.returnValue = value
	event.overridden = true
	return nil
}

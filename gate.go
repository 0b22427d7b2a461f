package invoke

import (
	"context"
	"fmt"
)

// Verdict is the outcome of an authorization check.
type Verdict uint8

const (
	Allowed Verdict = iota
	Hidden
	Disabled
	Invalid
)

func (verdict Verdict) String() string {
	switch verdict {
	case Allowed:
		return "ALLOWED"
	case Hidden:
		return "HIDDEN"
	case Disabled:
		return "DISABLED"
	case Invalid:
		return "INVALID"
	}
	return fmt.Sprintf("Verdict(%d)", uint8(verdict))
}

// Decision is a non-error veto. Reason is meant for the end user.
type Decision struct {
	Verdict Verdict
	Reason  string
}

func (decision Decision) Allowed() bool {
	return decision.Verdict == Allowed
}

func (decision Decision) String() string {
	if decision.Reason == "" {
		return decision.Verdict.String()
	}
	return fmt.Sprintf("%s(%s)", decision.Verdict, decision.Reason)
}

// Gate posts HIDE, DISABLE and VALIDATE and stops at the first veto.
type Gate struct {
	Dispatcher *Dispatcher
}

// Check returns the authorization decision for attempt. Errors come from subscribers
// and are not decisions.
func (gate Gate) Check(ctx context.Context, attempt *Attempt) (Decision, error) {
	event, err := gate.Dispatcher.Post(ctx, Hide, attempt)
	if err != nil {
		return Decision{}, err
	}
	if event.IsHidden() {
		return Decision{Verdict: Hidden, Reason: event.HiddenReason()}, nil
	}

	event, err = gate.Dispatcher.Post(ctx, Disable, attempt)
	if err != nil {
		return Decision{}, err
	}
	if reason := event.DisabledReason(); reason != "" {
		return Decision{Verdict: Disabled, Reason: reason}, nil
	}

	if parameters := attempt.Action.Parameters(); len(attempt.Arguments) != len(parameters) {
		return Decision{
			Verdict: Invalid,
			Reason:  fmt.Sprintf("expected %d arguments, got %d", len(parameters), len(attempt.Arguments)),
		}, nil
	}
	event, err = gate.Dispatcher.Post(ctx, Validate, attempt)
	if err != nil {
		return Decision{}, err
	}
	if reason := event.InvalidReason(); reason != "" {
		return Decision{Verdict: Invalid, Reason: reason}, nil
	}
	return Decision{Verdict: Allowed}, nil
}

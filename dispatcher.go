package invoke

import (
	"context"
	"fmt"
	"sync"
)

// Subscriber observes domain events. Returning an error aborts the invocation.
type Subscriber func(ctx context.Context, event *DomainEvent) error

type subscription struct {
	eventType  *EventType
	subscriber Subscriber
}

// Attempt is one invocation attempt carried through the pipeline. It holds the single
// event instance shared by EXECUTING and EXECUTED.
type Attempt struct {
	Action    *ActionDescriptor
	Target    Object
	MixedIn   Object
	Arguments []Object

	event *DomainEvent
}

// Event returns the event posted during EXECUTING, or nil before that.
func (attempt *Attempt) Event() *DomainEvent {
	return attempt.event
}

// Dispatcher delivers domain events to subscribers in registration order.
type Dispatcher struct {
	mu                sync.RWMutex
	subscriptions     []subscription
	postDefaultEvents bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{postDefaultEvents: true}
}

// PostDefaultEvents controls whether actions left on the model's default event type,
// or bound to ActionDomainEvent itself, are posted at all.
func (dispatcher *Dispatcher) PostDefaultEvents(enabled bool) *Dispatcher {
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	dispatcher.postDefaultEvents = enabled
	return dispatcher
}

// Subscribe registers subscriber for eventType and everything derived from it.
func (dispatcher *Dispatcher) Subscribe(eventType *EventType, subscriber Subscriber) {
	if eventType == nil {
		eventType = ActionDomainEvent
	}
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	dispatcher.subscriptions = append(dispatcher.subscriptions, subscription{
		eventType:  eventType,
		subscriber: subscriber,
	})
}

func (dispatcher *Dispatcher) skips(action *ActionDescriptor) bool {
	eventType := action.EventType()
	if eventType.Noop() {
		return true
	}
	dispatcher.mu.RLock()
	defer dispatcher.mu.RUnlock()
	if dispatcher.postDefaultEvents {
		return false
	}
	return !action.explicitEvent || eventType == ActionDomainEvent
}

// Post builds the event for phase and delivers it. Authorization phases get a fresh
// event each; EXECUTING stores its event on the attempt and EXECUTED reuses it.
func (dispatcher *Dispatcher) Post(ctx context.Context, phase Phase, attempt *Attempt) (*DomainEvent, error) {
	var event *DomainEvent
	switch {
	case phase == Executed && attempt.event != nil:
		event = attempt.event
		event.phase = phase
	default:
		event = newDomainEvent(phase, attempt)
	}
	if phase == Executing {
		attempt.event = event
	}
	if dispatcher == nil || dispatcher.skips(attempt.Action) {
		return event, nil
	}
	dispatcher.mu.RLock()
	subscriptions := append([]subscription(nil), dispatcher.subscriptions...)
	dispatcher.mu.RUnlock()
	for _, subscription := range subscriptions {
		if !event.eventType.Is(subscription.eventType) {
			continue
		}
		if err := subscription.subscriber(ctx, event); err != nil {
			return event, fmt.Errorf("%s subscriber for %s: %w", phase, attempt.Action.Identifier(), err)
		}
	}
	return event, nil
}

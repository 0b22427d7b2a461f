package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/stateforward/go-invoke/embedded"
	"github.com/stateforward/go-invoke/kinds"
)

/******* Element *******/

type element struct {
	kind          uint64
	qualifiedName string
	id            string
}

func (element *element) Kind() uint64 {
	if element == nil {
		return 0
	}
	return element.kind
}

func (element *element) Owner() string {
	if element == nil {
		return ""
	}
	return path.Dir(element.qualifiedName)
}

func (element *element) Id() string {
	if element == nil {
		return ""
	}
	return element.id
}

func (element *element) Name() string {
	if element == nil {
		return ""
	}
	return path.Base(element.qualifiedName)
}

func (element *element) QualifiedName() string {
	if element == nil {
		return ""
	}
	return element.qualifiedName
}

/******* Model *******/

// Model is the metamodel: every type and action known to an Invoker, keyed by
// qualified name ("/Customer/placeOrder").
type Model struct {
	element
	namespace    map[string]embedded.NamedElement
	elements     []Partial
	defaultEvent *EventType
}

func (model *Model) Namespace() map[string]embedded.NamedElement {
	return model.namespace
}

func (model *Model) Push(partial Partial) {
	model.elements = append(model.elements, partial)
}

// Action looks an action up by qualified name.
func (model *Model) Action(qualifiedName string) (*ActionDescriptor, bool) {
	if model == nil {
		return nil, false
	}
	action, ok := model.namespace[qualifiedName].(*ActionDescriptor)
	return action, ok
}

// Actions returns every action ordered by qualified name.
func (model *Model) Actions() []*ActionDescriptor {
	actions := []*ActionDescriptor{}
	for _, element := range model.namespace {
		if action, ok := element.(*ActionDescriptor); ok {
			actions = append(actions, action)
		}
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].QualifiedName() < actions[j].QualifiedName()
	})
	return actions
}

func (model *Model) DefaultEvent() *EventType {
	return model.defaultEvent
}

type Partial = func(model *Model, stack []embedded.NamedElement) embedded.NamedElement

func apply(model *Model, stack []embedded.NamedElement, partials ...Partial) {
	for _, partial := range partials {
		partial(model, stack)
	}
}

func find(stack []embedded.NamedElement, maybeKinds ...uint64) embedded.NamedElement {
	for i := len(stack) - 1; i >= 0; i-- {
		if kinds.IsKind(stack[i].Kind(), maybeKinds...) {
			return stack[i]
		}
	}
	return nil
}

func misconfigured(format string, args ...any) {
	err := fmt.Errorf(format, args...)
	slog.Error("invalid model", "error", err)
	panic(err)
}

// Define builds a model from partial elements. Definition errors panic.
func Define(name string, partials ...Partial) *Model {
	model := &Model{
		element:      element{kind: kinds.Model, qualifiedName: "/", id: name},
		namespace:    map[string]embedded.NamedElement{},
		elements:     partials,
		defaultEvent: ActionDomainEvent,
	}
	stack := []embedded.NamedElement{model}
	for len(model.elements) > 0 {
		elements := model.elements
		model.elements = []Partial{}
		apply(model, stack, elements...)
	}
	return model
}

// DefaultEvent sets the event type posted for actions that do not bind their own.
func DefaultEvent(eventType *EventType) Partial {
	return func(model *Model, stack []embedded.NamedElement) embedded.NamedElement {
		if eventType == nil {
			misconfigured("default event type is nil")
		}
		model.defaultEvent = eventType
		// resolve once every action has been registered
		model.Push(func(model *Model, stack []embedded.NamedElement) embedded.NamedElement {
			for _, action := range model.Actions() {
				if !action.explicitEvent {
					action.eventType = eventType
				}
			}
			return model
		})
		return model
	}
}

/******* Type *******/

type domainType struct {
	element
	actions []string
}

func (t *domainType) Actions() []string {
	return t.actions
}

// Type declares a domain type owning actions.
func Type(name string, partials ...Partial) Partial {
	return func(model *Model, stack []embedded.NamedElement) embedded.NamedElement {
		owner := find(stack, kinds.Model)
		if owner == nil {
			misconfigured("type %s must be declared within a model", name)
		}
		qualifiedName := path.Join(owner.QualifiedName(), name)
		if _, exists := model.namespace[qualifiedName]; exists {
			misconfigured("type %s already exists", qualifiedName)
		}
		element := &domainType{
			element: element{kind: kinds.Type, qualifiedName: qualifiedName, id: name},
		}
		model.namespace[qualifiedName] = element
		stack = append(stack, element)
		apply(model, stack, partials...)
		return element
	}
}

/******* Action *******/

// MethodFunc is the operation behind an action. A nil result means void.
type MethodFunc func(ctx context.Context, target any, arguments []any) (any, error)

// ActionDescriptor is an immutable description of an invocable operation.
type ActionDescriptor struct {
	element
	parameters    []string
	returns       string
	safe          bool
	published     bool
	contributed   string
	eventType     *EventType
	explicitEvent bool
	method        MethodFunc
}

func (action *ActionDescriptor) Parameters() []string {
	return append([]string(nil), action.parameters...)
}

func (action *ActionDescriptor) Returns() string {
	return action.returns
}

func (action *ActionDescriptor) Safe() bool {
	return action.safe
}

func (action *ActionDescriptor) Published() bool {
	return action.published
}

// Contributed returns the mixin type that contributes the action, if any.
func (action *ActionDescriptor) Contributed() string {
	return action.contributed
}

func (action *ActionDescriptor) EventType() *EventType {
	return action.eventType
}

// Identifier is the member identity recorded on executions, e.g.
// "Customer#placeOrder(Product,int)".
func (action *ActionDescriptor) Identifier() string {
	return fmt.Sprintf("%s#%s(%s)", path.Base(action.Owner()), action.Name(), strings.Join(action.parameters, ","))
}

// Call runs the bound method.
func (action *ActionDescriptor) Call(ctx context.Context, target any, arguments []any) (any, error) {
	if action.method == nil {
		return nil, fmt.Errorf("action %s has no method", action.QualifiedName())
	}
	return action.method(ctx, target, arguments)
}

func (action *ActionDescriptor) String() string {
	return action.Identifier()
}

// Action declares an action on the enclosing type.
func Action(name string, partials ...Partial) Partial {
	return func(model *Model, stack []embedded.NamedElement) embedded.NamedElement {
		owner := find(stack, kinds.Type)
		if owner == nil {
			misconfigured("action %s must be declared within a type", name)
		}
		qualifiedName := path.Join(owner.QualifiedName(), name)
		if _, exists := model.namespace[qualifiedName]; exists {
			misconfigured("action %s already exists", qualifiedName)
		}
		action := &ActionDescriptor{
			element:    element{kind: kinds.Action, qualifiedName: qualifiedName, id: qualifiedName},
			parameters: []string{},
			eventType:  model.defaultEvent,
		}
		model.namespace[qualifiedName] = action
		owner.(*domainType).actions = append(owner.(*domainType).actions, qualifiedName)
		stack = append(stack, action)
		apply(model, stack, partials...)
		if action.method == nil {
			misconfigured("action %s has no method", qualifiedName)
		}
		return action
	}
}

func owningAction(stack []embedded.NamedElement, what string) *ActionDescriptor {
	owner := find(stack, kinds.Action)
	if owner == nil {
		misconfigured("%s must be declared within an action", what)
	}
	return owner.(*ActionDescriptor)
}

func Parameters(types ...string) Partial {
	return func(model *Model, stack []embedded.NamedElement) embedded.NamedElement {
		action := owningAction(stack, "parameters")
		action.parameters = append(action.parameters, types...)
		return action
	}
}

func Returns(returnType string) Partial {
	return func(model *Model, stack []embedded.NamedElement) embedded.NamedElement {
		action := owningAction(stack, "returns")
		action.returns = returnType
		return action
	}
}

// Safe marks the action as free of side effects, which makes its results cacheable
// for the rest of the request.
func Safe() Partial {
	return func(model *Model, stack []embedded.NamedElement) embedded.NamedElement {
		action := owningAction(stack, "safe")
		action.safe = true
		return action
	}
}

// Published hands completed executions of the action to the publisher.
func Published() Partial {
	return func(model *Model, stack []embedded.NamedElement) embedded.NamedElement {
		action := owningAction(stack, "published")
		action.published = true
		return action
	}
}

// Contributed marks the action as contributed by a mixin type. Its method runs
// against the mixed-in object.
func Contributed(mixin string) Partial {
	return func(model *Model, stack []embedded.NamedElement) embedded.NamedElement {
		action := owningAction(stack, "contributed")
		action.contributed = mixin
		action.kind = kinds.Mixin
		return action
	}
}

// Event binds the event type posted around the action.
func Event(eventType *EventType) Partial {
	return func(model *Model, stack []embedded.NamedElement) embedded.NamedElement {
		action := owningAction(stack, "event")
		if eventType == nil {
			misconfigured("action %s binds a nil event type", action.QualifiedName())
		}
		action.eventType = eventType
		action.explicitEvent = true
		return action
	}
}

func Method(fn MethodFunc) Partial {
	return func(model *Model, stack []embedded.NamedElement) embedded.NamedElement {
		action := owningAction(stack, "method")
		action.method = fn
		return action
	}
}

// Package invoke routes calls on domain objects through an invocation pipeline.
//
// An action is never called directly. Invoker.Invoke first asks subscribers whether
// the action is hidden, disabled or given invalid arguments, then either defers the
// request as a background command or runs it inside a transaction: it records a ledger
// execution, posts EXECUTING, calls the method (or serves a cached result for safe
// actions), clones view models, posts EXECUTED, stamps the command's result bookmark
// and publishes the execution. Failures are classified into messages the user may see
// and errors that escalate to the caller.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stateforward/go-invoke/clock"
	"github.com/stateforward/go-invoke/embedded"
	"github.com/stateforward/go-invoke/failure"
	"github.com/stateforward/go-invoke/ledger"
	"github.com/stateforward/go-invoke/pkg/config"
)

var ErrNoInteraction = errors.New("no interaction bound to context")

// Trace is called when a pipeline step starts. The returned function is called with
// the step's outcome when it ends.
type Trace func(ctx context.Context, step string, elements ...embedded.Element) (context.Context, func(...any))

// Outcome tells how an invocation attempt ended without an error.
type Outcome uint8

const (
	Completed Outcome = iota
	Vetoed
	Deferred
	Recovered
)

func (outcome Outcome) String() string {
	switch outcome {
	case Completed:
		return "COMPLETED"
	case Vetoed:
		return "VETOED"
	case Deferred:
		return "DEFERRED"
	case Recovered:
		return "RECOVERED"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(outcome))
}

// Handle wraps a command persisted for background execution.
type Handle struct {
	Command *ledger.Command
}

type Result struct {
	Outcome   Outcome
	Decision  Decision
	Value     Object
	Handle    *Handle
	Message   string
	Execution *ledger.Execution
}

type Invoker struct {
	model        *Model
	config       config.Config
	dispatcher   *Dispatcher
	adapter      embedded.Adapter
	methods      embedded.MethodInvoker
	transactions embedded.Transactions
	commands     embedded.CommandStore
	bookmarks    embedded.Bookmarks
	publisher    embedded.Publisher
	mementos     embedded.Mementos
	cloner       embedded.Cloner
	visibility   embedded.Visibility
	clock        clock.Clock
	logger       *slog.Logger
	trace        Trace
}

type Option func(*Invoker)

func WithConfig(cfg config.Config) Option {
	return func(invoker *Invoker) { invoker.config = cfg }
}

func WithDispatcher(dispatcher *Dispatcher) Option {
	return func(invoker *Invoker) { invoker.dispatcher = dispatcher }
}

func WithAdapter(adapter embedded.Adapter) Option {
	return func(invoker *Invoker) { invoker.adapter = adapter }
}

func WithMethodInvoker(methods embedded.MethodInvoker) Option {
	return func(invoker *Invoker) { invoker.methods = methods }
}

func WithTransactions(transactions embedded.Transactions) Option {
	return func(invoker *Invoker) { invoker.transactions = transactions }
}

func WithCommandStore(commands embedded.CommandStore) Option {
	return func(invoker *Invoker) { invoker.commands = commands }
}

func WithBookmarks(bookmarks embedded.Bookmarks) Option {
	return func(invoker *Invoker) { invoker.bookmarks = bookmarks }
}

func WithPublisher(publisher embedded.Publisher) Option {
	return func(invoker *Invoker) { invoker.publisher = publisher }
}

func WithMementos(mementos embedded.Mementos) Option {
	return func(invoker *Invoker) { invoker.mementos = mementos }
}

func WithCloner(cloner embedded.Cloner) Option {
	return func(invoker *Invoker) { invoker.cloner = cloner }
}

func WithVisibility(visibility embedded.Visibility) Option {
	return func(invoker *Invoker) { invoker.visibility = visibility }
}

func WithClock(clk clock.Clock) Option {
	return func(invoker *Invoker) { invoker.clock = clk }
}

func WithLogger(logger *slog.Logger) Option {
	return func(invoker *Invoker) { invoker.logger = logger }
}

func WithTrace(trace Trace) Option {
	return func(invoker *Invoker) { invoker.trace = trace }
}

func New(model *Model, options ...Option) *Invoker {
	invoker := &Invoker{
		model:        model,
		config:       config.Default(),
		adapter:      DefaultAdapter,
		methods:      Methods{},
		transactions: Immediate{},
		clock:        clock.Make(),
		logger:       slog.Default(),
	}
	for _, option := range options {
		option(invoker)
	}
	if invoker.dispatcher == nil {
		invoker.dispatcher = NewDispatcher()
	}
	invoker.dispatcher.PostDefaultEvents(invoker.config.PostDefaultEvents)
	return invoker
}

func (invoker *Invoker) Model() *Model {
	return invoker.model
}

func (invoker *Invoker) Dispatcher() *Dispatcher {
	return invoker.dispatcher
}

// Subscribe is shorthand for Dispatcher().Subscribe.
func (invoker *Invoker) Subscribe(eventType *EventType, subscriber Subscriber) {
	invoker.dispatcher.Subscribe(eventType, subscriber)
}

func (invoker *Invoker) step(ctx context.Context, step string, elements ...embedded.Element) (context.Context, func(...any)) {
	if invoker.trace == nil {
		return ctx, func(...any) {}
	}
	return invoker.trace(ctx, step, elements...)
}

// Invoke runs action on target through the pipeline. Vetoes, deferrals and recovered
// failures are reported on the Result; only escalated and configuration failures are
// returned as errors.
func (invoker *Invoker) Invoke(ctx context.Context, action *ActionDescriptor, target, mixedIn Object, arguments ...Object) (result Result, err error) {
	if action == nil {
		return Result{}, fmt.Errorf("invoke: nil action")
	}
	interaction, ok := InteractionFrom(ctx)
	if !ok {
		return Result{}, fmt.Errorf("invoke %s: %w", action.Identifier(), ErrNoInteraction)
	}
	ctx, end := invoker.step(ctx, "Invoke", action)
	defer func() {
		if err != nil {
			end(err)
			return
		}
		end(result.Outcome)
	}()

	attempt := &Attempt{
		Action:    action,
		Target:    target,
		MixedIn:   mixedIn,
		Arguments: arguments,
	}

	decision, err := invoker.authorize(ctx, attempt)
	if err != nil {
		classification := failure.Classify(err, invoker.transactions.CanCommit(ctx), invoker.config.MessageLimit)
		if classification.Recovered {
			invoker.logger.WarnContext(ctx, "authorization failed", "action", action.Identifier(), "message", classification.Message)
			return Result{Outcome: Recovered, Decision: decision, Message: classification.Message}, nil
		}
		return Result{}, invoker.escalate(ctx, action, classification.Err)
	}
	if !decision.Allowed() {
		invoker.logger.DebugContext(ctx, "action vetoed", "action", action.Identifier(), "decision", decision.String())
		return Result{Outcome: Vetoed, Decision: decision}, nil
	}

	command := interaction.Command
	if command != nil && command.Executor == ledger.User && command.ExecuteIn == ledger.Background {
		return invoker.enqueue(ctx, interaction, attempt)
	}

	err = invoker.transactions.ExecuteWithin(ctx, func(ctx context.Context) error {
		value, execution, err := invoker.execute(ctx, interaction, attempt)
		if err == nil {
			result = Result{Outcome: Completed, Decision: decision, Value: value, Execution: execution}
			return nil
		}
		classification := failure.Classify(err, invoker.transactions.CanCommit(ctx), invoker.config.MessageLimit)
		if classification.Recovered {
			invoker.logger.WarnContext(ctx, "action failed", "action", action.Identifier(), "message", classification.Message)
			result = Result{Outcome: Recovered, Decision: decision, Message: classification.Message, Execution: execution}
			return nil
		}
		return classification.Err
	})
	if err != nil {
		return Result{}, invoker.escalate(ctx, action, err)
	}
	return result, nil
}

func (invoker *Invoker) authorize(ctx context.Context, attempt *Attempt) (decision Decision, err error) {
	ctx, end := invoker.step(ctx, "authorize", attempt.Action)
	defer func() { end(decision.Verdict, err) }()
	return Gate{Dispatcher: invoker.dispatcher}.Check(ctx, attempt)
}

func (invoker *Invoker) escalate(ctx context.Context, action *ActionDescriptor, err error) error {
	var escalated *failure.Escalated
	var configuration *failure.ConfigurationError
	if !errors.As(err, &escalated) && !errors.As(err, &configuration) {
		err = failure.Classify(err, false, invoker.config.MessageLimit).Err
	}
	invoker.logger.ErrorContext(ctx, "action escalated", "action", action.Identifier(), "error", err)
	return err
}

// enqueue persists the command instead of running the action.
func (invoker *Invoker) enqueue(ctx context.Context, interaction *ledger.Interaction, attempt *Attempt) (Result, error) {
	ctx, end := invoker.step(ctx, "defer", attempt.Action)
	command := interaction.Command
	if command.Member == "" {
		command.Member = attempt.Action.Identifier()
	}
	if invoker.mementos != nil && command.Memento == nil {
		memento, err := invoker.mementos.ToDto(attempt.Action, attempt.Target, attempt.Arguments)
		if err != nil {
			end(err)
			return Result{}, fmt.Errorf("memento for %s: %w", attempt.Action.Identifier(), err)
		}
		command.Memento = memento
	}
	persisted := false
	if invoker.commands != nil {
		var err error
		persisted, err = invoker.commands.PersistIfPossible(ctx, command)
		if err != nil {
			end(err)
			return Result{}, fmt.Errorf("persist command %s: %w", command.Id(), err)
		}
	}
	if !persisted {
		err := &failure.ConfigurationError{Reason: "background execution of " + attempt.Action.Identifier() + " is not supported"}
		end(err)
		return Result{}, err
	}
	end(Deferred)
	return Result{Outcome: Deferred, Decision: Decision{Verdict: Allowed}, Handle: &Handle{Command: command}}, nil
}

func (invoker *Invoker) execute(ctx context.Context, interaction *ledger.Interaction, attempt *Attempt) (value Object, prior *ledger.Execution, err error) {
	action := attempt.Action
	ctx, end := invoker.step(ctx, "execute", action)
	defer func() { end(err) }()

	execution := interaction.Begin(action.Identifier(), Unwrap(attempt.Target), unwrapAll(attempt.Arguments))
	// a panicking subscriber must not leave the execution open
	defer func() {
		if recovered := recover(); recovered != nil {
			if interaction.Current() == execution {
				interaction.CompleteWithThrow(execution, fmt.Errorf("panic: %v", recovered))
			}
			panic(recovered)
		}
	}()
	if invoker.mementos != nil {
		memento, err := invoker.mementos.ToDto(action, attempt.Target, attempt.Arguments)
		if err != nil {
			prior, _ = interaction.CompleteWithThrow(execution, err)
			return nil, prior, err
		}
		memento.Interaction = interaction.ID.String()
		memento.Sequence = execution.Sequence
		memento.StartedAt = execution.StartedAt
		execution.Memento = memento
	}

	value, err = invoker.run(ctx, attempt, execution)
	if err != nil {
		prior, _ = interaction.CompleteWithThrow(execution, failure.Unwrap(err))
	} else {
		prior, err = interaction.CompleteNormally(execution, Unwrap(value))
	}
	if invoker.mementos != nil && prior != nil && prior.Memento != nil {
		if updateErr := invoker.mementos.UpdateResult(prior.Memento, action, value, prior.Threw); updateErr != nil && err == nil {
			err = updateErr
		}
		if prior.Completed() {
			completedAt := prior.CompletedAt
			prior.Memento.CompletedAt = &completedAt
		}
	}
	if err != nil {
		return nil, prior, err
	}
	if prior.Threw != nil {
		return nil, prior, prior.Threw
	}

	if err := invoker.bookmark(ctx, interaction.Command, value); err != nil {
		return nil, prior, err
	}
	if action.Published() && invoker.publisher != nil {
		if err := invoker.publisher.Publish(ctx, prior); err != nil {
			return nil, prior, fmt.Errorf("publish %s: %w", action.Identifier(), err)
		}
	}
	value = Filter{Enabled: invoker.config.FilterVisibility, Visibility: invoker.visibility, Adapter: invoker.adapter}.Apply(ctx, value)
	return value, prior, nil
}

// run covers EXECUTING through EXECUTED.
func (invoker *Invoker) run(ctx context.Context, attempt *Attempt, execution *ledger.Execution) (Object, error) {
	action := attempt.Action
	event, err := invoker.dispatcher.Post(ctx, Executing, attempt)
	if err != nil {
		return nil, err
	}
	execution.Event = event

	raw, err := invoker.call(ctx, attempt)
	if err != nil {
		return nil, err
	}
	value, err := invoker.cloneResult(attempt, raw)
	if err != nil {
		return nil, err
	}

	event.returnValue = value
	event, err = invoker.dispatcher.Post(ctx, Executed, attempt)
	if err != nil {
		return nil, err
	}
	if event.Overridden() {
		value, err = invoker.cloneResult(attempt, event.ReturnValue())
		if err != nil {
			return nil, err
		}
		invoker.logger.DebugContext(ctx, "return value overridden", "action", action.Identifier())
	}
	return value, nil
}

// call invokes the method, consulting the request cache for safe actions.
func (invoker *Invoker) call(ctx context.Context, attempt *Attempt) (Object, error) {
	action := attempt.Action
	key, cacheable := "", false
	cache := cacheFrom(ctx)
	if action.Safe() && invoker.config.CacheSafeActions && cache != nil {
		key, cacheable = cacheKey(attempt)
	}
	if cacheable {
		if cached, ok := cache.get(key); ok {
			return cached, nil
		}
	}
	target := attempt.Target
	if action.Contributed() != "" && attempt.MixedIn != nil {
		target = attempt.MixedIn
	}
	raw, err := invoker.methods.Invoke(ctx, action, Unwrap(target), unwrapAll(attempt.Arguments))
	if err != nil {
		return nil, err
	}
	value := invoker.adapter.Adapt(raw)
	if cacheable {
		cache.put(key, value, Unwrap(attempt.Target), unwrapAll(attempt.Arguments))
	}
	return value, nil
}

// cloneResult clones view models so the same instance is never aliased across
// requests. A void call on a view model returns a clone of the target.
func (invoker *Invoker) cloneResult(attempt *Attempt, value Object) (Object, error) {
	if invoker.cloner == nil {
		return value, nil
	}
	if value == nil {
		if attempt.Action.Returns() == "" && attempt.Target != nil && invoker.cloner.IsViewModel(attempt.Target) {
			return invoker.cloner.Clone(attempt.Target)
		}
		return nil, nil
	}
	if invoker.cloner.IsViewModel(value) {
		return invoker.cloner.Clone(value)
	}
	return value, nil
}

// bookmark records the first persisted entity produced within the command.
func (invoker *Invoker) bookmark(ctx context.Context, command *ledger.Command, value Object) error {
	if invoker.bookmarks == nil || command == nil || value == nil {
		return nil
	}
	if _, ok := command.Result(); ok || !invoker.bookmarks.IsEntity(value) {
		return nil
	}
	if !invoker.bookmarks.IsPersistent(value) {
		if err := invoker.transactions.Flush(ctx); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	if !invoker.bookmarks.IsPersistent(value) {
		return nil
	}
	bookmark, err := invoker.bookmarks.BookmarkFor(value)
	if err != nil {
		return fmt.Errorf("bookmark: %w", err)
	}
	command.SetResult(bookmark)
	return nil
}

func unwrapAll(arguments []Object) []any {
	raw := make([]any, len(arguments))
	for i, argument := range arguments {
		raw[i] = Unwrap(argument)
	}
	return raw
}

/******* Defaults *******/

// Methods invokes the method bound to an action. Panics and errors raised by the
// method come back wrapped in a failure.InvocationError.
type Methods struct{}

type callable interface {
	Call(ctx context.Context, target any, arguments []any) (any, error)
}

func (Methods) Invoke(ctx context.Context, action embedded.Action, target any, arguments []any) (result any, err error) {
	method, ok := action.(callable)
	if !ok {
		return nil, fmt.Errorf("action %s is not callable", action.QualifiedName())
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			cause, ok := recovered.(error)
			if !ok {
				cause = fmt.Errorf("%v", recovered)
			}
			result, err = nil, &failure.InvocationError{Member: action.Identifier(), Cause: cause}
		}
	}()
	result, err = method.Call(ctx, target, arguments)
	if err != nil {
		return nil, &failure.InvocationError{Member: action.Identifier(), Cause: err}
	}
	return result, nil
}

// Immediate runs work without a transaction manager. It can always commit.
type Immediate struct{}

func (Immediate) ExecuteWithin(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (Immediate) Flush(context.Context) error {
	return nil
}

func (Immediate) CanCommit(context.Context) bool {
	return true
}

package invoke_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	invoke "github.com/stateforward/go-invoke"
	"github.com/stateforward/go-invoke/clock"
	"github.com/stateforward/go-invoke/embedded"
	"github.com/stateforward/go-invoke/failure"
	"github.com/stateforward/go-invoke/ledger"
	"github.com/stateforward/go-invoke/pkg/config"
	"github.com/stateforward/go-invoke/pkg/dto"
	"github.com/stateforward/go-invoke/pkg/tests"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type customer struct {
	Name string
}

type shop struct {
	t       *testing.T
	model   *invoke.Model
	invoker *invoke.Invoker
	calls   map[string]int
	tx      *tests.Transactions
	fail    error
	produce func() any
}

func newShop(t *testing.T, options ...invoke.Option) *shop {
	t.Helper()
	s := &shop{t: t, calls: map[string]int{}, tx: &tests.Transactions{}}
	count := func(name string, fn invoke.MethodFunc) invoke.MethodFunc {
		return func(ctx context.Context, target any, arguments []any) (any, error) {
			s.calls[name]++
			return fn(ctx, target, arguments)
		}
	}
	s.model = invoke.Define("shop",
		invoke.Type("Customer",
			invoke.Action("rename",
				invoke.Parameters("string"),
				invoke.Returns("Customer"),
				invoke.Method(count("rename", func(ctx context.Context, target any, arguments []any) (any, error) {
					c := target.(*customer)
					c.Name = arguments[0].(string)
					return c, nil
				})),
			),
			invoke.Action("lookup",
				invoke.Safe(),
				invoke.Parameters("string"),
				invoke.Returns("string"),
				invoke.Method(count("lookup", func(ctx context.Context, target any, arguments []any) (any, error) {
					return strings.ToUpper(arguments[0].(string)), nil
				})),
			),
			invoke.Action("checkout",
				invoke.Returns("Order"),
				invoke.Method(count("checkout", func(ctx context.Context, target any, arguments []any) (any, error) {
					lookup, _ := s.model.Action("/Customer/lookup")
					result, err := s.invoker.Invoke(ctx, lookup, invoke.Adapt(target), nil, invoke.Adapt("sku"))
					if err != nil {
						return nil, err
					}
					return "order:" + result.Value.Value().(string), nil
				})),
			),
			invoke.Action("produce",
				invoke.Returns("any"),
				invoke.Published(),
				invoke.Method(count("produce", func(ctx context.Context, target any, arguments []any) (any, error) {
					if s.fail != nil {
						return nil, s.fail
					}
					return s.produce(), nil
				})),
			),
			invoke.Action("touch",
				invoke.Method(count("touch", func(ctx context.Context, target any, arguments []any) (any, error) {
					return nil, nil
				})),
			),
		),
		invoke.Type("Loyalty",
			invoke.Action("points",
				invoke.Contributed("Loyalty"),
				invoke.Returns("int"),
				invoke.Method(count("points", func(ctx context.Context, target any, arguments []any) (any, error) {
					return fmt.Sprintf("%T", target), nil
				})),
			),
		),
	)
	options = append([]invoke.Option{
		invoke.WithTransactions(s.tx),
		invoke.WithClock(clock.Make(clock.Config{Epoch: epoch, Step: time.Second})),
	}, options...)
	s.invoker = invoke.New(s.model, options...)
	return s
}

func (s *shop) action(name string) *invoke.ActionDescriptor {
	s.t.Helper()
	action, ok := s.model.Action("/Customer/" + name)
	if !ok {
		action, ok = s.model.Action("/Loyalty/" + name)
	}
	require.True(s.t, ok, name)
	return action
}

func (s *shop) open(command *ledger.Command) (context.Context, *ledger.Interaction) {
	return s.invoker.Open(context.Background(), command)
}

func TestHiddenActionNeverRuns(t *testing.T) {
	s := newShop(t)
	s.invoker.Subscribe(nil, func(ctx context.Context, event *invoke.DomainEvent) error {
		if event.Phase() == invoke.Hide {
			return event.Hide("members only")
		}
		return nil
	})
	ctx, interaction := s.open(nil)

	result, err := s.invoker.Invoke(ctx, s.action("rename"), invoke.Adapt(&customer{}), nil, invoke.Adapt("ada"))
	require.NoError(t, err)
	assert.Equal(t, invoke.Vetoed, result.Outcome)
	assert.Equal(t, invoke.Decision{Verdict: invoke.Hidden, Reason: "members only"}, result.Decision)
	assert.Zero(t, s.calls["rename"])
	assert.Zero(t, s.tx.Opened)
	assert.Empty(t, interaction.Executions())
}

func TestPhasesPostedInOrder(t *testing.T) {
	s := newShop(t)
	recorder := &tests.Recorder{}
	s.invoker.Subscribe(invoke.ActionDomainEvent, recorder.Subscriber())
	ctx, _ := s.open(nil)

	result, err := s.invoker.Invoke(ctx, s.action("rename"), invoke.Adapt(&customer{}), nil, invoke.Adapt("ada"))
	require.NoError(t, err)
	assert.Equal(t, invoke.Completed, result.Outcome)
	assert.Equal(t, invoke.Phases, recorder.Phases())
	assert.Same(t, recorder.Events[3], recorder.Events[4], "EXECUTING and EXECUTED share one event")
	assert.Equal(t, 1, s.tx.Opened)
}

func TestDisabledAndInvalid(t *testing.T) {
	s := newShop(t)
	var disable, invalidate bool
	s.invoker.Subscribe(nil, func(ctx context.Context, event *invoke.DomainEvent) error {
		switch {
		case disable && event.Phase() == invoke.Disable:
			return event.Veto("closed until %d", 10)
		case invalidate && event.Phase() == invoke.Validate:
			return event.Invalidate("name taken")
		}
		return nil
	})
	ctx, _ := s.open(nil)
	target := invoke.Adapt(&customer{})

	disable = true
	result, err := s.invoker.Invoke(ctx, s.action("rename"), target, nil, invoke.Adapt("ada"))
	require.NoError(t, err)
	assert.Equal(t, invoke.Decision{Verdict: invoke.Disabled, Reason: "closed until 10"}, result.Decision)

	disable = false
	result, err = s.invoker.Invoke(ctx, s.action("rename"), target, nil)
	require.NoError(t, err)
	assert.Equal(t, invoke.Decision{Verdict: invoke.Invalid, Reason: "expected 1 arguments, got 0"}, result.Decision)

	invalidate = true
	result, err = s.invoker.Invoke(ctx, s.action("rename"), target, nil, invoke.Adapt("ada"))
	require.NoError(t, err)
	assert.Equal(t, "INVALID(name taken)", result.Decision.String())
	assert.Zero(t, s.calls["rename"])
}

func TestNestedInvocationsNest(t *testing.T) {
	s := newShop(t)
	ctx, interaction := s.open(nil)

	result, err := s.invoker.Invoke(ctx, s.action("checkout"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	assert.Equal(t, "order:SKU", result.Value.Value())

	executions := interaction.Executions()
	require.Len(t, executions, 2)
	outer, inner := executions[0], executions[1]
	assert.Equal(t, "Customer#checkout()", outer.Member)
	assert.Equal(t, "Customer#lookup(string)", inner.Member)
	assert.Same(t, outer, inner.Parent)
	assert.Equal(t, []*ledger.Execution{inner}, outer.Children)
	assert.False(t, outer.CompletedAt.Before(inner.CompletedAt))
	assert.Same(t, outer, interaction.Prior())
	assert.Same(t, outer, result.Execution)
	assert.Nil(t, interaction.Current())
}

func TestCommandStampedOnce(t *testing.T) {
	t.Run("first execution stamps", func(t *testing.T) {
		s := newShop(t)
		command := ledger.NewCommand(ledger.User, ledger.Foreground)
		ctx, interaction := s.open(command)

		_, err := s.invoker.Invoke(ctx, s.action("checkout"), invoke.Adapt(&customer{}), nil)
		require.NoError(t, err)
		assert.Equal(t, interaction.Executions()[0].StartedAt, command.StartedAt())
		assert.Equal(t, "Customer#checkout()", command.Member)

		_, err = s.invoker.Invoke(ctx, s.action("touch"), invoke.Adapt(&customer{}), nil)
		require.NoError(t, err)
		assert.Equal(t, interaction.Executions()[0].StartedAt, command.StartedAt())
	})
	t.Run("preset start kept", func(t *testing.T) {
		s := newShop(t)
		preset := epoch.Add(-time.Hour)
		command := ledger.NewCommand(ledger.User, ledger.Foreground)
		command.Restore(preset, ledger.Bookmark{})
		ctx, _ := s.open(command)

		_, err := s.invoker.Invoke(ctx, s.action("checkout"), invoke.Adapt(&customer{}), nil)
		require.NoError(t, err)
		assert.Equal(t, preset, command.StartedAt())
	})
}

func TestSafeActionsCachedPerRequest(t *testing.T) {
	s := newShop(t)
	ctx, _ := s.open(nil)
	target := invoke.Adapt(&customer{Name: "ada"})

	for range 3 {
		result, err := s.invoker.Invoke(ctx, s.action("lookup"), target, nil, invoke.Adapt("a"))
		require.NoError(t, err)
		assert.Equal(t, "A", result.Value.Value())
	}
	assert.Equal(t, 1, s.calls["lookup"])

	_, err := s.invoker.Invoke(ctx, s.action("lookup"), target, nil, invoke.Adapt("b"))
	require.NoError(t, err)
	assert.Equal(t, 2, s.calls["lookup"])

	fresh, _ := s.open(nil)
	_, err = s.invoker.Invoke(fresh, s.action("lookup"), target, nil, invoke.Adapt("a"))
	require.NoError(t, err)
	assert.Equal(t, 3, s.calls["lookup"], "cache does not outlive the request")
}

func TestSafeActionCacheDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.CacheSafeActions = false
	s := newShop(t, invoke.WithConfig(cfg))
	ctx, _ := s.open(nil)
	for range 2 {
		_, err := s.invoker.Invoke(ctx, s.action("lookup"), invoke.Adapt(&customer{}), nil, invoke.Adapt("a"))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.calls["lookup"])
}

func TestRecoverableFailure(t *testing.T) {
	s := newShop(t)
	s.fail = failure.Recover("%s is out of stock", "widget")
	ctx, interaction := s.open(nil)

	result, err := s.invoker.Invoke(ctx, s.action("produce"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	assert.Equal(t, invoke.Recovered, result.Outcome)
	assert.Equal(t, "widget is out of stock", result.Message)
	assert.Zero(t, s.tx.Rolled)
	require.NotNil(t, interaction.Prior())
	assert.Error(t, interaction.Prior().Threw)
}

func TestRecoverableFailureEscalatesWhenDoomed(t *testing.T) {
	s := newShop(t)
	s.tx.Doomed = true
	s.fail = failure.Recover("%s", strings.Repeat("x", 400))
	ctx, _ := s.open(nil)

	_, err := s.invoker.Invoke(ctx, s.action("produce"), invoke.Adapt(&customer{}), nil)
	var escalated *failure.Escalated
	require.ErrorAs(t, err, &escalated)
	assert.Equal(t, strings.Repeat("x", 300)+"...", escalated.Message)
	assert.Equal(t, 1, s.tx.Rolled)
}

func TestMethodErrorEscalatesUnwrapped(t *testing.T) {
	s := newShop(t)
	boom := errors.New("boom")
	s.fail = boom
	ctx, interaction := s.open(nil)

	_, err := s.invoker.Invoke(ctx, s.action("produce"), invoke.Adapt(&customer{}), nil)
	require.ErrorIs(t, err, boom)
	var escalated *failure.Escalated
	require.ErrorAs(t, err, &escalated)
	assert.Equal(t, "boom", escalated.Message)
	assert.True(t, interaction.Prior().Completed())
}

func TestMethodPanicEscalates(t *testing.T) {
	s := newShop(t)
	s.produce = func() any { panic("kaput") }
	ctx, _ := s.open(nil)

	_, err := s.invoker.Invoke(ctx, s.action("produce"), invoke.Adapt(&customer{}), nil)
	assert.EqualError(t, err, "kaput")
}

func TestSubscriberErrorEscalates(t *testing.T) {
	s := newShop(t)
	s.invoker.Subscribe(nil, func(ctx context.Context, event *invoke.DomainEvent) error {
		if event.Phase() == invoke.Executing {
			return errors.New("audit offline")
		}
		return nil
	})
	ctx, _ := s.open(nil)

	_, err := s.invoker.Invoke(ctx, s.action("touch"), invoke.Adapt(&customer{}), nil)
	assert.ErrorContains(t, err, "audit offline")
	assert.Zero(t, s.calls["touch"])
}

func TestNoInteraction(t *testing.T) {
	s := newShop(t)
	_, err := s.invoker.Invoke(context.Background(), s.action("touch"), invoke.Adapt(&customer{}), nil)
	assert.ErrorIs(t, err, invoke.ErrNoInteraction)
}

func hideGhosts(ctx context.Context, object embedded.Object) bool {
	entity, ok := invoke.Unwrap(object).(*tests.Entity)
	return !ok || !strings.HasPrefix(entity.Name, "ghost")
}

func entities(names ...string) []*tests.Entity {
	result := make([]*tests.Entity, len(names))
	for i, name := range names {
		result[i] = &tests.Entity{Type: "Item", ID: fmt.Sprint(i + 1), Name: name}
	}
	return result
}

func TestVisibilityFilter(t *testing.T) {
	s := newShop(t, invoke.WithVisibility(tests.Visibility(hideGhosts)))
	s.produce = func() any { return entities("a", "ghost-1", "b", "ghost-2", "c") }
	ctx, _ := s.open(nil)

	result, err := s.invoker.Invoke(ctx, s.action("produce"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	visible, ok := result.Value.Value().([]*tests.Entity)
	require.True(t, ok, "filtered value keeps its collection type")
	require.Len(t, visible, 3)
	assert.Equal(t, "a", visible[0].Name)
	assert.Equal(t, "b", visible[1].Name)
	assert.Equal(t, "c", visible[2].Name)

	s.produce = func() any { return &tests.Entity{Type: "Item", ID: "9", Name: "ghost"} }
	result, err = s.invoker.Invoke(ctx, s.action("produce"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	assert.Nil(t, result.Value)
}

func TestVisibilityFilterDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.FilterVisibility = false
	s := newShop(t, invoke.WithConfig(cfg), invoke.WithVisibility(tests.Visibility(hideGhosts)))
	s.produce = func() any { return entities("a", "ghost-1", "b", "ghost-2", "c") }
	ctx, _ := s.open(nil)

	result, err := s.invoker.Invoke(ctx, s.action("produce"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	assert.Len(t, result.Value.Value().([]*tests.Entity), 5)
}

func TestOverriddenValueIsFiltered(t *testing.T) {
	s := newShop(t, invoke.WithVisibility(tests.Visibility(hideGhosts)))
	s.produce = func() any { return entities("a") }
	s.invoker.Subscribe(nil, func(ctx context.Context, event *invoke.DomainEvent) error {
		if event.Phase() != invoke.Executed {
			return nil
		}
		return event.SetReturnValue(invoke.Adapt(entities("ghost", "x", "y")))
	})
	ctx, interaction := s.open(nil)

	result, err := s.invoker.Invoke(ctx, s.action("produce"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	visible := result.Value.Value().([]*tests.Entity)
	require.Len(t, visible, 2)
	assert.Equal(t, "x", visible[0].Name)
	assert.Len(t, interaction.Prior().Returned.([]*tests.Entity), 3, "the ledger records the unfiltered value")
}

func TestBackgroundCommandDeferred(t *testing.T) {
	store := &tests.CommandStore{}
	s := newShop(t, invoke.WithCommandStore(store))
	command := ledger.NewCommand(ledger.User, ledger.Background)
	ctx, interaction := s.open(command)

	result, err := s.invoker.Invoke(ctx, s.action("rename"), invoke.Adapt(&customer{}), nil, invoke.Adapt("ada"))
	require.NoError(t, err)
	assert.Equal(t, invoke.Deferred, result.Outcome)
	require.NotNil(t, result.Handle)
	assert.Same(t, command, result.Handle.Command)
	assert.Equal(t, []*ledger.Command{command}, store.Commands)
	assert.Equal(t, "Customer#rename(string)", command.Member)
	assert.Zero(t, s.calls["rename"])
	assert.Zero(t, s.tx.Opened)
	assert.Empty(t, interaction.Executions())
}

func TestBackgroundUnsupported(t *testing.T) {
	for name, option := range map[string]invoke.Option{
		"no store":      func(*invoke.Invoker) {},
		"store refuses": invoke.WithCommandStore(&tests.CommandStore{Unsupported: true}),
	} {
		t.Run(name, func(t *testing.T) {
			s := newShop(t, option)
			ctx, _ := s.open(ledger.NewCommand(ledger.User, ledger.Background))
			_, err := s.invoker.Invoke(ctx, s.action("touch"), invoke.Adapt(&customer{}), nil)
			var configuration *failure.ConfigurationError
			assert.ErrorAs(t, err, &configuration)
		})
	}
}

func TestSystemBackgroundRunsInline(t *testing.T) {
	s := newShop(t, invoke.WithCommandStore(&tests.CommandStore{}))
	ctx, _ := s.open(ledger.NewCommand(ledger.System, ledger.Background))
	result, err := s.invoker.Invoke(ctx, s.action("touch"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	assert.Equal(t, invoke.Completed, result.Outcome)
	assert.Equal(t, 1, s.calls["touch"])
}

func TestViewModelsCloned(t *testing.T) {
	cloner := &tests.Cloner{}
	s := newShop(t, invoke.WithCloner(cloner))
	original := &tests.View{Title: "summary"}
	s.produce = func() any { return original }
	ctx, _ := s.open(nil)

	result, err := s.invoker.Invoke(ctx, s.action("produce"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	view := result.Value.Value().(*tests.View)
	assert.NotSame(t, original, view)
	assert.Equal(t, 1, view.Generation)

	target := &tests.View{Title: "target"}
	result, err = s.invoker.Invoke(ctx, s.action("touch"), invoke.Adapt(target), nil)
	require.NoError(t, err)
	clone := result.Value.Value().(*tests.View)
	assert.NotSame(t, target, clone)
	assert.Equal(t, "target", clone.Title)
	assert.Equal(t, 2, cloner.Clones)
}

func TestCommandResultBookmarked(t *testing.T) {
	s := newShop(t, invoke.WithBookmarks(tests.Bookmarks{}))
	created := &tests.Entity{Type: "Order"}
	s.tx.OnFlush = func() { created.ID = "42" }
	s.produce = func() any { return created }
	command := ledger.NewCommand(ledger.User, ledger.Foreground)
	ctx, _ := s.open(command)

	_, err := s.invoker.Invoke(ctx, s.action("produce"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.tx.Flushed)
	bookmark, ok := command.Result()
	require.True(t, ok)
	assert.Equal(t, "Order:42", bookmark.String())

	s.produce = func() any { return &tests.Entity{Type: "Order", ID: "43"} }
	_, err = s.invoker.Invoke(ctx, s.action("produce"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	bookmark, _ = command.Result()
	assert.Equal(t, "42", bookmark.ID, "first result wins")
}

func TestPublishedExecutions(t *testing.T) {
	publisher := &tests.Publisher{}
	s := newShop(t, invoke.WithPublisher(publisher))
	s.produce = func() any { return "done" }
	ctx, _ := s.open(nil)

	_, err := s.invoker.Invoke(ctx, s.action("produce"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	_, err = s.invoker.Invoke(ctx, s.action("touch"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)

	require.Len(t, publisher.Executions, 1)
	assert.Equal(t, "Customer#produce()", publisher.Executions[0].Member)
	assert.Equal(t, "done", publisher.Executions[0].Returned)
}

func TestContributedActionRunsOnMixin(t *testing.T) {
	s := newShop(t)
	recorder := &tests.Recorder{}
	s.invoker.Subscribe(nil, recorder.Subscriber())
	ctx, _ := s.open(nil)
	type loyalty struct{}
	target := invoke.Adapt(&customer{})

	result, err := s.invoker.Invoke(ctx, s.action("points"), target, invoke.Adapt(&loyalty{}))
	require.NoError(t, err)
	assert.Equal(t, "*invoke_test.loyalty", result.Value.Value())
	assert.Same(t, target.Value(), recorder.Events[0].Target().Value())
	assert.NotNil(t, recorder.Events[0].MixedIn())
}

func TestTraceSteps(t *testing.T) {
	steps := []string{}
	trace := func(ctx context.Context, step string, elements ...embedded.Element) (context.Context, func(...any)) {
		steps = append(steps, step)
		return ctx, func(...any) {}
	}
	s := newShop(t, invoke.WithTrace(trace))
	ctx, _ := s.open(nil)
	_, err := s.invoker.Invoke(ctx, s.action("touch"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Invoke", "authorize", "execute"}, steps)
}

func TestMementoRecorded(t *testing.T) {
	s := newShop(t, invoke.WithMementos(dto.New()))
	ctx, interaction := s.open(nil)

	_, err := s.invoker.Invoke(ctx, s.action("rename"), invoke.Adapt(&customer{}), nil, invoke.Adapt("ada"))
	require.NoError(t, err)
	memento := interaction.Prior().Memento
	require.NotNil(t, memento)
	assert.Equal(t, "Customer#rename(string)", memento.Member)
	assert.Equal(t, interaction.ID.String(), memento.Interaction)
	assert.Equal(t, 1, memento.Sequence)
	assert.Equal(t, `{"Name":"ada"}`, string(memento.Result.Value))
	require.NotNil(t, memento.CompletedAt)
	assert.NoError(t, dto.Verify(memento))
}

func TestRecoverableValidationFailure(t *testing.T) {
	s := newShop(t)
	s.invoker.Subscribe(nil, func(ctx context.Context, event *invoke.DomainEvent) error {
		if event.Phase() == invoke.Validate {
			return failure.Recover("credit limit reached")
		}
		return nil
	})
	ctx, interaction := s.open(nil)

	result, err := s.invoker.Invoke(ctx, s.action("touch"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	assert.Equal(t, invoke.Recovered, result.Outcome)
	assert.Equal(t, "credit limit reached", result.Message)
	assert.Zero(t, s.calls["touch"])
	assert.Zero(t, s.tx.Opened)
	assert.Empty(t, interaction.Executions())

	s.tx.Doomed = true
	_, err = s.invoker.Invoke(ctx, s.action("touch"), invoke.Adapt(&customer{}), nil)
	var escalated *failure.Escalated
	require.ErrorAs(t, err, &escalated)
	assert.Equal(t, "credit limit reached", escalated.Message)
}

func TestCustomDefaultEventSuppressed(t *testing.T) {
	custom := invoke.NewEventType("Custom", nil)
	bound := invoke.NewEventType("Bound", nil)
	noop := func(context.Context, any, []any) (any, error) { return nil, nil }
	model := invoke.Define("events",
		invoke.DefaultEvent(custom),
		invoke.Type("Thing",
			invoke.Action("quiet", invoke.Method(noop)),
			invoke.Action("loud", invoke.Event(bound), invoke.Method(noop)),
		),
	)
	cfg := config.Default()
	cfg.PostDefaultEvents = false
	invoker := invoke.New(model, invoke.WithConfig(cfg))
	recorder := &tests.Recorder{}
	invoker.Subscribe(nil, recorder.Subscriber())
	ctx, _ := invoker.Open(context.Background(), nil)

	quiet, _ := model.Action("/Thing/quiet")
	require.Same(t, custom, quiet.EventType())
	_, err := invoker.Invoke(ctx, quiet, invoke.Adapt("thing"), nil)
	require.NoError(t, err)
	assert.Empty(t, recorder.Events)

	loud, _ := model.Action("/Thing/loud")
	_, err = invoker.Invoke(ctx, loud, invoke.Adapt("thing"), nil)
	require.NoError(t, err)
	assert.Equal(t, invoke.Phases, recorder.Phases())
}

func TestPanickingSubscriberClosesExecution(t *testing.T) {
	s := newShop(t)
	explode := true
	s.invoker.Subscribe(nil, func(ctx context.Context, event *invoke.DomainEvent) error {
		if explode && event.Phase() == invoke.Executed {
			panic("subscriber exploded")
		}
		return nil
	})
	ctx, interaction := s.open(nil)

	assert.PanicsWithValue(t, "subscriber exploded", func() {
		_, _ = s.invoker.Invoke(ctx, s.action("touch"), invoke.Adapt(&customer{}), nil)
	})
	assert.Nil(t, interaction.Current())
	require.NotNil(t, interaction.Prior())
	assert.ErrorContains(t, interaction.Prior().Threw, "subscriber exploded")

	explode = false
	result, err := s.invoker.Invoke(ctx, s.action("touch"), invoke.Adapt(&customer{}), nil)
	require.NoError(t, err)
	assert.Nil(t, result.Execution.Parent)
	assert.Len(t, interaction.Roots(), 2)
}

func TestNestedEscalationPropagatesUnchanged(t *testing.T) {
	s := newShop(t)
	s.invoker.Subscribe(nil, func(ctx context.Context, event *invoke.DomainEvent) error {
		if event.Phase() == invoke.Executing && strings.Contains(event.Action().Identifier(), "lookup") {
			return errors.New("ledger offline")
		}
		return nil
	})
	ctx, _ := s.open(nil)

	_, err := s.invoker.Invoke(ctx, s.action("checkout"), invoke.Adapt(&customer{}), nil)
	escalated, ok := err.(*failure.Escalated)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, "EXECUTING subscriber for Customer#lookup(string): ledger offline", escalated.Error())
}

package invoke

import (
	"context"
	"fmt"

	"github.com/stateforward/go-invoke/clock"
	"github.com/stateforward/go-invoke/embedded"
	"github.com/stateforward/go-invoke/ledger"
)

type Object = embedded.Object

type Element = embedded.Element

type object struct {
	value any
}

func (object object) Value() any {
	return object.value
}

func (object object) Type() string {
	return fmt.Sprintf("%T", object.value)
}

// Adapt wraps a raw value. A nil value adapts to a nil Object.
func Adapt(value any) Object {
	if value == nil {
		return nil
	}
	if managed, ok := value.(Object); ok {
		return managed
	}
	return object{value: value}
}

// Unwrap returns the raw value behind a managed object.
func Unwrap(managed Object) any {
	if managed == nil {
		return nil
	}
	return managed.Value()
}

type adapter struct{}

func (adapter) Adapt(value any) Object {
	return Adapt(value)
}

// DefaultAdapter wraps values without any metamodel knowledge.
var DefaultAdapter embedded.Adapter = adapter{}

type key[T any] struct{}

var Keys = struct {
	Interaction key[*ledger.Interaction]
	Cache       key[*cache]
}{
	Interaction: key[*ledger.Interaction]{},
	Cache:       key[*cache]{},
}

// InteractionFrom returns the interaction bound to ctx.
func InteractionFrom(ctx context.Context) (*ledger.Interaction, bool) {
	interaction, ok := ctx.Value(Keys.Interaction).(*ledger.Interaction)
	return interaction, ok && interaction != nil
}

func cacheFrom(ctx context.Context) *cache {
	cache, _ := ctx.Value(Keys.Cache).(*cache)
	return cache
}

// WithInteraction binds an existing interaction and a fresh result cache to ctx.
func WithInteraction(ctx context.Context, interaction *ledger.Interaction, cacheSize int) context.Context {
	ctx = context.WithValue(ctx, Keys.Interaction, interaction)
	return context.WithValue(ctx, Keys.Cache, newCache(cacheSize))
}

// Open starts a top-level interaction for command. Everything invoked with the
// returned context, directly or from within action methods, is recorded on it.
func (invoker *Invoker) Open(ctx context.Context, command *ledger.Command) (context.Context, *ledger.Interaction) {
	clk := invoker.clock
	if clk == nil {
		clk = clock.Make()
	}
	interaction := ledger.NewInteraction(command, clk)
	return WithInteraction(ctx, interaction, invoker.config.CacheSize), interaction
}

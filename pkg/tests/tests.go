// Package tests provides in-memory collaborators for exercising the invocation
// pipeline in tests.
package tests

import (
	"context"
	"errors"
	"sync"

	invoke "github.com/stateforward/go-invoke"
	"github.com/stateforward/go-invoke/embedded"
	"github.com/stateforward/go-invoke/ledger"
)

// Transactions counts transactions and flushes. Doomed makes CanCommit report false.
type Transactions struct {
	mu      sync.Mutex
	Opened  int
	Flushed int
	Rolled  int
	Doomed  bool
	OnFlush func()
}

func (transactions *Transactions) ExecuteWithin(ctx context.Context, fn func(ctx context.Context) error) error {
	transactions.mu.Lock()
	transactions.Opened++
	transactions.mu.Unlock()
	err := fn(ctx)
	if err != nil {
		transactions.mu.Lock()
		transactions.Rolled++
		transactions.mu.Unlock()
	}
	return err
}

func (transactions *Transactions) Flush(context.Context) error {
	transactions.mu.Lock()
	transactions.Flushed++
	onFlush := transactions.OnFlush
	transactions.mu.Unlock()
	if onFlush != nil {
		onFlush()
	}
	return nil
}

func (transactions *Transactions) CanCommit(context.Context) bool {
	transactions.mu.Lock()
	defer transactions.mu.Unlock()
	return !transactions.Doomed
}

// Entity is a persistable domain object. It is persistent once it has an ID.
type Entity struct {
	Type string
	ID   string
	Name string
}

type Bookmarks struct{}

func (Bookmarks) IsEntity(object embedded.Object) bool {
	_, ok := invoke.Unwrap(object).(*Entity)
	return ok
}

func (Bookmarks) IsPersistent(object embedded.Object) bool {
	entity, ok := invoke.Unwrap(object).(*Entity)
	return ok && entity.ID != ""
}

func (Bookmarks) BookmarkFor(object embedded.Object) (ledger.Bookmark, error) {
	entity, ok := invoke.Unwrap(object).(*Entity)
	if !ok || entity.ID == "" {
		return ledger.Bookmark{}, errors.New("not a persistent entity")
	}
	return ledger.Bookmark{Type: entity.Type, ID: entity.ID}, nil
}

// View is a view model. Each clone gets a higher Generation.
type View struct {
	Title      string
	Generation int
}

type Cloner struct {
	Clones int
}

func (cloner *Cloner) IsViewModel(object embedded.Object) bool {
	_, ok := invoke.Unwrap(object).(*View)
	return ok
}

func (cloner *Cloner) Clone(object embedded.Object) (embedded.Object, error) {
	view, ok := invoke.Unwrap(object).(*View)
	if !ok {
		return nil, errors.New("not a view model")
	}
	cloner.Clones++
	clone := *view
	clone.Generation++
	return invoke.Adapt(&clone), nil
}

// Visibility adapts a function to embedded.Visibility.
type Visibility func(ctx context.Context, object embedded.Object) bool

func (visibility Visibility) Visible(ctx context.Context, object embedded.Object) bool {
	return visibility(ctx, object)
}

// CommandStore keeps persisted commands in memory. Unsupported makes every
// persist attempt decline.
type CommandStore struct {
	mu          sync.Mutex
	Unsupported bool
	Commands    []*ledger.Command
}

func (store *CommandStore) PersistIfPossible(ctx context.Context, command *ledger.Command) (bool, error) {
	if store.Unsupported {
		return false, nil
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.Commands = append(store.Commands, command)
	return true, nil
}

type Publisher struct {
	mu         sync.Mutex
	Executions []*ledger.Execution
}

func (publisher *Publisher) Publish(ctx context.Context, execution *ledger.Execution) error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	publisher.Executions = append(publisher.Executions, execution)
	return nil
}

// Recorder is a subscriber that remembers every event it receives.
type Recorder struct {
	mu     sync.Mutex
	Events []*invoke.DomainEvent
}

func (recorder *Recorder) Subscriber() invoke.Subscriber {
	return func(ctx context.Context, event *invoke.DomainEvent) error {
		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		recorder.Events = append(recorder.Events, event)
		return nil
	}
}

func (recorder *Recorder) Phases() []invoke.Phase {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	phases := make([]invoke.Phase, len(recorder.Events))
	for i, event := range recorder.Events {
		phases[i] = event.Phase()
	}
	return phases
}

package embedded

import (
	"context"

	"github.com/stateforward/go-invoke/ledger"
)

type Element interface {
	Kind() uint64
	Id() string
}

type NamedElement interface {
	Element
	Owner() string
	QualifiedName() string
	Name() string
}

type Model interface {
	NamedElement
	Namespace() map[string]NamedElement
}

type Action interface {
	NamedElement
	Identifier() string
	Parameters() []string
	Returns() string
	Safe() bool
	Published() bool
	Contributed() string
}

// Object is a managed domain object.
type Object interface {
	Value() any
	Type() string
}

type Adapter interface {
	Adapt(value any) Object
}

type MethodInvoker interface {
	Invoke(ctx context.Context, action Action, target any, arguments []any) (any, error)
}

type Transactions interface {
	ExecuteWithin(ctx context.Context, fn func(ctx context.Context) error) error
	Flush(ctx context.Context) error
	CanCommit(ctx context.Context) bool
}

type CommandStore interface {
	PersistIfPossible(ctx context.Context, command *ledger.Command) (bool, error)
}

type Bookmarks interface {
	IsEntity(object Object) bool
	IsPersistent(object Object) bool
	BookmarkFor(object Object) (ledger.Bookmark, error)
}

type Publisher interface {
	Publish(ctx context.Context, execution *ledger.Execution) error
}

type Mementos interface {
	ToDto(action Action, target Object, arguments []Object) (*ledger.Memento, error)
	UpdateResult(memento *ledger.Memento, action Action, returned Object, threw error) error
}

type Cloner interface {
	IsViewModel(object Object) bool
	Clone(object Object) (Object, error)
}

type Visibility interface {
	Visible(ctx context.Context, object Object) bool
}

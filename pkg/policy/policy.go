// Package policy authorizes actions with CEL rules and filters results by role.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"github.com/google/cel-go/cel"

	invoke "github.com/stateforward/go-invoke"
	"github.com/stateforward/go-invoke/pkg/set"
)

// Principal is the caller on whose behalf actions run.
type Principal struct {
	Name  string
	Roles set.Set[string]
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(Principal)
	return principal, ok
}

// Rule vetoes matching actions during Phase when Expression evaluates to true.
//
// Action is a path.Match pattern over qualified action names such as
// "/Customer/place". Expressions see the variables action, member, principal,
// roles, target and args.
type Rule struct {
	Phase      invoke.Phase
	Action     string
	Expression string
	Reason     string
}

type Engine struct {
	env      *cel.Env
	rules    []Rule
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// New compiles rules. A rule that does not compile or runs outside an
// authorization phase is rejected.
func New(rules ...Rule) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("member", cel.StringType),
		cel.Variable("principal", cel.StringType),
		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("target", cel.DynType),
		cel.Variable("args", cel.ListType(cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	engine := &Engine{env: env, programs: map[string]cel.Program{}}
	for i, rule := range rules {
		if !rule.Phase.Authorizing() {
			return nil, fmt.Errorf("rule %d: %s is not an authorization phase", i, rule.Phase)
		}
		if _, err := path.Match(rule.Action, ""); err != nil {
			return nil, fmt.Errorf("rule %d: action pattern: %w", i, err)
		}
		if _, err := engine.program(rule.Expression); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	engine.rules = rules
	return engine, nil
}

func (engine *Engine) program(expression string) (cel.Program, error) {
	engine.mu.RLock()
	program, hit := engine.programs[expression]
	engine.mu.RUnlock()
	if hit {
		return program, nil
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if program, hit = engine.programs[expression]; hit {
		return program, nil
	}
	ast, issues := engine.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	program, err := engine.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	engine.programs[expression] = program
	return program, nil
}

// Subscriber returns the subscriber that applies the rules.
func (engine *Engine) Subscriber() invoke.Subscriber {
	return func(ctx context.Context, event *invoke.DomainEvent) error {
		if !event.Phase().Authorizing() {
			return nil
		}
		var input map[string]any
		for _, rule := range engine.rules {
			if rule.Phase != event.Phase() {
				continue
			}
			if matched, _ := path.Match(rule.Action, event.Action().QualifiedName()); !matched {
				continue
			}
			if input == nil {
				var err error
				if input, err = inputFor(ctx, event); err != nil {
					return err
				}
			}
			veto, err := engine.evaluate(rule.Expression, input)
			if err != nil {
				return fmt.Errorf("policy for %s: %w", event.Action().Identifier(), err)
			}
			if veto {
				return event.Veto("%s", rule.Reason)
			}
		}
		return nil
	}
}

func (engine *Engine) evaluate(expression string, input map[string]any) (bool, error) {
	program, err := engine.program(expression)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	veto, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %s, want bool", expression, out.Type().TypeName())
	}
	return veto, nil
}

func inputFor(ctx context.Context, event *invoke.DomainEvent) (map[string]any, error) {
	principal, _ := PrincipalFrom(ctx)
	roles := []string{}
	for role := range principal.Roles.Items() {
		roles = append(roles, role)
	}
	target, err := native(invoke.Unwrap(event.Target()))
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	args := []any{}
	for i, argument := range event.Arguments() {
		value, err := native(invoke.Unwrap(argument))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args = append(args, value)
	}
	return map[string]any{
		"action":    event.Action().QualifiedName(),
		"member":    event.Action().Identifier(),
		"principal": principal.Name,
		"roles":     roles,
		"target":    target,
		"args":      args,
	}, nil
}

// native reduces a domain value to maps, lists and scalars CEL can inspect.
func native(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Roles hides objects whose type requires a role the principal does not hold.
// Types without requirements are visible to everyone.
type Roles map[string]set.Set[string]

// Require restricts objects of type to principals holding any of roles.
func (r Roles) Require(objectType string, roles ...string) Roles {
	if existing, ok := r[objectType]; ok {
		existing.Add(roles...)
		return r
	}
	r[objectType] = set.New(roles...)
	return r
}

func (r Roles) Visible(ctx context.Context, object invoke.Object) bool {
	required, ok := r[object.Type()]
	if !ok || required.Size() == 0 {
		return true
	}
	principal, _ := PrincipalFrom(ctx)
	return principal.Roles.Intersection(required).Size() > 0
}

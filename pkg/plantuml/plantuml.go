// Package plantuml renders models as class diagrams and interactions as sequence
// diagrams.
package plantuml

import (
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/stateforward/go-invoke/embedded"
	"github.com/stateforward/go-invoke/kinds"
	"github.com/stateforward/go-invoke/ledger"
)

func idFromQualifiedName(qualifiedName string) string {
	return strings.NewReplacer("/", ".", "-", "_", "*", "", "[", "", "]", "", " ", "_").Replace(strings.TrimPrefix(qualifiedName, "/"))
}

// sortHierarchically orders elements like a directory listing.
func sortHierarchically(elements []embedded.NamedElement) {
	sort.Slice(elements, func(i, j int) bool {
		iPath := strings.Split(elements[i].QualifiedName(), "/")
		jPath := strings.Split(elements[j].QualifiedName(), "/")
		for k := 0; k < min(len(iPath), len(jPath)); k++ {
			if iPath[k] != jPath[k] {
				return iPath[k] < jPath[k]
			}
		}
		return len(iPath) < len(jPath)
	})
}

func generateAction(builder *strings.Builder, action embedded.Action) {
	stereotypes := []string{}
	if action.Safe() {
		stereotypes = append(stereotypes, "<<safe>>")
	}
	if action.Published() {
		stereotypes = append(stereotypes, "<<published>>")
	}
	returns := ""
	if action.Returns() != "" {
		returns = " : " + action.Returns()
	}
	tag := ""
	if len(stereotypes) > 0 {
		tag = " " + strings.Join(stereotypes, " ")
	}
	fmt.Fprintf(builder, "  +%s(%s)%s%s\n", action.Name(), strings.Join(action.Parameters(), ", "), returns, tag)
}

// Generate writes a class diagram of the types and actions in model.
func Generate(writer io.Writer, model embedded.Model) error {
	var builder strings.Builder
	elements := []embedded.NamedElement{}
	for _, element := range model.Namespace() {
		elements = append(elements, element)
	}
	sortHierarchically(elements)

	fmt.Fprintf(&builder, "@startuml %s\n", model.Id())
	contributions := map[string]string{}
	for _, element := range elements {
		if !kinds.IsKind(element.Kind(), kinds.Type) {
			continue
		}
		id := idFromQualifiedName(element.QualifiedName())
		fmt.Fprintf(&builder, "class %s {\n", id)
		for _, member := range elements {
			action, ok := member.(embedded.Action)
			if !ok || member.Owner() != element.QualifiedName() {
				continue
			}
			generateAction(&builder, action)
			if mixin := action.Contributed(); mixin != "" && path.Base(element.QualifiedName()) != mixin {
				contributions[idFromQualifiedName(mixin)] = id
			}
		}
		fmt.Fprintln(&builder, "}")
	}
	mixins := make([]string, 0, len(contributions))
	for mixin := range contributions {
		mixins = append(mixins, mixin)
	}
	sort.Strings(mixins)
	for _, mixin := range mixins {
		fmt.Fprintf(&builder, "%s ..> %s : contributes\n", mixin, contributions[mixin])
	}
	fmt.Fprintln(&builder, "@enduml")
	_, err := io.WriteString(writer, builder.String())
	return err
}

func participant(target any) string {
	if target == nil {
		return "nil"
	}
	return idFromQualifiedName(fmt.Sprintf("%T", target))
}

func generateExecution(builder *strings.Builder, caller string, execution *ledger.Execution) {
	callee := participant(execution.Target)
	fmt.Fprintf(builder, "%s -> %s : %s\n", caller, callee, execution.Member)
	fmt.Fprintf(builder, "activate %s\n", callee)
	for _, child := range execution.Children {
		generateExecution(builder, callee, child)
	}
	switch {
	case execution.Threw != nil:
		fmt.Fprintf(builder, "%s --> %s : throws %s\n", callee, caller, strings.ReplaceAll(execution.Threw.Error(), "\n", " "))
	case execution.Returned != nil:
		fmt.Fprintf(builder, "%s --> %s : %T\n", callee, caller, execution.Returned)
	default:
		fmt.Fprintf(builder, "%s --> %s\n", callee, caller)
	}
	fmt.Fprintf(builder, "deactivate %s\n", callee)
}

// Sequence writes a sequence diagram of every execution recorded on interaction.
func Sequence(writer io.Writer, interaction *ledger.Interaction) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "@startuml %s\n", interaction.ID)
	caller := "Caller"
	if interaction.Command != nil {
		caller = strings.ToLower(string(interaction.Command.Executor))
	}
	fmt.Fprintf(&builder, "actor %s\n", caller)
	for _, root := range interaction.Roots() {
		generateExecution(&builder, caller, root)
	}
	fmt.Fprintln(&builder, "@enduml")
	_, err := io.WriteString(writer, builder.String())
	return err
}

package storage

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// filterEnv is the environment change filter expressions run against.
type filterEnv struct {
	Key     string `expr:"key"`
	Old     string `expr:"old"`
	New     string `expr:"new"`
	HasOld  bool   `expr:"hasOld"`
	Removed bool   `expr:"removed"`
	Cleared bool   `expr:"cleared"`
	Area    string `expr:"area"`
	Kind    string `expr:"kind"`
}

func newFilterEnv(ev ChangeEvent) filterEnv {
	env := filterEnv{
		Key:     ev.Key,
		Removed: ev.Removed(),
		Cleared: ev.Cleared(),
		Area:    ev.Area,
		Kind:    ev.Kind.String(),
	}
	if ev.OldValue != nil {
		env.Old = *ev.OldValue
		env.HasOld = true
	}
	if ev.NewValue != nil {
		env.New = *ev.NewValue
	}
	return env
}

// CompileChangeFilter compiles a boolean expr-lang expression into a change
// filter for WithChangeFilter. The expression sees key, old, new, hasOld,
// removed, cleared, area and kind:
//
//	f, err := storage.CompileChangeFilter(`area != "" && !(new matches "^\\s*$")`)
//
// An expression that fails at run time drops the event.
func CompileChangeFilter(expression string) (func(ChangeEvent) bool, error) {
	if expression == "" {
		return nil, fmt.Errorf("storage: change filter expression must not be empty")
	}
	program, err := expr.Compile(expression, expr.Env(filterEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("storage: compile change filter: %w", err)
	}
	return func(ev ChangeEvent) bool {
		return runFilter(program, ev)
	}, nil
}

func runFilter(program *vm.Program, ev ChangeEvent) bool {
	out, err := expr.Run(program, newFilterEnv(ev))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

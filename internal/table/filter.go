package table

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter evaluates boolean row predicates such as `Age > 25 && Name != ""`.
// Column names are left undeclared at compile time so the checker treats them
// as untyped and numeric, string and nil comparisons all compile; values are
// bound per row when the program runs. Names that are not identifiers are
// reachable through `row["Unit Price"]`. Compiled programs are cached per
// expression.
type Filter struct {
	cache sync.Map // expression → *vm.Program
}

// NewFilter returns an empty filter cache.
func NewFilter() *Filter {
	return &Filter{}
}

// Compile checks expression without running it.
func (f *Filter) Compile(expression string) error {
	_, err := f.program(expression)
	return err
}

// Match reports whether row satisfies expression. A nil result is false.
func (f *Filter) Match(expression string, row map[string]any) (bool, error) {
	program, err := f.program(expression)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, rowEnv(row))
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", expression, err)
	}
	if out == nil {
		return false, nil
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q evaluated to %T, expected bool", expression, out)
	}
	return b, nil
}

func (f *Filter) program(expression string) (*vm.Program, error) {
	if cached, ok := f.cache.Load(expression); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(expression,
		expr.Env(map[string]any{"row": map[string]any{}}),
		expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expression, err)
	}
	f.cache.Store(expression, program)
	return program, nil
}

func rowEnv(row map[string]any) map[string]any {
	env := make(map[string]any, len(row)+1)
	for k, v := range row {
		env[k] = v
	}
	env["row"] = row
	return env
}

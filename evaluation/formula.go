package evaluation

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/BaSui01/agentlens/types"
)

// formulaVariant evaluates a boolean expression over the response's
// performance data. Expressions have no I/O and no side effects; a
// runtime failure (missing field, division by zero) is a negative
// verdict, never a panic or a transient error.
type formulaVariant struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newFormulaVariant() *formulaVariant {
	return &formulaVariant{cache: make(map[string]*vm.Program)}
}

func (f *formulaVariant) Evaluate(ctx context.Context, def *types.MetricDefinition, sample *Sample) (*Outcome, error) {
	program, err := f.compile(def.Config.Expression)
	if err != nil {
		return nil, types.NewError(types.ErrFormulaInvalid,
			"formula does not compile").WithMetric(def.ID).WithCause(err)
	}

	env := make(map[string]any, 8)
	for k, v := range sample.Performance.Fields() {
		env[k] = v
	}

	passed, err := expr.Run(program, env)
	if err != nil {
		return &Outcome{
			Passed:    false,
			Reasoning: "formula evaluation failed: " + err.Error(),
		}, nil
	}
	ok, _ := passed.(bool)
	return &Outcome{Passed: ok}, nil
}

// compile returns the cached program for expression, compiling on first
// use. AllowUndefinedVariables defers missing-field handling to runtime
// so the error names the field the author actually referenced.
func (f *formulaVariant) compile(expression string) (*vm.Program, error) {
	f.mu.RLock()
	program, ok := f.cache[expression]
	f.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.cache[expression] = program
	f.mu.Unlock()
	return program, nil
}

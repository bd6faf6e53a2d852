package expr

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Environment builds and compiles CEL predicates against cached decision keys.
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the CEL variables exposed to invalidation rules:
// the deserialized cache key and the name of the event being handled. The
// near() helper tests planar proximity between two points.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("key", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("event", cel.StringType),
		cel.Function("near",
			cel.Overload("near_double_double_double_double_double",
				[]*cel.Type{cel.DoubleType, cel.DoubleType, cel.DoubleType, cel.DoubleType, cel.DoubleType},
				cel.BoolType,
				cel.FunctionBinding(nearBinding),
			),
		),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Program wraps a compiled CEL predicate that yields a boolean result.
type Program struct {
	source  string
	program cel.Program
}

// Compile prepares the predicate for execution, ensuring the expression
// yields a boolean.
func (e *Environment) Compile(expression string) (Program, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return Program{}, fmt.Errorf("expr: expression required")
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Program{}, fmt.Errorf("expr: compile %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return Program{}, fmt.Errorf("expr: %q must return bool, got %s", expr, cel.FormatCELType(t))
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Program{}, fmt.Errorf("expr: program %q: %w", expr, err)
	}
	return Program{source: expr, program: program}, nil
}

// Source returns the original CEL expression for logging.
func (p Program) Source() string { return p.source }

// EvalBool executes the predicate against the provided activation and coerces
// the result to bool.
func (p Program) EvalBool(vars map[string]any) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v), nil
	case ref.Val:
		if v.Type() == types.BoolType {
			if b, ok := v.Value().(bool); ok {
				return b, nil
			}
		}
	}
	return false, fmt.Errorf("expr: %q yielded non-bool result %T", p.source, val)
}

func nearBinding(args ...ref.Val) ref.Val {
	if len(args) != 5 {
		return types.NewErr("expr: near expects x1, z1, x2, z2, range")
	}
	coords := make([]float64, 5)
	for i, arg := range args {
		f, err := toFloat(arg)
		if err != nil {
			return types.NewErr("expr: near argument %d: %v", i+1, err)
		}
		coords[i] = f
	}
	dx := coords[0] - coords[2]
	dz := coords[1] - coords[3]
	return types.Bool(math.Sqrt(dx*dx+dz*dz) <= coords[4])
}

func toFloat(val ref.Val) (float64, error) {
	switch v := val.(type) {
	case types.Double:
		return float64(v), nil
	case types.Int:
		return float64(v), nil
	case types.Uint:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("not a number: %v", val)
	}
}

// Package firewall provides reusable access checks for exposed named queries.
package firewall

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/kailas-cloud/nova/internal/domain/body"
)

// Func rejects a call by returning an error. userID is empty for anonymous callers.
type Func func(ctx context.Context, userID string, params body.Params) error

var (
	// ErrNotLoggedIn is returned by LoggedIn for anonymous callers.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrDenied is returned when a rule evaluates to false.
	ErrDenied = errors.New("access denied")
)

// LoggedIn rejects anonymous callers.
func LoggedIn(_ context.Context, userID string, _ body.Params) error {
	if userID == "" {
		return ErrNotLoggedIn
	}
	return nil
}

var env = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("userId", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
	)
})

// CEL compiles a boolean expression over userId and params, for example
// `userId != "" && params.owner == userId`.
func CEL(expr string) (Func, error) {
	e, err := env()
	if err != nil {
		return nil, fmt.Errorf("firewall env: %w", err)
	}
	ast, issues := e.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile firewall %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("firewall %q must return bool, got %s", expr, ast.OutputType())
	}
	prg, err := e.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build firewall %q: %w", expr, err)
	}

	return func(ctx context.Context, userID string, params body.Params) error {
		vars := map[string]any{
			"userId": userID,
			"params": map[string]any(params.Clone()),
		}
		out, _, err := prg.ContextEval(ctx, vars)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDenied, expr, err)
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			return fmt.Errorf("%w: %s", ErrDenied, expr)
		}
		return nil
	}, nil
}

// MustCEL is CEL for expressions known to compile.
func MustCEL(expr string) Func {
	fn, err := CEL(expr)
	if err != nil {
		panic(err)
	}
	return fn
}

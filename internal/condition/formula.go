package condition

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// ValidateFormula checks that a free-text order condition formula compiles
// against a sample order shape and evaluates to a boolean. It is invoked at
// authoring time only; malformed formulas never reach the pricing engine.
func ValidateFormula(formula string, sampleOrder map[string]any) error {
	if formula == "" {
		return nil
	}
	env := map[string]any{"order": sampleOrder}
	if _, err := expr.Compile(formula, expr.Env(env), expr.AsBool()); err != nil {
		return fmt.Errorf("condition: invalid formula: %w", err)
	}
	return nil
}

// EvaluateFormula runs a previously validated formula against an order shape.
// Any runtime failure counts as a non-match.
func EvaluateFormula(formula string, orderShape map[string]any) bool {
	if formula == "" {
		return true
	}
	env := map[string]any{"order": orderShape}
	program, err := expr.Compile(formula, expr.Env(env), expr.AsBool())
	if err != nil {
		return false
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	matched, ok := out.(bool)
	return ok && matched
}

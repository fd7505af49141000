package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"relay/pkg/models"
)

// Evaluator compiles boolean filter expressions over CRM change events. Expressions see
// event_type, entity, action, current and previous.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event_type", cel.StringType),
		cel.Variable("entity", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("current", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("previous", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// Program is a compiled filter expression, safe for concurrent use.
type Program struct {
	expression string
	program    cel.Program
}

func (p *Program) Expression() string {
	return p.expression
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.CompileFilter(expression)
	return err
}

// CompileFilter parses and type-checks expression, which must yield a bool.
func (e *Evaluator) CompileFilter(expression string) (*Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Program{expression: expression, program: program}, nil
}

// EvaluateFilter compiles and evaluates expression in one step.
func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, evt *models.InboundEvent) (bool, error) {
	program, err := e.CompileFilter(expression)
	if err != nil {
		return false, err
	}
	return program.EvalContext(ctx, evt)
}

func (p *Program) Eval(evt *models.InboundEvent) (bool, error) {
	return p.EvalContext(context.Background(), evt)
}

func (p *Program) EvalContext(ctx context.Context, evt *models.InboundEvent) (bool, error) {
	result, _, err := p.program.ContextEval(ctx, activation(evt))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func activation(evt *models.InboundEvent) map[string]interface{} {
	current := evt.Current
	if current == nil {
		current = map[string]interface{}{}
	}
	previous := evt.Previous
	if previous == nil {
		previous = map[string]interface{}{}
	}

	return map[string]interface{}{
		"event_type": evt.EventType,
		"entity":     evt.Entity(),
		"action":     evt.Action(),
		"current":    current,
		"previous":   previous,
	}
}

package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/daimoniac/cdpilot/internal/material"
	"github.com/google/cel-go/cel"
)

// FilterExplainer defines the interface for resource filter explanation
type FilterExplainer interface {
	// Explain evaluates every filter against the material and reports which
	// of them block it
	Explain(ctx context.Context, m material.CDMaterial, filters []material.ResourceFilter) (*Explanation, error)
}

// Explanation is the outcome of all filters for one material
type Explanation struct {
	MaterialID int
	Image      string
	Allowed    bool
	Verdicts   []FilterVerdict
}

// Blocking returns the names of the filters that did not pass
func (e *Explanation) Blocking() []string {
	names := make([]string, 0)
	for _, v := range e.Verdicts {
		if !v.Passed {
			names = append(names, v.FilterName)
		}
	}
	return names
}

// FilterVerdict is the outcome of one filter
type FilterVerdict struct {
	FilterID   int
	FilterName string
	Passed     bool
	Reason     string
	Conditions []ConditionResult
}

// ConditionResult is the outcome of a single condition
type ConditionResult struct {
	Type       material.ConditionType
	Expression string
	Matched    bool
	Err        string
}

// Engine implements FilterExplainer using CEL expressions
type Engine struct {
	logger *slog.Logger
	celEnv *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewEngine creates a filter engine. Expressions may refer to:
//   - containerImage: full image reference
//   - containerRepository: repository path without registry and tag
//   - containerImageTag: image tag
//   - imageLabels: release tags attached to the image
func NewEngine(logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("containerImage", cel.StringType),
		cel.Variable("containerRepository", cel.StringType),
		cel.Variable("containerImageTag", cel.StringType),
		cel.Variable("imageLabels", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		logger:   logger,
		celEnv:   env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile checks that expression is a valid boolean filter condition
func (e *Engine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// program compiles expression once and caches the result
func (e *Engine) program(expression string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.programs[expression]; ok {
		return p, nil
	}

	ast, issues := e.celEnv.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile filter expression: %w", issues.Err())
	}

	// Check that the expression returns a boolean
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return a boolean, got %v", ast.OutputType())
	}

	p, err := e.celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	e.programs[expression] = p
	return p, nil
}

// Explain evaluates filters against m. A filter passes when every PASS
// condition holds and no FAIL condition holds. A condition that does not
// compile or evaluate makes its filter fail. Filters without conditions pass.
func (e *Engine) Explain(ctx context.Context, m material.CDMaterial, filters []material.ResourceFilter) (*Explanation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := Input(m)
	explanation := &Explanation{
		MaterialID: m.ID,
		Image:      m.ImagePath,
		Allowed:    true,
		Verdicts:   make([]FilterVerdict, 0, len(filters)),
	}

	for _, f := range filters {
		verdict := e.evaluate(f, input)
		if !verdict.Passed {
			explanation.Allowed = false
			e.logger.Debug("resource filter blocks image",
				"filter", f.Name,
				"image", m.ImagePath,
				"reason", verdict.Reason)
		}
		explanation.Verdicts = append(explanation.Verdicts, verdict)
	}

	return explanation, nil
}

func (e *Engine) evaluate(f material.ResourceFilter, input map[string]interface{}) FilterVerdict {
	verdict := FilterVerdict{
		FilterID:   f.ID,
		FilterName: f.Name,
		Passed:     true,
		Conditions: make([]ConditionResult, 0, len(f.Conditions)),
	}

	var reasons []string
	for _, c := range f.Conditions {
		result := ConditionResult{Type: c.Type, Expression: c.Expression}

		matched, err := e.eval(c.Expression, input)
		if err != nil {
			result.Err = err.Error()
			verdict.Passed = false
			reasons = append(reasons, fmt.Sprintf("condition %q could not be evaluated", c.Expression))
			verdict.Conditions = append(verdict.Conditions, result)
			continue
		}
		result.Matched = matched

		switch c.Type {
		case material.ConditionFail:
			if matched {
				verdict.Passed = false
				reasons = append(reasons, fmt.Sprintf("fail condition %q matched", c.Expression))
			}
		default:
			if !matched {
				verdict.Passed = false
				reasons = append(reasons, fmt.Sprintf("pass condition %q not met", c.Expression))
			}
		}
		verdict.Conditions = append(verdict.Conditions, result)
	}

	if verdict.Passed {
		verdict.Reason = "all conditions satisfied"
	} else {
		verdict.Reason = strings.Join(reasons, "; ")
	}
	return verdict
}

func (e *Engine) eval(expression string, input map[string]interface{}) (bool, error) {
	p, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, _, err := p.Eval(input)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter: %w", err)
	}

	// Check if the result is a boolean
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter expression did not return a boolean: %v", out.Value())
	}
	return matched, nil
}

// Input builds the CEL activation for a material
func Input(m material.CDMaterial) map[string]interface{} {
	repository := m.ImageRepository
	if repository == "" {
		repository = strings.TrimSuffix(m.ImagePath, ":"+m.Image)
	}
	return map[string]interface{}{
		"containerImage":      m.ImagePath,
		"containerRepository": repository,
		"containerImageTag":   m.Image,
		"imageLabels":         m.Tags(),
	}
}

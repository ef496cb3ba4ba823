package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"tollguard/internal/usecase"

	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.tollguard.admission.result"

// Engine evaluates operator-supplied rego deny rules after the built-in
// admission checks. It is optional; the daemon runs without a bundle.
type Engine struct {
	query rego.PreparedEvalQuery
}

func NewEngineFromBundlePath(ctx context.Context, bundlePath string) (*Engine, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) Evaluate(ctx context.Context, input usecase.GateInput) (usecase.GateVerdict, error) {
	if e == nil {
		return usecase.GateVerdict{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return usecase.GateVerdict{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return usecase.GateVerdict{}, errors.New("empty policy result")
	}
	verdict, err := decodeVerdict(results[0].Expressions[0].Value)
	if err != nil {
		return usecase.GateVerdict{}, err
	}
	normalizeVerdict(&verdict)
	return verdict, nil
}

func decodeVerdict(value any) (usecase.GateVerdict, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return usecase.GateVerdict{}, err
	}
	var verdict usecase.GateVerdict
	if err := json.Unmarshal(payload, &verdict); err != nil {
		return usecase.GateVerdict{}, err
	}
	return verdict, nil
}

func normalizeVerdict(verdict *usecase.GateVerdict) {
	if verdict == nil {
		return
	}
	sort.Slice(verdict.Deny, func(i, j int) bool {
		if verdict.Deny[i].Code == verdict.Deny[j].Code {
			return verdict.Deny[i].Message < verdict.Deny[j].Message
		}
		return verdict.Deny[i].Code < verdict.Deny[j].Code
	})
}

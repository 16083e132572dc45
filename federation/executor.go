package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/fedgateway/types"
)

// Dispatcher sends one step to its subgraph.
type Dispatcher interface {
	Dispatch(ctx context.Context, step *Step) (*types.GraphQLResponse, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, step *Step) (*types.GraphQLResponse, error)

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, step *Step) (*types.GraphQLResponse, error) {
	return f(ctx, step)
}

// Executor runs plans and merges subgraph results.
type Executor struct {
	maxParallel int
	logger      *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxParallel bounds concurrent steps of a query; <=0 means unbounded.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *Executor) { e.maxParallel = n }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type stepResult struct {
	resp *types.GraphQLResponse
	err  error
}

// Execute runs every step of the plan. Query steps run in parallel, mutation
// steps in document order. A failing step nulls only its own fields.
func (e *Executor) Execute(ctx context.Context, doc *ast.QueryDocument, plan *Plan, d Dispatcher) *types.GraphQLResponse {
	results := make([]stepResult, len(plan.Steps))

	if plan.Sequential() {
		for i, step := range plan.Steps {
			if err := ctx.Err(); err != nil {
				results[i] = stepResult{err: err}
				continue
			}
			resp, err := d.Dispatch(ctx, step)
			results[i] = stepResult{resp: resp, err: err}
		}
	} else {
		var g errgroup.Group
		if e.maxParallel > 0 {
			g.SetLimit(e.maxParallel)
		}
		var mu sync.Mutex
		for i, step := range plan.Steps {
			g.Go(func() error {
				resp, err := d.Dispatch(ctx, step)
				mu.Lock()
				results[i] = stepResult{resp: resp, err: err}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	return e.merge(doc, plan, results)
}

func (e *Executor) merge(doc *ast.QueryDocument, plan *Plan, results []stepResult) *types.GraphQLResponse {
	out := &types.GraphQLResponse{}
	values := make([]map[string]json.RawMessage, len(plan.Steps))

	for i, res := range results {
		step := plan.Steps[i]
		if res.err != nil {
			e.logger.Warn("subgraph step failed",
				zap.String("subgraph", step.Subgraph.Name),
				zap.Int("step", step.Index),
				zap.Error(res.err))
			out.Errors = append(out.Errors, stepErrors(step, res.err)...)
			continue
		}
		if res.resp == nil {
			continue
		}
		for _, ge := range res.resp.Errors {
			if ge.Extensions == nil {
				ge.Extensions = map[string]any{}
			}
			if _, ok := ge.Extensions["serviceName"]; !ok {
				ge.Extensions["serviceName"] = step.Subgraph.Name
			}
			out.Errors = append(out.Errors, ge)
		}
		if len(res.resp.Data) > 0 && string(res.resp.Data) != "null" {
			var data map[string]json.RawMessage
			if err := json.Unmarshal(res.resp.Data, &data); err != nil {
				out.Errors = append(out.Errors, stepErrors(step,
					fmt.Errorf("decode data from %s: %w", step.Subgraph.Name, err))...)
				continue
			}
			values[i] = data
		}
	}

	var data Object
	nullRoot := false
	for _, rf := range plan.Fields {
		var v any
		if rf.Local {
			v = plan.resolveLocal(doc, rf)
		} else if m := values[rf.Step.Index]; m != nil {
			if raw, ok := m[rf.Key]; ok && string(raw) != "null" {
				v = raw
			}
		}
		if v == nil && rf.NonNull {
			nullRoot = true
		}
		data.Set(rf.Key, v)
	}

	raw, err := json.Marshal(data)
	if err != nil || nullRoot {
		if err != nil {
			out.Errors = append(out.Errors, types.NewError(types.ErrInternalError, "failed to encode result").ToGraphQLError())
		}
		raw = json.RawMessage("null")
	}
	out.Data = raw
	return out
}

// stepErrors renders a step failure as one error per affected root key.
func stepErrors(step *Step, err error) []types.GraphQLError {
	te, ok := types.AsError(err)
	if !ok {
		code := types.ErrDownstreamService
		retryable := false
		if errors.Is(err, context.DeadlineExceeded) {
			code = types.ErrUpstreamTimeout
			retryable = true
		}
		te = types.NewError(code, err.Error()).WithCause(err).WithRetryable(retryable)
	}
	if te.Service == "" {
		te = types.NewError(te.Code, te.Message).WithCause(te.Cause).
			WithRetryable(te.Retryable).WithService(step.Subgraph.Name)
	}

	out := make([]types.GraphQLError, 0, len(step.Keys))
	for _, key := range step.Keys {
		out = append(out, te.ToGraphQLError(key))
	}
	return out
}

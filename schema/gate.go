package schema

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/fedgateway/federation"
)

// CheckFunc is an extra validation run on a compiled candidate.
type CheckFunc func(ctx context.Context, sg *federation.Supergraph) error

type namedCheck struct {
	name string
	fn   CheckFunc
}

// RejectedError reports a candidate that did not pass the HealthGate.
type RejectedError struct {
	Version  uint64
	Checksum string
	Reason   string
	Cause    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("supergraph v%d (%.12s) rejected: %s", e.Version, e.Checksum, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Cause
}

// HealthGate decides whether a candidate document may become active.
// It never contacts subgraphs; checks are pure schema checks unless a
// caller registers otherwise with WithCheck.
type HealthGate struct {
	compileOpts []federation.CompileOption
	checks      []namedCheck
	logger      *zap.Logger
}

// GateOption configures a HealthGate.
type GateOption func(*HealthGate)

// WithCompileOptions passes options to federation.Compile (e.g. service URL overrides).
func WithCompileOptions(opts ...federation.CompileOption) GateOption {
	return func(g *HealthGate) {
		g.compileOpts = append(g.compileOpts, opts...)
	}
}

// WithCheck adds a named check that runs after compilation.
func WithCheck(name string, fn CheckFunc) GateOption {
	return func(g *HealthGate) {
		g.checks = append(g.checks, namedCheck{name: name, fn: fn})
	}
}

// WithGateLogger sets the logger.
func WithGateLogger(logger *zap.Logger) GateOption {
	return func(g *HealthGate) {
		g.logger = logger
	}
}

// NewHealthGate creates a HealthGate.
func NewHealthGate(opts ...GateOption) *HealthGate {
	g := &HealthGate{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check compiles doc and runs the registered checks. On success the returned
// Snapshot is fully built and ready to publish.
func (g *HealthGate) Check(ctx context.Context, doc *Document) (*Snapshot, error) {
	reject := func(reason string, cause error) error {
		return &RejectedError{Version: doc.Version, Checksum: doc.Checksum, Reason: reason, Cause: cause}
	}

	opts := append([]federation.CompileOption{federation.WithSourceName(doc.Source)}, g.compileOpts...)
	sg, err := federation.Compile(doc.SDL, opts...)
	if err != nil {
		return nil, reject(err.Error(), err)
	}

	for _, c := range g.checks {
		if err := ctx.Err(); err != nil {
			return nil, reject("validation cancelled", err)
		}
		if err := c.fn(ctx, sg); err != nil {
			return nil, reject(fmt.Sprintf("check %s failed: %v", c.name, err), err)
		}
	}

	g.logger.Debug("supergraph candidate passed",
		zap.Uint64("version", doc.Version),
		zap.Int("subgraphs", len(sg.Subgraphs())))

	return &Snapshot{Document: doc, Supergraph: sg}, nil
}

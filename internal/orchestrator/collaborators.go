package orchestrator

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/ultrathink/internal/complexity"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
	"github.com/fyrsmithlabs/ultrathink/internal/verify"
	"github.com/fyrsmithlabs/ultrathink/internal/workerpool"
)

// Task is what the gatherer and executor see for one iteration.
type Task struct {
	RequestID string
	Prompt    string
	Iteration int
	Domain    string
	Audience  string
	Sources   []string
	// Feedback holds the failure messages of the previous iteration.
	Feedback       []string
	Classification complexity.Classification
}

// Context is the gathered material for an iteration.
type Context struct {
	Text     string
	Sources  []string
	Metadata map[string]any
}

// Action is the candidate response of an iteration.
type Action struct {
	Output   string
	Metadata map[string]any
}

// ContextGatherer collects the material the executor works from.
type ContextGatherer interface {
	Gather(ctx context.Context, task Task) (Context, error)
}

// ActionExecutor produces a candidate response.
type ActionExecutor interface {
	Execute(ctx context.Context, task Task, gathered Context) (Action, error)
}

// VerifyInput is what a VerifierHook inspects.
type VerifyInput struct {
	Task    Task
	Context Context
	Action  Action
}

// VerifierHook checks a candidate response beyond the output guardrails.
// It runs its own tasks on the request reservation.
type VerifierHook interface {
	Verify(ctx context.Context, r *workerpool.Reservation, in VerifyInput) (validation.Aggregate, error)
}

// Collaborators are the pluggable stages. Executor is required; a nil
// Gatherer passes the request sources through and a nil Verifier runs the
// default V1-V4 verifiers.
type Collaborators struct {
	Gatherer ContextGatherer
	Executor ActionExecutor
	Verifier VerifierHook
}

// GathererFunc adapts a function to ContextGatherer.
type GathererFunc func(ctx context.Context, task Task) (Context, error)

// Gather implements ContextGatherer.
func (f GathererFunc) Gather(ctx context.Context, task Task) (Context, error) { return f(ctx, task) }

// ExecutorFunc adapts a function to ActionExecutor.
type ExecutorFunc func(ctx context.Context, task Task, gathered Context) (Action, error)

// Execute implements ActionExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, task Task, gathered Context) (Action, error) {
	return f(ctx, task, gathered)
}

// SourceGatherer joins the request sources into the context text.
type SourceGatherer struct{}

// Gather implements ContextGatherer.
func (SourceGatherer) Gather(_ context.Context, task Task) (Context, error) {
	return Context{
		Text:    strings.Join(task.Sources, "\n\n"),
		Sources: append([]string(nil), task.Sources...),
	}, nil
}

type verifierHook struct {
	v *verify.Verifier
}

// NewVerifierHook runs v as the verifier stage.
func NewVerifierHook(v *verify.Verifier) VerifierHook {
	return verifierHook{v: v}
}

func (h verifierHook) Verify(ctx context.Context, r *workerpool.Reservation, in VerifyInput) (validation.Aggregate, error) {
	sources := in.Context.Sources
	if len(sources) == 0 {
		sources = in.Task.Sources
	}
	report := h.v.Run(ctx, r, verify.Input{
		Prompt:       in.Task.Prompt,
		Output:       in.Action.Output,
		Sources:      sources,
		Domain:       in.Task.Domain,
		SubQuestions: in.Task.Classification.SubQuestions,
		Complex:      in.Task.Classification.Class == complexity.Complex,
	})
	return report.Aggregate(), nil
}

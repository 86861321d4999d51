// Package orchestrator drives a prompt through the iterative
// confidence-driven loop.
//
// # Overview
//
// A request is fingerprinted, classified and checked by the input
// guardrails. It is then refined over a bounded number of iterations until
// its confidence reaches the target or a stop condition fires:
//
//	INIT → ITERATE → EVALUATE → {DONE_OK, DONE_FAIL, EXTEND, RETRY}
//
// Each iteration gathers context, executes the action and verifies the
// output. The verify stage runs the output guardrails and the verifier hook
// on the request's worker reservation, and the scorer turns both into one
// confidence value.
//
// # Key Components
//
// ## Orchestrator
//
// The Orchestrator owns the loop. It is built from a Runtime (pool,
// guardrails, classifier, scorer, sanitizer and the observability hooks)
// and the Collaborators that do the actual work:
//   - ContextGatherer: produces the context for a task
//   - ActionExecutor: produces the candidate output
//   - VerifierHook: returns the verifier aggregate for an output
//
// ## Stop conditions
//
// A failed request carries one of these categories:
//   - ErrMandatoryLayerFailed: an input guardrail blocked the prompt
//   - ErrMaxIterations: the iteration budget ran out
//   - ErrTooManyTransient: three consecutive iterations failed in a stage
//   - ErrDeadlineExceeded: the request deadline passed
//   - ErrInternal: a bug; logged with its stack
//
// ## Adaptive limits
//
// When the budget is exhausted but the error count of recent iterations is
// falling, the budget grows by the extension step, never beyond twice the
// configured maximum.
//
// # Usage Example
//
//	orch, err := orchestrator.New(runtime, orchestrator.Collaborators{
//	    Executor: executor,
//	    Verifier: orchestrator.NewVerifierHook(verifier),
//	}, orchestrator.FromSettings(cfg.Orchestrator))
//
//	res, err := orch.Process(ctx, orchestrator.Request{Prompt: "What is 2+2?"})
//	if err != nil {
//	    // invalid options; nothing ran
//	}
//
// # Design Decisions
//
// 1. Validation outcomes are values. Only invalid options surface as a Go
// error; every other outcome is a Result.
//
// 2. The reservation is the only parallelism. The loop itself runs on the
// calling goroutine and releases its reservation on every exit path.
//
// 3. Captured text is sanitized before it reaches the iteration log.
package orchestrator

// Package integration exercises the assembled service end to end: HTTP API,
// orchestrator, progress events over an embedded NATS server and the SQLite
// request log.
package integration

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ultrathink/internal/events"
	httpserver "github.com/fyrsmithlabs/ultrathink/internal/http"
	"github.com/fyrsmithlabs/ultrathink/internal/logging"
	"github.com/fyrsmithlabs/ultrathink/internal/metrics"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
	"github.com/fyrsmithlabs/ultrathink/internal/sink"
	"github.com/fyrsmithlabs/ultrathink/internal/verify"
	"github.com/fyrsmithlabs/ultrathink/internal/workerpool"
)

// stack is a running service with handles on everything behind it.
type stack struct {
	server    *httptest.Server
	orch      *orchestrator.Orchestrator
	publisher *events.Publisher
	store     *sink.SQLiteStore
	registry  *prometheus.Registry
}

// newStack assembles the service around exec. Everything is torn down by
// t.Cleanup.
func newStack(t *testing.T, exec orchestrator.ActionExecutor) *stack {
	t.Helper()
	logger := logging.NewNop()

	ns, err := events.StartEmbedded("127.0.0.1")
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	pub := events.NewPublisher(nc, "", logger)

	store, err := sink.NewSQLiteStore(filepath.Join(t.TempDir(), "requests.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := prometheus.NewRegistry()
	pool, err := workerpool.New(64)
	require.NoError(t, err)

	verifier, err := verify.New(nil, verify.DefaultConfig())
	require.NoError(t, err)

	orch, err := orchestrator.New(
		orchestrator.Runtime{
			Pool:     pool,
			Logger:   logger,
			Metrics:  metrics.New(reg),
			Sink:     store,
			Progress: pub.Handler(),
		},
		orchestrator.Collaborators{
			Executor: exec,
			Verifier: orchestrator.NewVerifierHook(verifier),
		},
		orchestrator.DefaultConfig(),
	)
	require.NoError(t, err)

	srv, err := httpserver.NewServer(orch, logger, nil,
		httpserver.WithEvents(pub),
		httpserver.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &stack{server: ts, orch: orch, publisher: pub, store: store, registry: reg}
}

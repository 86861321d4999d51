package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ultrathink/internal/events"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
)

// groundedExecutor answers with the gathered sources.
func groundedExecutor(calls *atomic.Int32) orchestrator.ActionExecutor {
	return orchestrator.ExecutorFunc(func(_ context.Context, _ orchestrator.Task, gathered orchestrator.Context) (orchestrator.Action, error) {
		calls.Add(1)
		return orchestrator.Action{Output: gathered.Text}, nil
	})
}

// TestE2E_ProcessRequest follows one request through the whole service:
// 1. Subscribe to progress events
// 2. POST the request over HTTP
// 3. Observe started, iteration and completed events in order
// 4. Find the persisted request log by fingerprint
// 5. See the request in stats and metrics
func TestE2E_ProcessRequest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	var calls atomic.Int32
	st := newStack(t, groundedExecutor(&calls))
	ctx := context.Background()

	msgs := make(chan *nats.Msg, 256)
	sub, err := st.publisher.ChanSubscribe("", msgs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, st.publisher.Conn().Flush())

	// Phase 1: process over HTTP
	body := `{"prompt":"Where is the Eiffel Tower?","options":{"max_iterations":2,` +
		`"source_documents":["The Eiffel Tower is in Paris, France."]}}`
	resp, err := http.Post(st.server.URL+"/api/v1/process", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	requestID, _ := doc["request_id"].(string)
	fingerprint, _ := doc["fingerprint"].(string)
	require.NotEmpty(t, requestID)
	require.NotEmpty(t, fingerprint)

	iterations := int(doc["iterations_performed"].(float64))
	assert.GreaterOrEqual(t, iterations, 1)
	assert.LessOrEqual(t, iterations, 2)
	assert.EqualValues(t, iterations, calls.Load())

	// Phase 2: progress events
	var kinds []orchestrator.EventKind
	timeout := time.After(5 * time.Second)
collect:
	for {
		select {
		case msg := <-msgs:
			ev, ok := events.Decode(msg)
			if !ok {
				continue
			}
			assert.Equal(t, requestID, ev.Progress.RequestID)
			kinds = append(kinds, ev.Kind)
			if ev.Kind == orchestrator.EventCompleted {
				assert.Equal(t, doc["success"], ev.Progress.Success)
				break collect
			}
		case <-timeout:
			t.Fatalf("no completed event; saw %v", kinds)
		}
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, orchestrator.EventStarted, kinds[0])
	iterationEvents := 0
	for _, k := range kinds {
		if k == orchestrator.EventIteration {
			iterationEvents++
		}
	}
	assert.Equal(t, iterations, iterationEvents)

	// Phase 3: persisted request log
	keys, err := st.store.ByFingerprint(ctx, fingerprint)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	saved, err := st.store.Read(ctx, keys[0])
	require.NoError(t, err)
	assert.Equal(t, requestID, saved["request_id"])
	assert.Equal(t, doc["success"], saved["success"])

	// Phase 4: stats and metrics
	statsResp, err := http.Get(st.server.URL + "/api/v1/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	var stats orchestrator.Stats
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Requests)
	assert.Equal(t, stats.Requests, stats.Successes+stats.Failures)

	metricsResp, err := http.Get(st.server.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	exposition, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(exposition), "ultrathink_requests_total")
	assert.Contains(t, string(exposition), "ultrathink_validation_layer_results_total")
}

// TestE2E_InvalidOptions checks that a rejected request touches nothing.
func TestE2E_InvalidOptions(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	var calls atomic.Int32
	st := newStack(t, groundedExecutor(&calls))

	body := `{"prompt":"hello","options":{"domain":"astrology"}}`
	resp, err := http.Post(st.server.URL+"/api/v1/process", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	keys, err := st.store.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Zero(t, calls.Load())
	assert.Zero(t, st.orch.Stats().Requests)
}

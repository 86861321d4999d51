package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
)

func startServer(t *testing.T) string {
	t.Helper()
	srv, err := StartEmbedded("")
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv.ClientURL()
}

func TestPublisher_Subjects(t *testing.T) {
	p := NewPublisher(nil, "", nil)
	assert.Equal(t, "ultrathink.requests.r1.iteration", p.Subject("r1", orchestrator.EventIteration))
	assert.Equal(t, "ultrathink.requests.r1.*", p.Wildcard("r1"))
	assert.Equal(t, "ultrathink.requests.*.*", p.Wildcard(""))

	p = NewPublisher(nil, "dev", nil)
	assert.Equal(t, "dev.requests.r2.completed", p.Subject("r2", orchestrator.EventCompleted))
}

func TestPublisher_Handler(t *testing.T) {
	url := startServer(t)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	p := NewPublisher(nc, "", nil)

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("ultrathink.requests.req-1.iteration", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	p.Handler()(orchestrator.Progress{
		Kind:       orchestrator.EventIteration,
		RequestID:  "req-1",
		Iteration:  2,
		Confidence: 88.5,
	})

	select {
	case msg := <-ch:
		var ev orchestrator.Progress
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, 2, ev.Iteration)
		assert.InDelta(t, 88.5, ev.Confidence, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for iteration event")
	}
}

func TestPublisher_Subscribe(t *testing.T) {
	url := startServer(t)
	p, err := Connect(config.EventsConfig{URL: url, SubjectPrefix: "test"}, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ready := make(chan struct{})
	var got []orchestrator.EventKind
	done := make(chan error, 1)
	go func() {
		done <- p.Subscribe(ctx, "req-2", func(ev Event) error {
			got = append(got, ev.Kind)
			if ev.Kind == orchestrator.EventCompleted {
				cancel()
			}
			return nil
		})
	}()

	// the subscription is registered asynchronously; publish until the
	// first event lands
	go func() {
		defer close(ready)
		for ctx.Err() == nil {
			_ = p.Publish(orchestrator.Progress{Kind: orchestrator.EventStarted, RequestID: "req-2"})
			_ = p.Publish(orchestrator.Progress{Kind: orchestrator.EventStarted, RequestID: "other"})
			_ = p.Publish(orchestrator.Progress{Kind: orchestrator.EventCompleted, RequestID: "req-2", Success: true})
			time.Sleep(20 * time.Millisecond)
		}
	}()

	require.NoError(t, <-done)
	<-ready
	require.NotEmpty(t, got)
	assert.Equal(t, orchestrator.EventCompleted, got[len(got)-1])
	assert.NotContains(t, got, orchestrator.EventKind(""))
}

func TestConnect_RequiresURL(t *testing.T) {
	_, err := Connect(config.EventsConfig{}, nil)
	assert.Error(t, err)
}

// Command generate_metrics serves synthetic ultrathink metrics so Grafana
// dashboards can be built without a live orchestrator or model provider.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fyrsmithlabs/ultrathink/internal/iterlog"
	"github.com/fyrsmithlabs/ultrathink/internal/metrics"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
	"github.com/fyrsmithlabs/ultrathink/internal/safetyapi"
	"github.com/fyrsmithlabs/ultrathink/internal/validation"
)

var (
	layers = []validation.LayerID{
		validation.L1, validation.L2, validation.L3, validation.L4, validation.L5, validation.L6, validation.L7,
		validation.V1, validation.V2, validation.V3, validation.V4,
	}
	stages   = []iterlog.Stage{iterlog.StageContextGather, iterlog.StageActionExecute, iterlog.StageVerify}
	failures = []orchestrator.ErrorCategory{
		orchestrator.ErrMaxIterations,
		orchestrator.ErrMandatoryLayerFailed,
		orchestrator.ErrDeadlineExceeded,
		orchestrator.ErrTooManyTransient,
	}
	safetyOps = []string{safetyapi.OpClassify, safetyapi.OpShield, safetyapi.OpGroundedness}
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9092"
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	for i := 0; i < 200; i++ {
		request(m)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go generateContinuousData(ctx, m)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'ultrathink-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// request simulates one processed request.
func request(m *metrics.Metrics) {
	iterations := 1 + rand.Intn(4)
	for k := 0; k < iterations; k++ {
		for _, s := range stages {
			m.StageDuration(s, time.Duration(rand.Intn(2000))*time.Millisecond)
		}
		for _, l := range layers {
			m.LayerResult(validation.Result{Layer: l, Passed: rand.Float64() > 0.1})
		}
		if rand.Float64() > 0.9 {
			m.TransientRetry()
		}
	}
	if rand.Float64() > 0.85 {
		m.Extended()
	}

	res := &orchestrator.Result{
		Success:             rand.Float64() > 0.2,
		IterationsPerformed: iterations,
		Confidence:          70 + rand.Float64()*30,
		Duration:            time.Duration(1+rand.Intn(30)) * time.Second,
	}
	if !res.Success {
		res.Error = failures[rand.Intn(len(failures))]
	}
	m.RequestFinished(res)
	m.PoolFree(400 + rand.Intn(100))
}

func generateContinuousData(ctx context.Context, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rand.Float64() > 0.3 {
				request(m)
			}
			if rand.Float64() > 0.5 {
				outcome := safetyapi.OutcomeOK
				if rand.Float64() > 0.9 {
					outcome = safetyapi.OutcomeUnavailable
				}
				m.SafetyAPICall(safetyOps[rand.Intn(len(safetyOps))], outcome)
			}
		}
	}
}

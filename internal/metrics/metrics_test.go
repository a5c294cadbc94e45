package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/lessonflow/internal/actions"
	"github.com/rendis/lessonflow/internal/engine"
	"github.com/rendis/lessonflow/pkg/schema"
)

type dispatchFunc func(ctx context.Context, node *schema.Node, input string) (string, error)

func (f dispatchFunc) Execute(ctx context.Context, node *schema.Node, input string) (string, error) {
	return f(ctx, node, input)
}

func workflow() *schema.Workflow {
	return &schema.Workflow{
		ID: "wf",
		Nodes: []schema.Node{
			{ID: "s", Kind: schema.KindStart},
			{ID: "ok", Kind: schema.KindTopic},
			{ID: "bad", Kind: schema.KindAIAnalyze},
			{ID: "e", Kind: schema.KindEnd},
		},
		Edges: []schema.Edge{
			{ID: "1", Source: "s", Target: "ok"},
			{ID: "2", Source: "s", Target: "bad"},
			{ID: "3", Source: "ok", Target: "e"},
			{ID: "4", Source: "bad", Target: "e"},
		},
	}
}

func TestMetrics_ObservesRun(t *testing.T) {
	m := New()
	exec := engine.NewExecutor(dispatchFunc(func(_ context.Context, n *schema.Node, _ string) (string, error) {
		if n.ID == "bad" {
			return "", errors.New("nope")
		}
		return "fine", nil
	}), engine.ExecutorConfig{Observers: []engine.Observer{m}})
	defer exec.Close()

	res, err := exec.Execute(context.Background(), workflow())
	require.NoError(t, err)
	require.Equal(t, schema.RunFailed, res.Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("failed", "barrier")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodes.WithLabelValues("topic", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodes.WithLabelValues("start", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodes.WithLabelValues("ai-analyze", "error")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.nodeDuration), "one series per dispatched kind")
}

func TestMetrics_FallbackAndPool(t *testing.T) {
	m := New()
	m.Fallback(context.Background(), &schema.Node{ID: "a"}, "openrouter", errors.New("x"))
	m.Fallback(context.Background(), &schema.Node{ID: "b"}, "openrouter", errors.New("x"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("openrouter")))

	pool := engine.NewWorkerPool(4)
	defer pool.Shutdown()
	m.WatchPool("default", pool.Metrics)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lessonflow_pool_capacity{pool="default"} 4`)
	assert.Contains(t, string(body), `lessonflow_pool_waiting{pool="default"} 0`)
	assert.Contains(t, string(body), `lessonflow_ai_fallbacks_total{provider="openrouter"} 2`)
}

func TestMetrics_WatchCircuits(t *testing.T) {
	m := New()
	breakers := actions.NewCircuitBreakerRegistry(actions.CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour, HalfOpenMax: 1})
	m.WatchCircuits(breakers.Snapshot)

	_ = breakers.Do(context.Background(), "openrouter", func(context.Context) error { return nil })
	_ = breakers.Do(context.Background(), "groq", func(context.Context) error { return errors.New("429") })

	expected := `
# HELP lessonflow_provider_circuit_state AI provider circuit: 0 closed, 1 half-open, 2 open.
# TYPE lessonflow_provider_circuit_state gauge
lessonflow_provider_circuit_state{provider="groq"} 2
lessonflow_provider_circuit_state{provider="openrouter"} 0
`
	require.NoError(t, testutil.GatherAndCompare(m.registry, strings.NewReader(expected), "lessonflow_provider_circuit_state"))
}

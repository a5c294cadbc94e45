package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rendis/lessonflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test helpers ---

type dispatchCall struct {
	NodeID string
	Input  string
}

// fakeDispatcher returns "<id>-out" unless a per-node func overrides it.
type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []dispatchCall
	funcs  map[string]func(ctx context.Context, input string) (string, error)
	active int64
	peak   int64
	delay  time.Duration
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{funcs: make(map[string]func(context.Context, string) (string, error))}
}

func (f *fakeDispatcher) on(id string, fn func(ctx context.Context, input string) (string, error)) {
	f.funcs[id] = fn
}

func (f *fakeDispatcher) Execute(ctx context.Context, n *schema.Node, input string) (string, error) {
	cur := atomic.AddInt64(&f.active, 1)
	defer atomic.AddInt64(&f.active, -1)
	for {
		p := atomic.LoadInt64(&f.peak)
		if cur <= p || atomic.CompareAndSwapInt64(&f.peak, p, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, dispatchCall{NodeID: n.ID, Input: input})
	fn := f.funcs[n.ID]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if fn != nil {
		return fn(ctx, input)
	}
	return n.ID + "-out", nil
}

func (f *fakeDispatcher) inputsOf(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.NodeID == id {
			out = append(out, c.Input)
		}
	}
	return out
}

func (f *fakeDispatcher) called(id string) bool { return len(f.inputsOf(id)) > 0 }

func execute(t *testing.T, d Dispatcher, cfg ExecutorConfig, wf *schema.Workflow) *schema.RunResult {
	t.Helper()
	exec := NewExecutor(d, cfg)
	defer exec.Close()
	res, err := exec.Execute(context.Background(), wf)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func fanIn(t *testing.T) *schema.Workflow {
	return graph(t, []schema.Node{
		node("s", schema.KindStart, "Start"),
		node("a", schema.KindTopic, "A-label"),
		node("b", schema.KindTopic, "B-label"),
		node("c", schema.KindTopic, "C"),
		node("e", schema.KindEnd, "End"),
	}, "s>a", "s>b", "a>c", "b>c", "c>e")
}

// --- scenarios ---

func TestExecutor_LinearChain(t *testing.T) {
	wf := graph(t, []schema.Node{
		node("s", schema.KindStart, "Start"),
		node("r", schema.KindAIResearch, "Research"),
		node("e", schema.KindEnd, "End"),
	}, "s>r", "r>e")
	d := newFakeDispatcher()

	res := execute(t, d, ExecutorConfig{}, wf)

	assert.Equal(t, schema.RunCompleted, res.Status)
	assert.Nil(t, res.Error)
	assert.Equal(t, schema.RecordCompleted, res.Record("s").Status)
	assert.Equal(t, schema.RecordCompleted, res.Record("r").Status)
	assert.Equal(t, []string{"s-out"}, d.inputsOf("r"))
	assert.Equal(t, []string{""}, d.inputsOf("s"))

	end := res.Record("e")
	assert.Equal(t, schema.RecordPending, end.Status)
	assert.Empty(t, end.Result)
	assert.False(t, d.called("e"))
}

func TestExecutor_FanInAggregation(t *testing.T) {
	for _, mode := range []Mode{ModeBarrier, ModePerPath} {
		t.Run(string(mode), func(t *testing.T) {
			d := newFakeDispatcher()
			d.on("a", func(context.Context, string) (string, error) { return "alpha", nil })
			d.on("b", func(context.Context, string) (string, error) { return "beta", nil })

			res := execute(t, d, ExecutorConfig{Mode: mode}, fanIn(t))
			assert.Equal(t, schema.RunCompleted, res.Status)

			inputs := d.inputsOf("c")
			require.NotEmpty(t, inputs)
			assert.Equal(t, "[A-label]:\nalpha\n\n---\n\n[B-label]:\nbeta", inputs[len(inputs)-1])
		})
	}
}

func TestExecutor_BarrierRunsFanInOnce(t *testing.T) {
	d := newFakeDispatcher()
	res := execute(t, d, ExecutorConfig{Mode: ModeBarrier}, fanIn(t))

	assert.Len(t, d.inputsOf("c"), 1)
	assert.Equal(t, 1, res.Record("c").Attempts)
}

func TestExecutor_PerPathRunsFanInPerPredecessor(t *testing.T) {
	d := newFakeDispatcher()
	res := execute(t, d, ExecutorConfig{Mode: ModePerPath}, fanIn(t))

	assert.Equal(t, schema.RunCompleted, res.Status)
	assert.Len(t, d.inputsOf("c"), 2)
	assert.Equal(t, 2, res.Record("c").Attempts)
	assert.Equal(t, schema.RecordCompleted, res.Record("c").Status)
}

func TestExecutor_SiblingsRunConcurrently(t *testing.T) {
	nodes := []schema.Node{node("s", schema.KindStart, "")}
	var edges []string
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("n%d", i)
		nodes = append(nodes, node(id, schema.KindTopic, id))
		edges = append(edges, "s>"+id)
	}
	d := newFakeDispatcher()
	d.delay = 40 * time.Millisecond

	res := execute(t, d, ExecutorConfig{PoolSize: 4}, graph(t, nodes, edges...))

	assert.Equal(t, schema.RunCompleted, res.Status)
	assert.Greater(t, atomic.LoadInt64(&d.peak), int64(1))
}

func TestExecutor_PoolBoundsConcurrency(t *testing.T) {
	nodes := []schema.Node{node("s", schema.KindStart, "")}
	var edges []string
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("n%d", i)
		nodes = append(nodes, node(id, schema.KindTopic, id))
		edges = append(edges, "s>"+id)
	}
	d := newFakeDispatcher()
	d.delay = 10 * time.Millisecond

	res := execute(t, d, ExecutorConfig{PoolSize: 2}, graph(t, nodes, edges...))

	assert.Equal(t, schema.RunCompleted, res.Status)
	assert.LessOrEqual(t, atomic.LoadInt64(&d.peak), int64(2))
}

func TestExecutor_FailureStopsOnlyItsBranch(t *testing.T) {
	wf := graph(t, []schema.Node{
		node("s", schema.KindStart, ""),
		node("a", schema.KindTopic, "A"),
		node("a2", schema.KindTopic, "A2"),
		node("b", schema.KindTopic, "B"),
		node("b2", schema.KindTopic, "B2"),
	}, "s>a", "a>a2", "s>b", "b>b2")
	d := newFakeDispatcher()
	d.on("a", func(context.Context, string) (string, error) { return "", errors.New("provider down") })

	res := execute(t, d, ExecutorConfig{}, wf)

	assert.Equal(t, schema.RunFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, schema.ErrCodeNodeFailed, res.Error.Code)
	assert.Equal(t, "a", res.Error.NodeID)

	a := res.Record("a")
	assert.Equal(t, schema.RecordError, a.Status)
	assert.Equal(t, "provider down", a.Error)
	assert.Equal(t, schema.RecordPending, res.Record("a2").Status)
	assert.False(t, d.called("a2"))
	assert.Equal(t, schema.RecordCompleted, res.Record("b2").Status)
}

func TestExecutor_RecordKeepsBareHandlerMessage(t *testing.T) {
	wf := graph(t, []schema.Node{
		node("s", schema.KindStart, ""),
		node("a", schema.KindTopic, "A"),
	}, "s>a")
	d := newFakeDispatcher()
	d.on("a", func(context.Context, string) (string, error) {
		return "", schema.NewError(schema.ErrCodeMissingCredentials, "no API key for openrouter")
	})

	res := execute(t, d, ExecutorConfig{}, wf)
	assert.Equal(t, "no API key for openrouter", res.Record("a").Error)
}

func TestExecutor_BarrierFiresWhenOnePredecessorSucceeds(t *testing.T) {
	d := newFakeDispatcher()
	d.on("a", func(context.Context, string) (string, error) { return "", errors.New("nope") })
	d.on("b", func(context.Context, string) (string, error) { return "beta", nil })

	res := execute(t, d, ExecutorConfig{Mode: ModeBarrier}, fanIn(t))

	assert.Equal(t, schema.RunFailed, res.Status)
	assert.Equal(t, []string{"[B-label]:\nbeta"}, d.inputsOf("c"))
	assert.Equal(t, schema.RecordCompleted, res.Record("c").Status)
}

func TestExecutor_BarrierPrunesWhenAllPredecessorsFail(t *testing.T) {
	d := newFakeDispatcher()
	fail := func(context.Context, string) (string, error) { return "", errors.New("nope") }
	d.on("a", fail)
	d.on("b", fail)

	res := execute(t, d, ExecutorConfig{Mode: ModeBarrier}, fanIn(t))

	assert.Equal(t, schema.RunFailed, res.Status)
	assert.False(t, d.called("c"))
	assert.Equal(t, schema.RecordPending, res.Record("c").Status)
	assert.ElementsMatch(t, []string{"a", "b"}, res.Error.Details["failed_nodes"])
}

func TestExecutor_NoStartNodeIsFatal(t *testing.T) {
	wf := graph(t, []schema.Node{
		node("a", schema.KindTopic, "A"),
		node("e", schema.KindEnd, ""),
	}, "a>e")
	d := newFakeDispatcher()
	exec := NewExecutor(d, ExecutorConfig{})
	defer exec.Close()

	res, err := exec.Execute(context.Background(), wf)

	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNoStartNode, schema.CodeOf(err))
	require.NotNil(t, res)
	assert.Equal(t, schema.RunFailed, res.Status)
	assert.Empty(t, res.Records)
	assert.Empty(t, d.calls)

	_, err = exec.Start(context.Background(), wf)
	assert.Error(t, err)
}

func TestExecutor_CycleIsFatal(t *testing.T) {
	wf := graph(t, []schema.Node{
		node("s", schema.KindStart, ""),
		node("a", schema.KindTopic, ""),
		node("b", schema.KindTopic, ""),
	}, "s>a", "a>b", "b>a")
	exec := NewExecutor(newFakeDispatcher(), ExecutorConfig{})
	defer exec.Close()

	res, err := exec.Execute(context.Background(), wf)
	assert.Equal(t, schema.ErrCodeCycleDetected, schema.CodeOf(err))
	assert.Empty(t, res.Records)
}

func TestExecutor_EveryReachableNodeTerminates(t *testing.T) {
	wf := graph(t, []schema.Node{
		node("s", schema.KindStart, ""),
		node("a", schema.KindAIResearch, ""),
		node("b", schema.KindAISummarize, ""),
		node("c", schema.KindTopic, ""),
		node("d", schema.KindEmail, ""),
		node("e", schema.KindEnd, ""),
		node("island", schema.KindTopic, ""),
	}, "s>a", "s>b", "a>c", "b>c", "c>d", "a>d", "d>e")
	d := newFakeDispatcher()

	res := execute(t, d, ExecutorConfig{}, wf)

	for _, id := range []string{"s", "a", "b", "c", "d"} {
		rec := res.Record(id)
		assert.True(t, rec.Status.Terminal(), "node %s status %s", id, rec.Status)
		assert.NotNil(t, rec.StartedAt, id)
	}
	assert.Equal(t, schema.RecordPending, res.Record("island").Status)
	assert.Equal(t, schema.RecordPending, res.Record("e").Status)
	assert.False(t, d.called("island"))
	assert.False(t, d.called("e"))
}

func TestExecutor_EndNodeSuccessorsNotReached(t *testing.T) {
	wf := graph(t, []schema.Node{
		node("s", schema.KindStart, ""),
		node("e", schema.KindEnd, ""),
		node("after", schema.KindTopic, ""),
	}, "s>e", "e>after")
	for _, mode := range []Mode{ModeBarrier, ModePerPath} {
		d := newFakeDispatcher()
		res := execute(t, d, ExecutorConfig{Mode: mode}, wf)
		assert.Equal(t, schema.RunCompleted, res.Status)
		assert.False(t, d.called("e"))
		assert.False(t, d.called("after"))
	}
}

func TestExecutor_CancelBeforeDispatch(t *testing.T) {
	wf := graph(t, []schema.Node{
		node("s", schema.KindStart, ""),
		node("a", schema.KindTopic, ""),
		node("b", schema.KindTopic, ""),
	}, "s>a", "a>b")

	d := newFakeDispatcher()
	release := make(chan struct{})
	started := make(chan struct{})
	d.on("a", func(ctx context.Context, _ string) (string, error) {
		close(started)
		<-release
		return "a-out", nil
	})

	exec := NewExecutor(d, ExecutorConfig{})
	defer exec.Close()
	run, err := exec.Start(context.Background(), wf)
	require.NoError(t, err)

	<-started
	run.Cancel()
	close(release)
	res := run.Wait()

	assert.Equal(t, schema.RunCancelled, res.Status)
	assert.Equal(t, schema.ErrCodeCancelled, res.Error.Code)
	assert.Equal(t, schema.RecordCompleted, res.Record("a").Status)
	assert.Equal(t, schema.RecordPending, res.Record("b").Status)
	assert.False(t, d.called("b"))
}

func TestExecutor_CancelledContextDispatchesNothing(t *testing.T) {
	wf := graph(t, []schema.Node{node("s", schema.KindStart, "")})
	d := newFakeDispatcher()
	exec := NewExecutor(d, ExecutorConfig{})
	defer exec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := exec.Execute(ctx, wf)

	require.NoError(t, err)
	assert.Equal(t, schema.RunCancelled, res.Status)
	assert.False(t, d.called("s"))
	assert.Equal(t, schema.RecordPending, res.Record("s").Status)
}

func TestExecutor_HandlerSeesCancellation(t *testing.T) {
	wf := graph(t, []schema.Node{
		node("s", schema.KindStart, ""),
		node("slow", schema.KindTopic, ""),
	}, "s>slow")
	d := newFakeDispatcher()
	d.on("slow", func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	exec := NewExecutor(d, ExecutorConfig{})
	defer exec.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res, err := exec.Execute(ctx, wf)
	require.NoError(t, err)
	assert.Equal(t, schema.RunCancelled, res.Status)
	assert.Equal(t, schema.RecordError, res.Record("slow").Status)
}

func TestExecutor_PanicBecomesNodeError(t *testing.T) {
	wf := graph(t, []schema.Node{
		node("s", schema.KindStart, ""),
		node("p", schema.KindTopic, ""),
	}, "s>p")
	d := newFakeDispatcher()
	d.on("p", func(context.Context, string) (string, error) { panic("kaboom") })

	res := execute(t, d, ExecutorConfig{}, wf)

	assert.Equal(t, schema.RunFailed, res.Status)
	assert.Equal(t, schema.RecordError, res.Record("p").Status)
	assert.Contains(t, res.Record("p").Error, "kaboom")
}

func TestExecutor_PerPathExecutionLimit(t *testing.T) {
	// Each layer doubles the number of paths into the sink.
	nodes := []schema.Node{node("s", schema.KindStart, "")}
	edges := []string{}
	prev := []string{"s"}
	for layer := 0; layer < 4; layer++ {
		a, b := fmt.Sprintf("a%d", layer), fmt.Sprintf("b%d", layer)
		nodes = append(nodes, node(a, schema.KindTopic, ""), node(b, schema.KindTopic, ""))
		for _, p := range prev {
			edges = append(edges, p+">"+a, p+">"+b)
		}
		prev = []string{a, b}
	}

	res := execute(t, newFakeDispatcher(), ExecutorConfig{Mode: ModePerPath, MaxExecutions: 10}, graph(t, nodes, edges...))

	assert.Equal(t, schema.RunFailed, res.Status)
	assert.Equal(t, schema.ErrCodeExecutionLimit, res.Error.Code)
}

func TestExecutor_UpdatesStream(t *testing.T) {
	wf := graph(t, []schema.Node{
		node("s", schema.KindStart, ""),
		node("a", schema.KindTopic, ""),
		node("e", schema.KindEnd, ""),
	}, "s>a", "a>e")
	exec := NewExecutor(newFakeDispatcher(), ExecutorConfig{})
	defer exec.Close()

	run, err := exec.Start(context.Background(), wf)
	require.NoError(t, err)

	var got []string
	for rec := range run.Updates() {
		got = append(got, rec.NodeID+":"+string(rec.Status))
	}
	assert.Equal(t, []string{"s:running", "s:completed", "a:running", "a:completed"}, got)
	assert.Equal(t, schema.RunCompleted, run.Wait().Status)
}

type recordingObserver struct {
	mu      sync.Mutex
	started int
	records int
	ended   *schema.RunResult
}

func (o *recordingObserver) OnRunStart(context.Context, *Run) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) OnRecord(context.Context, *Run, *schema.Node, schema.ExecutionRecord) {
	o.mu.Lock()
	o.records++
	o.mu.Unlock()
}

func (o *recordingObserver) OnRunEnd(_ context.Context, _ *Run, res *schema.RunResult) {
	o.mu.Lock()
	o.ended = res
	o.mu.Unlock()
}

func TestExecutor_Observers(t *testing.T) {
	obs := &recordingObserver{}
	res := execute(t, newFakeDispatcher(), ExecutorConfig{Observers: []Observer{obs}}, fanIn(t))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.started)
	assert.Equal(t, 8, obs.records)
	assert.Same(t, res, obs.ended)
}

func TestExecutor_SharedPool(t *testing.T) {
	pool := NewWorkerPool(3)
	defer pool.Shutdown()
	exec := NewExecutor(newFakeDispatcher(), ExecutorConfig{Pool: pool})
	exec.Close()

	res, err := exec.Execute(context.Background(), fanIn(t))
	require.NoError(t, err)
	assert.Equal(t, schema.RunCompleted, res.Status)
	assert.Eventually(t, func() bool { return exec.PoolMetrics().Completed == 4 }, time.Second, 5*time.Millisecond)
}

func TestExecutor_WorkflowMutationAfterStartIsIsolated(t *testing.T) {
	wf := fanIn(t)
	exec := NewExecutor(newFakeDispatcher(), ExecutorConfig{})
	defer exec.Close()

	run, err := exec.Start(context.Background(), wf)
	require.NoError(t, err)
	wf.Nodes[1].Label = "changed"
	wf.Nodes = wf.Nodes[:1]
	wf.Edges = nil

	res := run.Wait()
	assert.Equal(t, schema.RunCompleted, res.Status)
	assert.Len(t, res.Records, 5)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeBarrier, m)

	m, err = ParseMode("per-path")
	require.NoError(t, err)
	assert.Equal(t, ModePerPath, m)

	_, err = ParseMode("eager")
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type testState struct {
	Log      []string `json:"log"`
	Approved *bool    `json:"approved,omitempty"`
	Loops    int      `json:"loops"`
}

type testUpdate struct {
	Log      []string
	Approved *bool
	Loops    *int
}

func applyTest(s testState, u testUpdate) testState {
	s.Log = append(s.Log, u.Log...)
	if u.Approved != nil {
		s.Approved = u.Approved
	}
	if u.Loops != nil {
		s.Loops = *u.Loops
	}
	return s
}

func logStep(name string) StepFunc[testState, testUpdate] {
	return func(ctx context.Context, s testState) (testUpdate, error) {
		return testUpdate{Log: []string{name}}, nil
	}
}

/* approvalGraph: start -> wait (suspend) -> yes | no -> end */
func approvalGraph(t *testing.T, yes StepFunc[testState, testUpdate]) *Definition[testState, testUpdate] {
	t.Helper()
	if yes == nil {
		yes = logStep("yes")
	}
	def, err := NewBuilder[testState, testUpdate]("test", applyTest).
		AddStep("start", logStep("start")).
		AddStep("wait", logStep("wait")).
		AddStep("yes", yes).
		AddStep("no", logStep("no")).
		SetStart("start").
		AddEdge("start", "wait").
		AddConditionalEdge("wait", func(s testState) string {
			if s.Approved != nil && *s.Approved {
				return "yes"
			}
			return "no"
		}, "yes", "no").
		AddEdge("yes", End).
		AddEdge("no", End).
		Interrupt("wait", nil).
		Build()
	require.NoError(t, err)
	return def
}

func approved(v bool) testUpdate {
	return testUpdate{Approved: &v}
}

func TestStartSuspendsAndResumeCompletes(t *testing.T) {
	store := NewMemoryCheckpointStore()
	engine := NewEngine(approvalGraph(t, nil), store, nil)
	ctx := context.Background()

	res, err := engine.Start(ctx, "run-1", RunMeta{AgencyID: uuid.New()}, testState{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, res.Status)
	assert.Equal(t, "wait", res.NextStep)
	assert.Equal(t, []string{"start", "wait"}, res.State.Log)

	cp, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, cp.Status)
	assert.Equal(t, "wait", cp.NextStep)

	res, err = engine.Resume(ctx, "run-1", approved(true))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"start", "wait", "yes"}, res.State.Log)

	cp, _ = store.Load(ctx, "run-1")
	assert.Equal(t, StatusCompleted, cp.Status, "terminal checkpoint kept for audit")
}

func TestResumeDeniedRoutesToOtherBranch(t *testing.T) {
	engine := NewEngine(approvalGraph(t, nil), NewMemoryCheckpointStore(), nil)
	ctx := context.Background()

	_, err := engine.Start(ctx, "run-1", RunMeta{}, testState{})
	require.NoError(t, err)
	res, err := engine.Resume(ctx, "run-1", approved(false))
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "wait", "no"}, res.State.Log)
}

func TestResumeTwiceRejected(t *testing.T) {
	engine := NewEngine(approvalGraph(t, nil), NewMemoryCheckpointStore(), nil)
	ctx := context.Background()

	_, err := engine.Start(ctx, "run-1", RunMeta{}, testState{})
	require.NoError(t, err)
	_, err = engine.Resume(ctx, "run-1", approved(true))
	require.NoError(t, err)

	_, err = engine.Resume(ctx, "run-1", approved(true))
	assert.ErrorIs(t, err, ErrRunNotSuspended)
}

func TestResumeUnknownRun(t *testing.T) {
	engine := NewEngine(approvalGraph(t, nil), NewMemoryCheckpointStore(), nil)
	_, err := engine.Resume(context.Background(), "missing", approved(true))
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStartDuplicateRunID(t *testing.T) {
	engine := NewEngine(approvalGraph(t, nil), NewMemoryCheckpointStore(), nil)
	_, err := engine.Start(context.Background(), "run-1", RunMeta{}, testState{})
	require.NoError(t, err)
	_, err = engine.Start(context.Background(), "run-1", RunMeta{}, testState{})
	assert.ErrorIs(t, err, ErrRunExists)
}

func TestConcurrentResumeAcrossProcessesRunsOnce(t *testing.T) {
	store := NewMemoryCheckpointStore()
	var writes int32
	yes := func(ctx context.Context, s testState) (testUpdate, error) {
		atomic.AddInt32(&writes, 1)
		return testUpdate{Log: []string{"yes"}}, nil
	}
	def := approvalGraph(t, yes)

	_, err := NewEngine(def, store, nil).Start(context.Background(), "run-1", RunMeta{}, testState{})
	require.NoError(t, err)

	const replicas = 16
	var (
		wg        sync.WaitGroup
		successes int32
	)
	for i := 0; i < replicas; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			/* each engine has its own local locker, like separate processes */
			engine := NewEngine(def, store, NewLocalLocker())
			_, err := engine.Resume(context.Background(), "run-1", approved(true))
			if err == nil {
				atomic.AddInt32(&successes, 1)
				return
			}
			assert.True(t, errors.Is(err, ErrRunNotSuspended) || errors.Is(err, ErrCheckpointConflict), err.Error())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes)
	assert.Equal(t, int32(1), writes)
}

func TestSharedLockerRejectsConcurrentEntry(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), "run-1")
	require.NoError(t, err)

	engine := NewEngine(approvalGraph(t, nil), NewMemoryCheckpointStore(), locker)
	_, err = engine.Start(context.Background(), "run-1", RunMeta{}, testState{})
	assert.ErrorIs(t, err, ErrRunLocked)

	release()
	release()
	_, err = engine.Start(context.Background(), "run-1", RunMeta{}, testState{})
	assert.NoError(t, err)
}

func TestStepErrorFailsRun(t *testing.T) {
	store := NewMemoryCheckpointStore()
	boom := errors.New("checkpoint corrupted upstream")
	def, err := NewBuilder[testState, testUpdate]("test", applyTest).
		AddStep("start", logStep("start")).
		AddStep("explode", func(ctx context.Context, s testState) (testUpdate, error) {
			return testUpdate{}, boom
		}).
		SetStart("start").
		AddEdge("start", "explode").
		AddEdge("explode", End).
		Build()
	require.NoError(t, err)

	res, err := NewEngine(def, store, nil).Start(context.Background(), "run-1", RunMeta{}, testState{})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "explode", runErr.Step)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{"start"}, res.State.Log)

	cp, _ := store.Load(context.Background(), "run-1")
	assert.Equal(t, StatusFailed, cp.Status)
	assert.Contains(t, cp.Error, "checkpoint corrupted upstream")
}

func TestStepPanicFailsRun(t *testing.T) {
	def, err := NewBuilder[testState, testUpdate]("test", applyTest).
		AddStep("start", func(ctx context.Context, s testState) (testUpdate, error) {
			var m map[string]int
			m["x"] = 1
			return testUpdate{}, nil
		}).
		SetStart("start").
		AddEdge("start", End).
		Build()
	require.NoError(t, err)

	res, err := NewEngine(def, NewMemoryCheckpointStore(), nil).Start(context.Background(), "run-1", RunMeta{}, testState{})
	assert.ErrorIs(t, err, ErrStepPanic)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestStepLimitStopsLoops(t *testing.T) {
	def, err := NewBuilder[testState, testUpdate]("loop", applyTest).
		AddStep("spin", func(ctx context.Context, s testState) (testUpdate, error) {
			n := s.Loops + 1
			return testUpdate{Loops: &n}, nil
		}).
		SetStart("spin").
		AddEdge("spin", "spin").
		MaxSteps(5).
		Build()
	require.NoError(t, err)

	res, err := NewEngine(def, NewMemoryCheckpointStore(), nil).Start(context.Background(), "run-1", RunMeta{}, testState{})
	assert.ErrorIs(t, err, ErrStepLimit)
	assert.Equal(t, 5, res.State.Loops)
}

func TestInterruptPredicateCanDecline(t *testing.T) {
	def, err := NewBuilder[testState, testUpdate]("test", applyTest).
		AddStep("start", logStep("start")).
		AddStep("maybe_wait", logStep("maybe_wait")).
		SetStart("start").
		AddEdge("start", "maybe_wait").
		AddEdge("maybe_wait", End).
		Interrupt("maybe_wait", func(s testState) bool { return s.Approved == nil }).
		Build()
	require.NoError(t, err)

	engine := NewEngine(def, NewMemoryCheckpointStore(), nil)
	yes := true
	res, err := engine.Start(context.Background(), "pre-approved", RunMeta{}, testState{Approved: &yes})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	res, err = engine.Start(context.Background(), "needs-review", RunMeta{}, testState{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, res.Status)
}

func TestUndeclaredEdgeTargetFailsRun(t *testing.T) {
	def, err := NewBuilder[testState, testUpdate]("test", applyTest).
		AddStep("start", logStep("start")).
		SetStart("start").
		AddConditionalEdge("start", func(testState) string { return "nowhere" }, End).
		Build()
	require.NoError(t, err)

	_, err = NewEngine(def, NewMemoryCheckpointStore(), nil).Start(context.Background(), "run-1", RunMeta{}, testState{})
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestCorruptCheckpointFailsResume(t *testing.T) {
	store := NewMemoryCheckpointStore()
	engine := NewEngine(approvalGraph(t, nil), store, nil)
	ctx := context.Background()

	_, err := engine.Start(ctx, "run-1", RunMeta{}, testState{})
	require.NoError(t, err)
	store.corrupt("run-1", []byte(`{"log": 42`))

	_, err = engine.Resume(ctx, "run-1", approved(true))
	assert.ErrorIs(t, err, ErrCorruptCheckpoint)

	cp, _ := store.Load(ctx, "run-1")
	assert.Equal(t, StatusFailed, cp.Status)
}

func TestCancelledContextFailsRun(t *testing.T) {
	store := NewMemoryCheckpointStore()
	ctx, cancel := context.WithCancel(context.Background())
	def, err := NewBuilder[testState, testUpdate]("test", applyTest).
		AddStep("start", func(context.Context, testState) (testUpdate, error) {
			cancel()
			return testUpdate{Log: []string{"start"}}, nil
		}).
		AddStep("after", logStep("after")).
		SetStart("start").
		AddEdge("start", "after").
		AddEdge("after", End).
		Build()
	require.NoError(t, err)

	_, err = NewEngine(def, store, nil).Start(ctx, "run-1", RunMeta{}, testState{})
	assert.ErrorIs(t, err, ErrRunCancelled)

	cp, _ := store.Load(context.Background(), "run-1")
	assert.Equal(t, StatusFailed, cp.Status)
	assert.Equal(t, "after", cp.NextStep)
}

func TestBuilderValidation(t *testing.T) {
	noop := logStep("x")

	_, err := NewBuilder[testState, testUpdate]("bad", applyTest).
		AddStep("a", noop).
		AddStep("b", noop).
		SetStart("a").
		AddEdge("a", "missing").
		Interrupt("ghost", nil).
		Build()
	require.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Contains(t, err.Error(), "'a' -> 'missing'")
	assert.Contains(t, err.Error(), "step 'b' has no outgoing edge")
	assert.Contains(t, err.Error(), "suspend point 'ghost'")

	_, err = NewBuilder[testState, testUpdate]("nostart", applyTest).
		AddStep("a", noop).
		AddEdge("a", End).
		Build()
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = NewBuilder[testState, testUpdate]("dup", applyTest).
		AddStep("a", noop).
		AddStep("a", noop).
		SetStart("a").
		AddEdge("a", End).
		Build()
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestSpansPerRunAndStep(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	engine := NewEngine(approvalGraph(t, nil), NewMemoryCheckpointStore(), nil, WithTracer(provider.Tracer("test")))

	_, err := engine.Start(context.Background(), "run-1", RunMeta{}, testState{})
	require.NoError(t, err)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
		assert.NotEqual(t, codes.Error, span.Status().Code)
	}
	assert.ElementsMatch(t, []string{"workflow.step start", "workflow.step wait", "workflow.run test"}, names)
}

func TestInspectDecodesState(t *testing.T) {
	engine := NewEngine(approvalGraph(t, nil), NewMemoryCheckpointStore(), nil)
	_, err := engine.Start(context.Background(), "run-1", RunMeta{}, testState{})
	require.NoError(t, err)

	cp, state, err := engine.Inspect(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, cp.Status)
	assert.Equal(t, []string{"start", "wait"}, state.Log)
}

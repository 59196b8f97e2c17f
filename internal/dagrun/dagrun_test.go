package dagrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/swarmguard/aisched/internal/scheduler"
)

func newTestRunInfo(dag *Dag) *scheduler.RunInfo {
	return scheduler.NewRunInfo("test-run", dag, nil, dag.DeviceCount())
}

func testMeter() noopmetric.MeterProvider { return noopmetric.MeterProvider{} }

type fakeRunner struct {
	ran       []string
	batchRuns [][]string
	fail      map[string]bool
}

func (f *fakeRunner) RunOp(ctx context.Context, op OpSpec) error {
	f.ran = append(f.ran, op.ID)
	if f.fail[op.ID] {
		return errFailed
	}
	return nil
}

func (f *fakeRunner) RunBatch(ctx context.Context, ops []OpSpec) error {
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
	}
	f.batchRuns = append(f.batchRuns, ids)
	for _, op := range ops {
		if f.fail[op.ID] {
			return errFailed
		}
	}
	return nil
}

var errFailed = errString("kernel failed")

type errString string

func (e errString) Error() string { return string(e) }

func testTracer() trace.Tracer { return nooptrace.NewTracerProvider().Tracer("test") }

func TestBuildRejectsUnknownDependency(t *testing.T) {
	_, err := Build(DagSpec{ID: "d1", Ops: []OpSpec{{ID: "a", Device: "GPU0", DependsOn: []string{"missing"}}}})
	require.Error(t, err)
}

func TestBuildGroupsOpsByDeviceInOrder(t *testing.T) {
	dag, err := Build(DagSpec{ID: "d1", Ops: []OpSpec{
		{ID: "a", Device: "GPU0"},
		{ID: "b", Device: "CPU0"},
		{ID: "c", Device: "GPU0", DependsOn: []string{"a"}},
	}})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"GPU0", "CPU0"}, dag.Devices())
	require.Equal(t, 2, dag.DeviceCount())
	require.Equal(t, []string{"a", "c"}, dag.deviceOrder["GPU0"])
	require.Equal(t, []string{"b"}, dag.deviceOrder["CPU0"])
}

func TestBuildNormalizesDeviceNameCase(t *testing.T) {
	dag, err := Build(DagSpec{ID: "d1", Ops: []OpSpec{{ID: "a", Device: "cpu0"}}})
	require.NoError(t, err)
	require.Equal(t, []string{"CPU0"}, dag.Devices())

	op, _, _, _, _ := dag.currentOpAndInfo("CPU0")
	require.NotNil(t, op, "the worker always queries with the registry's upper-cased device name")
}

func TestEngineRunsOpsInDependencyOrderAcrossDevices(t *testing.T) {
	spec := DagSpec{ID: "d1", Ops: []OpSpec{
		{ID: "a", Device: "GPU0"},
		{ID: "b", Device: "CPU0", DependsOn: []string{"a"}},
	}}
	dag, err := Build(spec)
	require.NoError(t, err)

	runner := &fakeRunner{}
	engine, err := NewEngine(runner, testMeter().Meter("t"), testTracer())
	require.NoError(t, err)

	rinfo := newTestRunInfo(dag)

	op, ready, _, deviceComplete, dagComplete := engine.CurrentOpAndInfo(rinfo, "CPU0")
	require.NotNil(t, op)
	require.False(t, ready, "b depends on a, which has not run yet")
	require.False(t, deviceComplete)
	require.False(t, dagComplete)

	require.NoError(t, engine.DagRunSessionStep(context.Background(), rinfo, "GPU0"))

	_, ready, _, _, _ = engine.CurrentOpAndInfo(rinfo, "CPU0")
	require.True(t, ready, "b must be ready once a has completed")

	require.NoError(t, engine.DagRunSessionStep(context.Background(), rinfo, "CPU0"))

	_, _, _, deviceComplete, dagComplete = engine.CurrentOpAndInfo(rinfo, "CPU0")
	require.True(t, deviceComplete)
	require.True(t, dagComplete)
	require.Equal(t, []string{"a", "b"}, runner.ran)
}

func TestEngineMarksStickyErrorOnOpFailure(t *testing.T) {
	spec := DagSpec{ID: "d1", Ops: []OpSpec{{ID: "a", Device: "GPU0"}}}
	dag, err := Build(spec)
	require.NoError(t, err)

	runner := &fakeRunner{fail: map[string]bool{"a": true}}
	engine, err := NewEngine(runner, testMeter().Meter("t"), testTracer())
	require.NoError(t, err)

	rinfo := newTestRunInfo(dag)
	err = engine.DagRunSessionStep(context.Background(), rinfo, "GPU0")
	require.Error(t, err)
	require.True(t, rinfo.Error())
}

func TestEngineBatchingMatchRequiresSameModel(t *testing.T) {
	engine, err := NewEngine(&fakeRunner{}, testMeter().Meter("t"), testTracer())
	require.NoError(t, err)

	a := opHandle{&node{spec: OpSpec{Model: "resnet", InBatchSize: 1}}}
	b := opHandle{&node{spec: OpSpec{Model: "resnet", InBatchSize: 2}}}
	c := opHandle{&node{spec: OpSpec{Model: "bert", InBatchSize: 1}}}

	compatible, size := engine.OpBatchingMatch(nil, a, nil, b)
	require.True(t, compatible)
	require.Equal(t, 2, size)

	compatible, _ = engine.OpBatchingMatch(nil, a, nil, c)
	require.False(t, compatible)
}

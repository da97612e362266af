package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"imcflow/internal/backend"
	"imcflow/internal/dispatch"
	"imcflow/internal/events"
	"imcflow/internal/ledger"
	"imcflow/internal/manifest"
	"imcflow/internal/pipeline"
	"imcflow/internal/reconcile"
	"imcflow/internal/testsupport"
	"imcflow/internal/textutil"
)

type recordingBackend struct {
	mu      sync.Mutex
	subs    []backend.Submission
	failFor map[string]error
}

func (b *recordingBackend) Kind() backend.Kind { return backend.KindCluster }

func (b *recordingBackend) Submit(_ context.Context, sub backend.Submission) (backend.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.failFor[sub.Name]; ok {
		return backend.Receipt{}, &backend.SubmissionError{Backend: backend.KindCluster, Job: sub.Name, Err: err}
	}
	b.subs = append(b.subs, sub)
	return backend.Receipt{Kind: backend.KindCluster, ID: fmt.Sprintf("%d", 100+len(b.subs))}, nil
}

func (b *recordingBackend) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for _, sub := range b.subs {
		out = append(out, sub.Name)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func testStages() []pipeline.Stage {
	res := pipeline.Resources{CPUs: 2, MemoryMB: 1024, WallTime: time.Hour}
	return []pipeline.Stage{
		{
			Name:      pipeline.StageQuantification,
			Ordinal:   2,
			Command:   "quant -i {{quote .Prev}} -o {{quote .Output}}",
			Output:    "{{.OutputDir}}/{{.Sample}}.csv",
			Resources: res,
		},
		{
			Name:      pipeline.StageSegmentation,
			Ordinal:   1,
			Command:   "segment --nuclear={{channels \"nuclear\"}} {{quote .Input}} {{quote .Output}}",
			Output:    "{{.OutputDir}}/{{.Sample}}_mask.tiff",
			Resources: res,
		},
	}
}

func testManifest(t *testing.T, samples ...manifest.Sample) *manifest.Manifest {
	t.Helper()
	panel, err := manifest.NewPanel("panel.csv", []manifest.Marker{
		{Name: "DNA1", Role: manifest.RoleNuclear},
		{Name: "DNA2", Role: manifest.RoleNuclear},
		{Name: "CD45", Role: manifest.RoleMembrane},
	})
	if err != nil {
		t.Fatalf("NewPanel: %v", err)
	}
	return &manifest.Manifest{Path: "samples.csv", Samples: samples, Panel: panel}
}

func sample(name string) manifest.Sample {
	return manifest.Sample{Name: name, Input: "/raw/" + name + ".mcd"}
}

func newDispatcher(t *testing.T, opts dispatch.Options, extra ...dispatch.Option) (*dispatch.Dispatcher, string) {
	t.Helper()
	base := t.TempDir()
	if opts.LogDir == "" {
		opts.LogDir = filepath.Join(base, "submission")
	}
	globals := pipeline.Globals{ProcessedDir: filepath.Join(base, "processed")}
	return dispatch.New(opts, globals, nil, extra...), base
}

func TestDispatchSubmitsStagesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	submittedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d, base := newDispatcher(t, dispatch.Options{ChainDependencies: true},
		dispatch.WithPublisher(pub),
		dispatch.WithClock(func() time.Time { return submittedAt }),
	)
	b := &recordingBackend{}

	result, err := d.Dispatch(context.Background(), testManifest(t, sample("S1"), sample("S2")), testStages(), b)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if !result.OK() || result.RunID == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	want := []string{"S1.segmentation", "S1.quantification", "S2.segmentation", "S2.quantification"}
	if got := b.names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("submission order = %v, want %v", got, want)
	}

	if len(result.Jobs) != 4 {
		t.Fatalf("expected 4 jobs, got %d", len(result.Jobs))
	}
	seg, quant := result.Jobs[0], result.Jobs[1]
	if b.subs[1].After != seg.Receipt() {
		t.Fatalf("quantification should depend on %s, got %s", seg.Receipt(), b.subs[1].After)
	}
	if !b.subs[0].After.IsZero() {
		t.Fatalf("first stage should have no dependency, got %s", b.subs[0].After)
	}
	wantSeg := filepath.Join(base, "processed", "S1", "S1_mask.tiff")
	if seg.ExpectedOutput() != wantSeg {
		t.Fatalf("ExpectedOutput = %q, want %q", seg.ExpectedOutput(), wantSeg)
	}
	if !strings.Contains(quant.Command(), "quant -i "+textutil.ShellQuote(wantSeg)) {
		t.Fatalf("quantification should read the segmentation output: %q", quant.Command())
	}
	if !strings.Contains(seg.Command(), "--nuclear=DNA1,DNA2") {
		t.Fatalf("panel channels not rendered: %q", seg.Command())
	}
	if seg.LogPath() != filepath.Join(base, "submission", result.RunID, "S1.segmentation.log") {
		t.Fatalf("unexpected log path %q", seg.LogPath())
	}
	if !seg.SubmittedAt().Equal(submittedAt) || seg.RunID() != result.RunID {
		t.Fatalf("unexpected job metadata %+v", seg.Spec())
	}
	if _, err := os.Stat(filepath.Join(base, "processed", "S2")); err != nil {
		t.Fatalf("output directory not created: %v", err)
	}

	types := pub.types()
	if types[0] != events.TypeRunStarted || types[len(types)-1] != events.TypeRunFinished {
		t.Fatalf("unexpected event sequence %v", types)
	}
	if n := strings.Count(strings.Join(types, " "), events.TypeJobSubmitted); n != 4 {
		t.Fatalf("expected 4 job.submitted events, got %d", n)
	}
}

func TestDispatchWithoutChainingLeavesDependenciesEmpty(t *testing.T) {
	d, _ := newDispatcher(t, dispatch.Options{})
	b := &recordingBackend{}
	if _, err := d.Dispatch(context.Background(), testManifest(t, sample("S1")), testStages(), b); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	for _, sub := range b.subs {
		if !sub.After.IsZero() {
			t.Fatalf("%s declared a dependency without chaining", sub.Name)
		}
	}
}

func TestDispatchIsolatesSampleFailures(t *testing.T) {
	d, _ := newDispatcher(t, dispatch.Options{ChainDependencies: true})
	broken := sample("A")
	broken.ExcludeChannels = []string{"DNA1", "DNA2"}
	rejected := sample("B")
	b := &recordingBackend{failFor: map[string]error{
		"B.segmentation": errors.New("sbatch: error: invalid partition specified"),
	}}

	result, err := d.Dispatch(context.Background(), testManifest(t, broken, rejected, sample("C")), testStages(), b)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if got := strings.Join(b.names(), ","); got != "C.segmentation,C.quantification" {
		t.Fatalf("unexpected submissions %s", got)
	}
	if len(result.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %+v", result.Failures)
	}
	tmpl, sub := result.Failures[0], result.Failures[1]
	if tmpl.Sample != "A" || tmpl.Stage != pipeline.StageSegmentation || tmpl.Kind != dispatch.FailureTemplate {
		t.Fatalf("unexpected template failure %+v", tmpl)
	}
	if !errors.Is(tmpl, pipeline.ErrTemplate) {
		t.Fatalf("template failure should wrap ErrTemplate: %v", tmpl)
	}
	if sub.Sample != "B" || sub.Kind != dispatch.FailureSubmission {
		t.Fatalf("unexpected submission failure %+v", sub)
	}
	if !errors.Is(result.Err(), backend.ErrSubmission) {
		t.Fatalf("joined error should include the submission failure: %v", result.Err())
	}
}

func TestDispatchSkipsCompletedStages(t *testing.T) {
	d, base := newDispatcher(t, dispatch.Options{ChainDependencies: true, SkipCompleted: true})
	testsupport.WriteFile(t, filepath.Join(base, "processed", "S1", "S1_mask.tiff"), 8)
	b := &recordingBackend{}

	result, err := d.Dispatch(context.Background(), testManifest(t, sample("S1")), testStages(), b)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Stage != pipeline.StageSegmentation || result.Skipped[0].Ordinal != 1 {
		t.Fatalf("unexpected skips %+v", result.Skipped)
	}
	if len(b.subs) != 1 || b.subs[0].Name != "S1.quantification" {
		t.Fatalf("unexpected submissions %v", b.names())
	}
	if !b.subs[0].After.IsZero() {
		t.Fatalf("stage after a skipped stage should not declare a dependency, got %s", b.subs[0].After)
	}
	if !strings.Contains(b.subs[0].Command, "S1_mask.tiff") {
		t.Fatalf("skipped stage output should still feed the next stage: %q", b.subs[0].Command)
	}
}

func TestDispatchDryRunPlansWithoutSubmitting(t *testing.T) {
	d, base := newDispatcher(t, dispatch.Options{DryRun: true})
	result, err := d.Dispatch(context.Background(), testManifest(t, sample("S1"), sample("S2")), testStages(), nil)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(result.Jobs) != 0 || len(result.Planned) != 4 {
		t.Fatalf("dry run should only plan: %+v", result)
	}
	if result.Planned[0].Sample != "S1" || result.Planned[0].Stage != pipeline.StageSegmentation {
		t.Fatalf("unexpected first planned command %+v", result.Planned[0])
	}
	if _, err := os.Stat(filepath.Join(base, "processed")); !os.IsNotExist(err) {
		t.Fatalf("dry run must not create output directories: %v", err)
	}
}

func TestDispatchRejectsLogPathCollisions(t *testing.T) {
	d, _ := newDispatcher(t, dispatch.Options{})
	b := &recordingBackend{}
	result, err := d.Dispatch(context.Background(), testManifest(t, sample("core 1"), sample("core_1")), testStages(), b)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(b.subs) != 2 {
		t.Fatalf("only the first sample should be submitted, got %v", b.names())
	}
	if len(result.Failures) != 1 || result.Failures[0].Kind != dispatch.FailureCollision || result.Failures[0].Sample != "core_1" {
		t.Fatalf("unexpected failures %+v", result.Failures)
	}
}

func TestDispatchKeepsEarlierRunLogs(t *testing.T) {
	d, base := newDispatcher(t, dispatch.Options{})
	m := testManifest(t, sample("S1"))
	first, err := d.Dispatch(context.Background(), m, testStages(), &recordingBackend{})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	seg := first.Jobs[0]
	testsupport.WriteText(t, seg.LogPath(), "slurmstepd: error: *** JOB 101 CANCELLED AT t DUE TO TIME LIMIT ***\n")

	second, err := d.Dispatch(context.Background(), m, testStages(), &recordingBackend{})
	if err != nil {
		t.Fatalf("second Dispatch returned error: %v", err)
	}
	if second.RunID == first.RunID || second.Jobs[0].LogPath() == seg.LogPath() {
		t.Fatalf("runs share a log path: %s", seg.LogPath())
	}
	if filepath.Dir(second.Jobs[0].LogPath()) != filepath.Join(base, "submission", second.RunID) {
		t.Fatalf("unexpected log path %q", second.Jobs[0].LogPath())
	}
	r := reconcile.New(reconcile.DefaultMarkers(), nil)
	if got := r.Classify(seg); got != reconcile.TimedOut {
		t.Fatalf("earlier run reclassified as %s after a later dispatch", got)
	}
}

func TestDispatchRecordsLedger(t *testing.T) {
	store, err := ledger.OpenPath(filepath.Join(t.TempDir(), "imcflow.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	d, _ := newDispatcher(t, dispatch.Options{ChainDependencies: true}, dispatch.WithRecorder(store))
	broken := sample("A")
	broken.ExcludeChannels = []string{"DNA1", "DNA2"}

	ctx := context.Background()
	result, err := d.Dispatch(ctx, testManifest(t, broken, sample("S1")), testStages(), &recordingBackend{})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	run, err := store.GetRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !run.Finished() || run.Jobs != 2 || run.Errors != 1 || run.Samples != 2 || run.Backend != string(backend.KindCluster) {
		t.Fatalf("unexpected run record %+v", run)
	}
	recorded, err := store.Jobs(ctx, result.RunID)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(recorded) != 2 || recorded[0].Receipt() != result.Jobs[0].Receipt() {
		t.Fatalf("unexpected recorded jobs %+v", recorded)
	}
	errs, err := store.Errors(ctx, result.RunID)
	if err != nil {
		t.Fatalf("Errors: %v", err)
	}
	if len(errs) != 1 || errs[0].Sample != "A" || errs[0].Kind != string(dispatch.FailureTemplate) {
		t.Fatalf("unexpected error records %+v", errs)
	}
}

func TestDispatchStopsOnCancelledContext(t *testing.T) {
	d, _ := newDispatcher(t, dispatch.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &recordingBackend{}
	result, err := d.Dispatch(ctx, testManifest(t, sample("S1")), testStages(), b)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(b.subs) != 0 || len(result.Jobs) != 0 {
		t.Fatalf("nothing should be submitted after cancellation")
	}
}

const segmentationStub = `for arg in "$@"; do
  case "$arg" in
    --output_filename_format=*) out="${arg#--output_filename_format=}" ;;
  esac
done
echo "writing probabilities to $out"
touch "$out"
`

const quantificationStub = `while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift ;;
  esac
  shift
done
sample="${IMCFLOW_JOB_NAME%.quantification}"
touch "$out/${sample}_quantification.csv"
`

func TestDispatchLocalPipelineReconcilesSucceeded(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubScript("run_ilastik.sh", segmentationStub),
		testsupport.WithStubScript("cellprofiler", quantificationStub),
	)
	testsupport.WriteProject(t, testsupport.BaseDir(cfg), "S1", "S2")

	m, err := manifest.Load(cfg.Manifest.Path, cfg.Manifest.PanelPath, manifest.OptionsFromConfig(cfg.Manifest))
	if err != nil {
		t.Fatalf("Load manifest: %v", err)
	}
	stages, err := pipeline.Stages(cfg)
	if err != nil {
		t.Fatalf("Stages: %v", err)
	}
	local := backend.NewLocal(backend.LocalOptions{}, nil)
	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("Open ledger: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	d := dispatch.New(dispatch.OptionsFromConfig(cfg), pipeline.GlobalsFromConfig(cfg), nil, dispatch.WithRecorder(store))
	result, err := d.Dispatch(context.Background(), m, stages, local)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if !result.OK() || len(result.Jobs) != 4 {
		t.Fatalf("unexpected result: jobs=%d failures=%v", len(result.Jobs), result.Err())
	}

	r := reconcile.New(reconcile.DefaultMarkers(), nil)
	outcomes := r.Reconcile(result.Jobs)
	for _, job := range result.Jobs {
		if got := outcomes[job.Key()]; got != reconcile.Succeeded {
			t.Fatalf("%s = %s; log:\n%s", job.Key(), got, testsupport.ReadText(t, job.LogPath()))
		}
	}
	summary := reconcile.Summarize(result.Jobs, nil, outcomes)
	if summary.Succeeded != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	again, err := d.Dispatch(context.Background(), m, stages, local)
	if err != nil {
		t.Fatalf("second Dispatch returned error: %v", err)
	}
	if len(again.Jobs) != 0 || len(again.Skipped) != 4 {
		t.Fatalf("completed stages should be skipped on rerun: jobs=%d skipped=%d", len(again.Jobs), len(again.Skipped))
	}

	skips, err := store.Skips(context.Background(), again.RunID)
	if err != nil {
		t.Fatalf("Skips: %v", err)
	}
	if len(skips) != 4 || skips[0].Sample != "S1" || skips[0].Ordinal != 1 {
		t.Fatalf("unexpected skip records %+v", skips)
	}
	completed := make([]reconcile.Completed, 0, len(skips))
	for _, skip := range skips {
		completed = append(completed, reconcile.Completed{
			Sample:         skip.Sample,
			Stage:          skip.Stage,
			Ordinal:        skip.Ordinal,
			ExpectedOutput: skip.ExpectedOutput,
		})
	}
	rerun := reconcile.Summarize(nil, completed, r.ReconcileCompleted(completed))
	if rerun.Succeeded != 2 || rerun.Pending != 0 {
		t.Fatalf("skipped stages should count as succeeded: %+v", rerun)
	}
}

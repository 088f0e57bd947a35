package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dreamforge-ai/dreamforge/internal/backend"
	"github.com/dreamforge-ai/dreamforge/internal/gpu"
	"github.com/dreamforge-ai/dreamforge/internal/model"
	"github.com/dreamforge-ai/dreamforge/internal/queue"
)

// fakeGenerator serves canned responses: the first failUntil Generate calls
// fail, the rest succeed. Pipeline loads always succeed.
type fakeGenerator struct {
	failUntil int
	calls     []backend.GenerateParams
}

func (g *fakeGenerator) Generate(_ context.Context, params backend.GenerateParams) ([]byte, error) {
	g.calls = append(g.calls, params)
	if len(g.calls) <= g.failUntil {
		return nil, errors.New("inference crashed")
	}
	return []byte("jpeg-bytes"), nil
}

func (g *fakeGenerator) LoadPipeline(context.Context, string, backend.Variant) error   { return nil }
func (g *fakeGenerator) UnloadPipeline(context.Context, string, backend.Variant) error { return nil }

type fakeArtifacts struct {
	err     error
	uploads []string
}

func (a *fakeArtifacts) Upload(_ context.Context, objectName string, _ []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.uploads = append(a.uploads, objectName)
	return "ai-images/" + objectName, nil
}

type capturePublisher struct {
	results []*model.GenerationResult
}

func (p *capturePublisher) Publish(_ context.Context, res *model.GenerationResult) error {
	p.results = append(p.results, res)
	return nil
}

type fixture struct {
	sched     *Scheduler
	queue     *queue.MemoryQueue
	balancer  gpu.Balancer
	gen       *fakeGenerator
	artifacts *fakeArtifacts
	publisher *capturePublisher
}

func newFixture(t *testing.T, gen *fakeGenerator, deviceSpec string) *fixture {
	t.Helper()

	reg, err := gpu.NewRegistry(gpu.ConfigProber{Spec: deviceSpec}, 8)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	balancer := gpu.NewBalancer(reg)

	selector := backend.NewSelector(gen)
	for _, d := range reg.Devices() {
		if err := selector.LoadOnDevice(context.Background(), d.ID,
			backend.VariantSDXLBase, backend.VariantSDXLTurbo, backend.VariantLCM); err != nil {
			t.Fatalf("load pipelines: %v", err)
		}
	}

	q := queue.NewMemoryQueue()
	artifacts := &fakeArtifacts{}
	publisher := &capturePublisher{}

	sched := New(q, balancer, selector, gen, backend.DefaultStyles(), artifacts, publisher, nil, nil, Options{
		Workers:     1,
		MaxAttempts: 3,
		// Zero delays keep the retry loop from sleeping in tests.
	})

	return &fixture{
		sched:     sched,
		queue:     q,
		balancer:  balancer,
		gen:       gen,
		artifacts: artifacts,
		publisher: publisher,
	}
}

func testTask() *model.GenerationTask {
	return &model.GenerationTask{
		TaskID:  "task-1",
		UserID:  "user-1",
		ChatID:  10,
		Prompt:  "a fox in the snow",
		Style:   "realistic",
		Quality: backend.QualityStandard,
		Size:    "512x512",
	}
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t, &fakeGenerator{}, "0:16")

	f.sched.process(context.Background(), 0, testTask())

	if len(f.publisher.results) != 1 {
		t.Fatalf("published %d results, want 1", len(f.publisher.results))
	}
	res := f.publisher.results[0]
	if res.Status != model.ResultStatusCompleted {
		t.Errorf("Status = %s, want completed", res.Status)
	}
	if res.ImageURL != "ai-images/task-1.jpg" {
		t.Errorf("ImageURL = %q", res.ImageURL)
	}
	if res.TaskID != "task-1" || res.UserID != "user-1" || res.ChatID != 10 {
		t.Errorf("result lost task identity: %+v", res)
	}

	// Device fully released with one generation recorded.
	snap := f.balancer.Snapshot()
	d := snap.Devices[0]
	if d.Busy || d.QueueLength != 0 {
		t.Errorf("device not released: busy=%v queue=%d", d.Busy, d.QueueLength)
	}
	if d.TotalGenerations != 1 {
		t.Errorf("TotalGenerations = %d, want 1", d.TotalGenerations)
	}
}

func TestProcessStylesAndParams(t *testing.T) {
	gen := &fakeGenerator{}
	f := newFixture(t, gen, "0:16")

	task := testTask()
	task.Quality = backend.QualityFast
	f.sched.process(context.Background(), 0, task)

	if len(gen.calls) != 1 {
		t.Fatalf("Generate called %d times, want 1", len(gen.calls))
	}
	params := gen.calls[0]
	if params.Variant != backend.VariantLCM {
		t.Errorf("Variant = %s, want lcm for fast quality", params.Variant)
	}
	if params.Steps != 4 || params.GuidanceScale != 2.0 {
		t.Errorf("steps=%d guidance=%g, want fast-tier 4/2.0", params.Steps, params.GuidanceScale)
	}
	if params.Width != 512 || params.Height != 512 {
		t.Errorf("size = %dx%d, want 512x512", params.Width, params.Height)
	}
	if !strings.Contains(params.Prompt, "a fox in the snow") {
		t.Errorf("prompt lost original text: %q", params.Prompt)
	}
	if !strings.HasPrefix(params.Prompt, "photorealistic") {
		t.Errorf("prompt missing style prefix: %q", params.Prompt)
	}
	if params.NegativePrompt == "" {
		t.Error("negative prompt should be set for a known style")
	}
}

func TestProcessRetriesThenFails(t *testing.T) {
	gen := &fakeGenerator{failUntil: 100} // never succeeds
	f := newFixture(t, gen, "0:16")

	f.sched.process(context.Background(), 0, testTask())

	if len(gen.calls) != 3 {
		t.Errorf("Generate called %d times, want 3", len(gen.calls))
	}
	if len(f.publisher.results) != 1 {
		t.Fatalf("published %d results, want exactly 1", len(f.publisher.results))
	}
	res := f.publisher.results[0]
	if res.Status != model.ResultStatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.Error, "inference crashed") {
		t.Errorf("Error = %q, want the last failure reason", res.Error)
	}

	snap := f.balancer.Snapshot()
	d := snap.Devices[0]
	if d.Busy || d.QueueLength != 0 {
		t.Errorf("device not released after failures: busy=%v queue=%d", d.Busy, d.QueueLength)
	}
	if d.ErrorCount != 3 {
		t.Errorf("ErrorCount = %d, want one per attempt", d.ErrorCount)
	}
	if d.TotalGenerations != 3 {
		t.Errorf("TotalGenerations = %d, want one release per attempt", d.TotalGenerations)
	}
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	gen := &fakeGenerator{failUntil: 2}
	f := newFixture(t, gen, "0:16")

	f.sched.process(context.Background(), 0, testTask())

	if len(gen.calls) != 3 {
		t.Errorf("Generate called %d times, want 3", len(gen.calls))
	}
	if len(f.publisher.results) != 1 {
		t.Fatalf("published %d results, want 1", len(f.publisher.results))
	}
	if f.publisher.results[0].Status != model.ResultStatusCompleted {
		t.Errorf("Status = %s, want completed after a successful retry", f.publisher.results[0].Status)
	}
}

func TestProcessMalformedSizeFailsFast(t *testing.T) {
	gen := &fakeGenerator{}
	f := newFixture(t, gen, "0:16")

	task := testTask()
	task.Size = "enormous"
	f.sched.process(context.Background(), 0, task)

	if len(gen.calls) != 0 {
		t.Errorf("Generate called %d times, want 0 for malformed parameters", len(gen.calls))
	}
	if len(f.publisher.results) != 1 {
		t.Fatalf("published %d results, want 1", len(f.publisher.results))
	}
	res := f.publisher.results[0]
	if res.Status != model.ResultStatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.Error, "invalid size") {
		t.Errorf("Error = %q, want a size complaint", res.Error)
	}
}

func TestProcessUploadFailureIsRetried(t *testing.T) {
	f := newFixture(t, &fakeGenerator{}, "0:16")
	f.artifacts.err = errors.New("bucket gone")

	f.sched.process(context.Background(), 0, testTask())

	if len(f.publisher.results) != 1 {
		t.Fatalf("published %d results, want 1", len(f.publisher.results))
	}
	res := f.publisher.results[0]
	if res.Status != model.ResultStatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.Error, "artifact upload failed") {
		t.Errorf("Error = %q", res.Error)
	}
	if len(f.gen.calls) != 3 {
		t.Errorf("Generate called %d times, want a retry per attempt", len(f.gen.calls))
	}
}

func TestProcessNoDeviceReEnqueues(t *testing.T) {
	f := newFixture(t, &fakeGenerator{}, "0:16")

	// Soft-disable the only device so nothing is selectable.
	for i := 0; i < 6; i++ {
		f.balancer.MarkError("0", "broken")
	}

	task := testTask()
	f.sched.process(context.Background(), 0, task)

	if len(f.publisher.results) != 0 {
		t.Fatalf("published %d results, want 0 when the task is re-enqueued", len(f.publisher.results))
	}
	if n, _ := f.queue.Len(context.Background(), queue.TierNormal); n != 1 {
		t.Errorf("normal tier depth = %d, want the task back on its tier", n)
	}
}

func TestProcessReEnqueuePreservesTier(t *testing.T) {
	f := newFixture(t, &fakeGenerator{}, "0:16")
	for i := 0; i < 6; i++ {
		f.balancer.MarkError("0", "broken")
	}

	task := testTask()
	task.Priority = true
	f.sched.process(context.Background(), 0, task)

	if n, _ := f.queue.Len(context.Background(), queue.TierPriority); n != 1 {
		t.Errorf("priority tier depth = %d, want 1", n)
	}
	if n, _ := f.queue.Len(context.Background(), queue.TierNormal); n != 0 {
		t.Errorf("normal tier depth = %d, want 0", n)
	}
}

func TestRunDrainsOnCancel(t *testing.T) {
	f := newFixture(t, &fakeGenerator{}, "0:16")
	f.sched.opts.PollInterval = 0
	f.sched.opts.SweepInterval = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
}

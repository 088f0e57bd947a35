package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dreamforge-ai/dreamforge/internal/backend"
	"github.com/dreamforge-ai/dreamforge/internal/gpu"
	"github.com/dreamforge-ai/dreamforge/internal/model"
	"github.com/dreamforge-ai/dreamforge/internal/queue"
	"github.com/dreamforge-ai/dreamforge/internal/result"
	"github.com/dreamforge-ai/dreamforge/internal/storage"
)

// TaskLogger records terminal task outcomes. Satisfied by *store.Store;
// may be nil when SQL persistence is not configured.
type TaskLogger interface {
	LogTaskFinished(taskID, deviceID string, status model.ResultStatus, imageURL string, attempts int, elapsed time.Duration)
}

// Options configures the worker pool.
type Options struct {
	Workers        int           // number of concurrent worker loops
	PollInterval   time.Duration // sleep when both queue tiers are empty
	AcquireBackoff time.Duration // sleep after failing to acquire a device
	MaxAttempts    int           // generation attempts before terminal failure
	RetryDelay     time.Duration // fixed backoff between attempts
	StaleTaskAge   time.Duration // sweep threshold for abandoned device tasks
	SweepInterval  time.Duration // sweep + stats flush period
	StatsTTL       time.Duration // TTL of the cached stats snapshot
}

// Scheduler runs a fixed pool of worker loops that pull tasks from the queue,
// bind them to GPU devices, dispatch inference, and publish results. All
// workers share one balancer, whose lock is the sole serialization point.
type Scheduler struct {
	queue     queue.Queue
	balancer  gpu.Balancer
	selector  *backend.Selector
	gen       backend.Generator
	styles    *backend.StyleBook
	artifacts storage.ArtifactStore
	publisher result.Publisher
	taskLog   TaskLogger
	statsRdb  *redis.Client // optional, for the dashboard stats snapshot
	opts      Options

	wg sync.WaitGroup
}

// New creates a Scheduler. statsRdb and taskLog may be nil.
func New(
	q queue.Queue,
	balancer gpu.Balancer,
	selector *backend.Selector,
	gen backend.Generator,
	styles *backend.StyleBook,
	artifacts storage.ArtifactStore,
	publisher result.Publisher,
	taskLog TaskLogger,
	statsRdb *redis.Client,
	opts Options,
) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Scheduler{
		queue:     q,
		balancer:  balancer,
		selector:  selector,
		gen:       gen,
		styles:    styles,
		artifacts: artifacts,
		publisher: publisher,
		taskLog:   taskLog,
		statsRdb:  statsRdb,
		opts:      opts,
	}
}

// Run starts the worker pool and housekeeping loops, blocking until ctx is
// cancelled and all workers have drained.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("[scheduler] starting %d workers", s.opts.Workers)

	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.workerLoop(ctx, id)
		}(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.housekeepingLoop(ctx)
	}()

	s.wg.Wait()
	log.Println("[scheduler] all workers stopped")
}

// ─────────────────────────────────────────────
// Worker loop
// ─────────────────────────────────────────────

func (s *Scheduler) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok, err := s.queue.Dequeue(ctx)
		if err != nil {
			log.Printf("[scheduler] worker %d: dequeue error: %v", id, err)
			s.sleep(ctx, s.opts.PollInterval)
			continue
		}
		if !ok {
			s.sleep(ctx, s.opts.PollInterval)
			continue
		}

		s.process(ctx, id, task)
	}
}

// process drives one task through acquire → dispatch → release, with the
// retry policy applied over typed dispatch outcomes. Exactly one terminal
// result is published for every task that stays in our hands; on resource
// exhaustion the task is put back on its queue tier instead.
func (s *Scheduler) process(ctx context.Context, workerID int, task *model.GenerationTask) {
	var (
		lastReason string
		lastDevice string
	)

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		deviceID, ok := s.balancer.Acquire(task.Priority, task.TaskID)
		if !ok {
			// No device selectable (all soft-disabled). The task must not
			// be dropped: put it back and back off.
			if err := s.queue.Enqueue(ctx, task, task.Priority); err != nil {
				log.Printf("[scheduler] worker %d: re-enqueue %s failed, task lost: %v", workerID, task.TaskID, err)
				s.publishFailed(ctx, task, "", 0, "no device available and re-enqueue failed")
				return
			}
			log.Printf("[scheduler] worker %d: no device for task %s, re-enqueued", workerID, task.TaskID)
			s.sleep(ctx, s.opts.AcquireBackoff)
			return
		}
		lastDevice = deviceID

		start := time.Now()
		out := s.dispatch(ctx, deviceID, task)
		elapsed := time.Since(start)

		switch out.kind {
		case outcomeOK:
			s.balancer.Release(deviceID, elapsed)
			s.publishCompleted(ctx, task, deviceID, attempt, out.imageURL, elapsed)
			return

		case outcomeRetryable:
			s.balancer.MarkError(deviceID, out.reason)
			s.balancer.Release(deviceID, elapsed)
			lastReason = out.reason
			log.Printf("[scheduler] worker %d: task %s attempt %d/%d failed on device %s: %s",
				workerID, task.TaskID, attempt, s.opts.MaxAttempts, deviceID, out.reason)
			if attempt < s.opts.MaxAttempts {
				s.sleep(ctx, s.opts.RetryDelay)
			}

		case outcomeFatal:
			s.balancer.MarkError(deviceID, out.reason)
			s.balancer.Release(deviceID, elapsed)
			log.Printf("[scheduler] worker %d: task %s failed fatally on device %s: %s",
				workerID, task.TaskID, deviceID, out.reason)
			s.publishFailed(ctx, task, deviceID, attempt, out.reason)
			return
		}
	}

	s.publishFailed(ctx, task, lastDevice, s.opts.MaxAttempts, lastReason)
}

// ─────────────────────────────────────────────
// Dispatch: one inference attempt
// ─────────────────────────────────────────────

type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeRetryable
	outcomeFatal
)

// outcome is the typed result of one dispatch attempt; the retry policy is a
// pure decision over it.
type outcome struct {
	kind     outcomeKind
	imageURL string
	reason   string
}

func (s *Scheduler) dispatch(ctx context.Context, deviceID string, task *model.GenerationTask) outcome {
	width, height, err := backend.ParseSize(task.Size)
	if err != nil {
		// Malformed task parameters cannot improve on retry.
		return outcome{kind: outcomeFatal, reason: err.Error()}
	}

	variant, err := s.selector.SelectModel(deviceID, task.Quality)
	if err != nil {
		// Another device may still have pipelines loaded.
		return outcome{kind: outcomeRetryable, reason: err.Error()}
	}

	styled, negative := s.styles.ApplyStyle(task.Prompt, task.Style)
	settings := backend.SettingsFor(task.Quality)

	img, err := s.gen.Generate(ctx, backend.GenerateParams{
		DeviceID:       deviceID,
		Variant:        variant,
		Prompt:         styled,
		NegativePrompt: negative,
		Steps:          settings.Steps,
		GuidanceScale:  settings.GuidanceScale,
		Width:          width,
		Height:         height,
	})
	if err != nil {
		return outcome{kind: outcomeRetryable, reason: "generation failed: " + err.Error()}
	}
	if len(img) == 0 {
		return outcome{kind: outcomeRetryable, reason: "generation returned no data"}
	}

	url, err := s.artifacts.Upload(ctx, task.TaskID+".jpg", img)
	if err != nil {
		return outcome{kind: outcomeRetryable, reason: "artifact upload failed: " + err.Error()}
	}

	return outcome{kind: outcomeOK, imageURL: url}
}

// ─────────────────────────────────────────────
// Result emission
// ─────────────────────────────────────────────

func (s *Scheduler) publishCompleted(ctx context.Context, task *model.GenerationTask, deviceID string, attempts int, imageURL string, elapsed time.Duration) {
	res := &model.GenerationResult{
		TaskID:    task.TaskID,
		UserID:    task.UserID,
		ChatID:    task.ChatID,
		MessageID: task.MessageID,
		Prompt:    task.Prompt,
		Status:    model.ResultStatusCompleted,
		ImageURL:  imageURL,
		Elapsed:   elapsed.Seconds(),
	}
	if err := s.publisher.Publish(ctx, res); err != nil {
		log.Printf("[scheduler] publish result for %s failed: %v", task.TaskID, err)
	}
	if s.taskLog != nil {
		s.taskLog.LogTaskFinished(task.TaskID, deviceID, model.ResultStatusCompleted, imageURL, attempts, elapsed)
	}
	log.Printf("[scheduler] task %s completed on device %s in %.1fs (queued %.1fs ago)",
		task.TaskID, deviceID, elapsed.Seconds(), time.Since(task.CreatedAt).Seconds())
}

func (s *Scheduler) publishFailed(ctx context.Context, task *model.GenerationTask, deviceID string, attempts int, reason string) {
	res := &model.GenerationResult{
		TaskID:    task.TaskID,
		UserID:    task.UserID,
		ChatID:    task.ChatID,
		MessageID: task.MessageID,
		Prompt:    task.Prompt,
		Status:    model.ResultStatusFailed,
		Error:     reason,
	}
	if err := s.publisher.Publish(ctx, res); err != nil {
		log.Printf("[scheduler] publish failure for %s failed: %v", task.TaskID, err)
	}
	if s.taskLog != nil {
		s.taskLog.LogTaskFinished(task.TaskID, deviceID, model.ResultStatusFailed, "", attempts, 0)
	}
}

// ─────────────────────────────────────────────
// Housekeeping: stale sweep + stats flush
// ─────────────────────────────────────────────

func (s *Scheduler) housekeepingLoop(ctx context.Context) {
	if s.opts.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	log.Println("[scheduler] housekeeping loop started")
	for {
		select {
		case <-ctx.Done():
			log.Println("[scheduler] housekeeping loop stopped")
			return
		case <-ticker.C:
			if n := s.balancer.SweepStale(s.opts.StaleTaskAge); n > 0 {
				log.Printf("[scheduler] reclaimed %d stale device assignments", n)
			}
			s.flushStats(ctx)
		}
	}
}

// flushStats caches the balancer snapshot in Redis for external dashboards.
func (s *Scheduler) flushStats(ctx context.Context) {
	if s.statsRdb == nil {
		return
	}
	snap := s.balancer.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[scheduler] marshal stats error: %v", err)
		return
	}
	if err := s.statsRdb.Set(ctx, model.GPUStatsKey, data, s.opts.StatsTTL).Err(); err != nil {
		log.Printf("[scheduler] flush stats error: %v", err)
	}
}

// sleep waits for d or until ctx is cancelled.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

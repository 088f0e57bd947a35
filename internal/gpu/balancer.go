package gpu

import (
	"log"
	"sort"
	"sync"
	"time"
)

// softDisableThreshold is the error count after which a device is excluded
// from candidate selection until manually reset.
const softDisableThreshold = 5

// status is a device's live state, mutated only under the balancer lock.
type status struct {
	busy             bool
	queueLength      int
	currentTask      string
	totalGenerations int64
	totalTime        time.Duration
	errorCount       int
	disabled         bool
	lastUsed         time.Time
	order            int // registration order, final tie-break
}

// DeviceStatus is a read-only copy of a device's state for snapshots.
type DeviceStatus struct {
	DeviceID         string        `json:"device_id"`
	Busy             bool          `json:"busy"`
	QueueLength      int           `json:"queue_length"`
	CurrentTask      string        `json:"current_task,omitempty"`
	TotalGenerations int64         `json:"total_generations"`
	TotalTime        time.Duration `json:"total_time"`
	ErrorCount       int           `json:"error_count"`
	Disabled         bool          `json:"disabled"`
	LastUsed         time.Time     `json:"last_used"`
}

// Snapshot aggregates all device statuses for the admin surface.
type Snapshot struct {
	Devices          []DeviceStatus `json:"devices"`
	TotalGenerations int64          `json:"total_generations"`
	TotalErrors      int64          `json:"total_errors"`
	AverageTime      float64        `json:"average_generation_time"` // seconds
}

// Balancer selects devices for tasks and tracks their live state. Safe for
// concurrent use by multiple worker loops; the internal mutex is the sole
// serialization point of the scheduler.
type Balancer interface {
	// Acquire picks the best device for a task. Priority tasks mark the
	// device busy; normal tasks increment its queue depth. Returns ok=false
	// when no device is selectable.
	Acquire(priority bool, taskID string) (deviceID string, ok bool)

	// Release undoes one acquisition and records timing stats. Must be
	// called exactly once per successful Acquire, on every exit path.
	Release(deviceID string, elapsed time.Duration)

	// MarkError bumps the device error counter; past the soft threshold the
	// device is excluded from selection until ResetErrors.
	MarkError(deviceID, reason string)

	// ResetErrors clears the error counter and re-enables the device.
	ResetErrors(deviceID string)

	// SweepStale force-releases devices whose in-flight task exceeded
	// maxAge, reclaiming capacity lost to crashed workers. Returns the
	// number of devices reclaimed.
	SweepStale(maxAge time.Duration) int

	// Snapshot returns a deep copy of all device state plus aggregates.
	Snapshot() Snapshot
}

type balancer struct {
	mu       sync.Mutex
	statuses map[string]*status
	ids      []string // registration order
	now      func() time.Time
}

// NewBalancer builds a balancer over the registry's validated devices.
func NewBalancer(reg *Registry) Balancer {
	b := &balancer{
		statuses: make(map[string]*status),
		now:      time.Now,
	}
	for i, d := range reg.Devices() {
		b.statuses[d.ID] = &status{order: i}
		b.ids = append(b.ids, d.ID)
	}
	return b
}

func (b *balancer) Acquire(priority bool, taskID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Availability tiering is strict: fully idle beats idle-but-queued
	// beats saturated, regardless of any other metric.
	candidates := b.candidates(func(s *status) bool { return !s.busy && s.queueLength == 0 })
	if len(candidates) == 0 {
		candidates = b.candidates(func(s *status) bool { return !s.busy })
	}
	if len(candidates) == 0 {
		candidates = b.candidates(func(s *status) bool { return true })
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := b.statuses[candidates[i]], b.statuses[candidates[j]]
		if si.queueLength != sj.queueLength {
			return si.queueLength < sj.queueLength
		}
		if si.totalGenerations != sj.totalGenerations {
			return si.totalGenerations < sj.totalGenerations
		}
		return si.order < sj.order
	})

	selected := candidates[0]
	s := b.statuses[selected]
	if priority {
		s.busy = true
		s.currentTask = taskID
	} else {
		s.queueLength++
	}
	s.lastUsed = b.now()

	log.Printf("[gpu] assigned device %s (priority=%v task=%s)", selected, priority, taskID)
	return selected, true
}

// candidates filters non-disabled devices by pred, in registration order.
// Caller must hold the lock.
func (b *balancer) candidates(pred func(*status) bool) []string {
	var out []string
	for _, id := range b.ids {
		s := b.statuses[id]
		if s.disabled {
			continue
		}
		if pred(s) {
			out = append(out, id)
		}
	}
	return out
}

func (b *balancer) Release(deviceID string, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.statuses[deviceID]
	if !ok {
		return
	}

	if s.queueLength > 0 {
		s.queueLength--
	} else {
		s.busy = false
		s.currentTask = ""
	}

	s.totalGenerations++
	s.totalTime += elapsed
	s.lastUsed = b.now()

	log.Printf("[gpu] released device %s, elapsed %.1fs", deviceID, elapsed.Seconds())
}

func (b *balancer) MarkError(deviceID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.statuses[deviceID]
	if !ok {
		return
	}

	s.errorCount++
	log.Printf("[gpu] error on device %s (count=%d): %s", deviceID, s.errorCount, reason)

	if s.errorCount > softDisableThreshold && !s.disabled {
		s.disabled = true
		log.Printf("[gpu] device %s soft-disabled after repeated errors", deviceID)
	}
}

func (b *balancer) ResetErrors(deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.statuses[deviceID]; ok {
		s.errorCount = 0
		s.disabled = false
		log.Printf("[gpu] device %s error count reset", deviceID)
	}
}

func (b *balancer) SweepStale(maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	reclaimed := 0
	for _, id := range b.ids {
		s := b.statuses[id]
		if s.currentTask == "" || s.lastUsed.IsZero() {
			continue
		}
		if now.Sub(s.lastUsed) <= maxAge {
			continue
		}

		// The task itself is lost; only the device capacity is recovered.
		log.Printf("[gpu] stale task %s on device %s, force-releasing", s.currentTask, id)
		s.busy = false
		s.currentTask = ""
		s.errorCount++
		s.lastUsed = now
		reclaimed++
	}
	return reclaimed
}

func (b *balancer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{}
	var totalTime time.Duration
	for _, id := range b.ids {
		s := b.statuses[id]
		snap.Devices = append(snap.Devices, DeviceStatus{
			DeviceID:         id,
			Busy:             s.busy,
			QueueLength:      s.queueLength,
			CurrentTask:      s.currentTask,
			TotalGenerations: s.totalGenerations,
			TotalTime:        s.totalTime,
			ErrorCount:       s.errorCount,
			Disabled:         s.disabled,
			LastUsed:         s.lastUsed,
		})
		snap.TotalGenerations += s.totalGenerations
		snap.TotalErrors += int64(s.errorCount)
		totalTime += s.totalTime
	}
	if snap.TotalGenerations > 0 {
		snap.AverageTime = totalTime.Seconds() / float64(snap.TotalGenerations)
	}
	return snap
}

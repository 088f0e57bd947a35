package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dreamforge-ai/dreamforge/internal/model"
)

func TestDequeueEmptyQueue(t *testing.T) {
	q := NewMemoryQueue()

	task, ok, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if ok || task != nil {
		t.Errorf("Dequeue on empty queue = (%v, %v), want (nil, false)", task, ok)
	}
}

func TestPriorityTierDrainsFirst(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	q.Enqueue(ctx, &model.GenerationTask{TaskID: "n1"}, false)
	q.Enqueue(ctx, &model.GenerationTask{TaskID: "p1"}, true)
	q.Enqueue(ctx, &model.GenerationTask{TaskID: "n2"}, false)
	q.Enqueue(ctx, &model.GenerationTask{TaskID: "p2"}, true)

	var order []string
	for {
		task, ok, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if !ok {
			break
		}
		order = append(order, task.TaskID)
	}

	want := []string{"p1", "p2", "n1", "n2"}
	if len(order) != len(want) {
		t.Fatalf("drained %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("drained %v, want %v", order, want)
		}
	}
}

func TestFIFOWithinTier(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		q.Enqueue(ctx, &model.GenerationTask{TaskID: fmt.Sprintf("t%d", i)}, false)
	}

	for i := 0; i < 5; i++ {
		task, ok, err := q.Dequeue(ctx)
		if err != nil || !ok {
			t.Fatalf("Dequeue %d: ok=%v err=%v", i, ok, err)
		}
		if want := fmt.Sprintf("t%d", i); task.TaskID != want {
			t.Errorf("position %d: got %s, want %s", i, task.TaskID, want)
		}
	}
}

func TestLenPerTier(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	q.Enqueue(ctx, &model.GenerationTask{TaskID: "p"}, true)
	q.Enqueue(ctx, &model.GenerationTask{TaskID: "n1"}, false)
	q.Enqueue(ctx, &model.GenerationTask{TaskID: "n2"}, false)

	if n, _ := q.Len(ctx, TierPriority); n != 1 {
		t.Errorf("priority len = %d, want 1", n)
	}
	if n, _ := q.Len(ctx, TierNormal); n != 2 {
		t.Errorf("normal len = %d, want 2", n)
	}

	q.Dequeue(ctx)
	if n, _ := q.Len(ctx, TierPriority); n != 0 {
		t.Errorf("priority len after dequeue = %d, want 0", n)
	}
}

func TestTaskFieldsSurviveRoundTrip(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	created := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	in := &model.GenerationTask{
		TaskID:    "task-1",
		UserID:    "user-9",
		ChatID:    42,
		MessageID: 7,
		Prompt:    "a fox in the snow",
		Style:     "realistic",
		Quality:   "high",
		Size:      "768x768",
		Priority:  true,
		CreatedAt: created,
	}
	if err := q.Enqueue(ctx, in, in.Priority); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	out, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("Dequeue: ok=%v err=%v", ok, err)
	}
	if *out != *in {
		t.Errorf("round trip mutated task:\n got %+v\nwant %+v", out, in)
	}
}

func TestEnqueueCopiesTask(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	task := &model.GenerationTask{TaskID: "t1", Prompt: "original"}
	q.Enqueue(ctx, task, false)
	task.Prompt = "mutated after enqueue"

	out, _, _ := q.Dequeue(ctx)
	if out.Prompt != "original" {
		t.Errorf("Prompt = %q, queued task should be isolated from caller mutation", out.Prompt)
	}
}

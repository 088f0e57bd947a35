package ws

import (
	"encoding/json"
	"testing"

	"github.com/dreamforge-ai/dreamforge/internal/model"
)

func testClient(id string, buf int) *Client {
	return &Client{ConsumerID: id, send: make(chan []byte, buf)}
}

func TestRegisterUnregister(t *testing.T) {
	h := NewHub()
	c := testClient("c1", 1)

	h.Register(c)
	if h.ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", h.ClientCount())
	}

	h.Unregister(c)
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", h.ClientCount())
	}
}

func TestBroadcastResultEnvelope(t *testing.T) {
	h := NewHub()
	c := testClient("c1", 1)
	h.Register(c)

	h.BroadcastResult(&model.GenerationResult{
		TaskID: "task-1",
		Status: model.ResultStatusCompleted,
	})

	select {
	case data := <-c.send:
		var env struct {
			Type    model.MsgType          `json:"type"`
			Payload model.GenerationResult `json:"payload"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if env.Type != model.MsgTypeResult {
			t.Errorf("Type = %s, want %s", env.Type, model.MsgTypeResult)
		}
		if env.Payload.TaskID != "task-1" {
			t.Errorf("Payload.TaskID = %q, want task-1", env.Payload.TaskID)
		}
	default:
		t.Fatal("no frame delivered to connected consumer")
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	h := NewHub()
	c := testClient("slow", 1)
	h.Register(c)

	h.BroadcastResult(&model.GenerationResult{TaskID: "t1"})
	h.BroadcastResult(&model.GenerationResult{TaskID: "t2"}) // buffer full, dropped

	if got := len(c.send); got != 1 {
		t.Errorf("buffered frames = %d, want 1 (overflow dropped, not blocked)", got)
	}
}

func TestBroadcastReachesAllConsumers(t *testing.T) {
	h := NewHub()
	clients := []*Client{testClient("a", 1), testClient("b", 1), testClient("c", 1)}
	for _, c := range clients {
		h.Register(c)
	}

	h.BroadcastResult(&model.GenerationResult{TaskID: "t1"})

	for _, c := range clients {
		if len(c.send) != 1 {
			t.Errorf("consumer %s got %d frames, want 1", c.ConsumerID, len(c.send))
		}
	}
}

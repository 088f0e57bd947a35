package model

import (
	"time"
)

// ─────────────────────────────────────────────
// Task State Machine
// ─────────────────────────────────────────────

type ResultStatus string

const (
	ResultStatusCompleted ResultStatus = "completed"
	ResultStatusFailed    ResultStatus = "failed"
)

// ─────────────────────────────────────────────
// Core Domain Models
// ─────────────────────────────────────────────

// GenerationTask is one unit of image-generation work. It is created by the
// submitter, serialized onto a queue tier, and popped exactly once by a worker.
// All fields are immutable after enqueue.
type GenerationTask struct {
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	ChatID    int64     `json:"chat_id"`
	MessageID int64     `json:"message_id"`
	Prompt    string    `json:"prompt"`
	Style     string    `json:"style"`
	Quality   string    `json:"quality"`
	Size      string    `json:"size"`
	Priority  bool      `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// GenerationResult is the terminal outcome of a task, published once per task
// and consumed by the chat surface.
type GenerationResult struct {
	TaskID    string       `json:"task_id"`
	UserID    string       `json:"user_id"`
	ChatID    int64        `json:"chat_id"`
	MessageID int64        `json:"message_id"`
	Prompt    string       `json:"prompt"`
	Status    ResultStatus `json:"status"`
	ImageURL  string       `json:"image_url,omitempty"`
	Error     string       `json:"error,omitempty"`
	Elapsed   float64      `json:"elapsed_seconds,omitempty"`
}

// ─────────────────────────────────────────────
// Redis key layout
// ─────────────────────────────────────────────

const (
	// PriorityQueueKey holds serialized tasks from premium/pro submitters.
	PriorityQueueKey = "queue:priority"

	// GenerationQueueKey holds serialized tasks from everyone else.
	GenerationQueueKey = "queue:generation"

	// ResultsQueueKey is BRPOP'd by the chat surface for delivery.
	ResultsQueueKey = "queue:results"

	// GPUStatsKey caches the balancer snapshot for external dashboards.
	GPUStatsKey = "gpu:stats"
)

// ─────────────────────────────────────────────
// WebSocket Protocol Messages
// ─────────────────────────────────────────────

type MsgType string

const (
	// Server → Consumer
	MsgTypeResult MsgType = "GENERATION_RESULT"
)

// Envelope is the top-level WebSocket frame.
type Envelope struct {
	Type    MsgType     `json:"type"`
	Payload interface{} `json:"payload"`
}

// ─────────────────────────────────────────────
// SQL Persistence Models (async write)
// ─────────────────────────────────────────────

// GenerationLog records every task lifecycle event (one record per task).
type GenerationLog struct {
	TaskID     string       `gorm:"primaryKey" json:"task_id"`
	UserID     string       `gorm:"index" json:"user_id"`
	Prompt     string       `json:"prompt"`
	Style      string       `json:"style"`
	Quality    string       `json:"quality"`
	Size       string       `json:"size"`
	Priority   bool         `json:"priority"`
	DeviceID   string       `json:"device_id"`
	Status     ResultStatus `json:"status"`
	ImageURL   string       `json:"image_url"`
	Attempts   int          `json:"attempts"`
	Elapsed    float64      `json:"elapsed_seconds"`
	CreatedAt  time.Time    `json:"created_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// ─────────────────────────────────────────────
// HTTP Request / Response
// ─────────────────────────────────────────────

// GenerateRequest is the inbound API request from the chat surface.
// Priority and size are decided by the caller's subscription tier; the
// scheduler treats them as inert payload.
type GenerateRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Prompt    string `json:"prompt" binding:"required"`
	Style     string `json:"style"`
	Quality   string `json:"quality"`
	Size      string `json:"size"`
	Priority  bool   `json:"priority"`
}

// GenerateResponse acknowledges a queued task.
type GenerateResponse struct {
	TaskID        string `json:"task_id"`
	QueuePosition int64  `json:"queue_position"`
	EstimatedSecs int64  `json:"estimated_seconds"`
}

// QueueDepthResponse reports per-tier queue depths.
type QueueDepthResponse struct {
	Priority int64 `json:"priority"`
	Normal   int64 `json:"normal"`
}

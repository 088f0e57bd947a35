package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dreamforge-ai/dreamforge/internal/backend"
	"github.com/dreamforge-ai/dreamforge/internal/model"
	"github.com/dreamforge-ai/dreamforge/internal/queue"
	"github.com/dreamforge-ai/dreamforge/internal/store"
)

// Service errors
var (
	ErrPromptTooShort = errors.New("prompt too short (minimum 3 characters)")
	ErrPromptTooLong  = errors.New("prompt too long (maximum 500 characters)")
)

const (
	minPromptLen = 3
	maxPromptLen = 500

	// Rough per-image latency used to turn queue position into an ETA.
	secondsPerImage = 25

	defaultStyle   = "realistic"
	defaultQuality = backend.QualityStandard
	defaultSize    = "512x512"
)

// GenerationService validates and admits generation requests. It purely
// enqueues; execution is asynchronous and results flow back through the
// result publisher.
type GenerationService struct {
	queue  queue.Queue
	styles *backend.StyleBook
	store  *store.Store // optional
}

// NewGenerationService creates the service. store may be nil.
func NewGenerationService(q queue.Queue, styles *backend.StyleBook, st *store.Store) *GenerationService {
	return &GenerationService{
		queue:  q,
		styles: styles,
		store:  st,
	}
}

// Submit validates the request, assigns a task ID, enqueues the task on its
// tier, and reports the queue position with an ETA estimate.
func (s *GenerationService) Submit(ctx context.Context, req *model.GenerateRequest) (*model.GenerateResponse, error) {
	if len(req.Prompt) < minPromptLen {
		return nil, ErrPromptTooShort
	}
	if len(req.Prompt) > maxPromptLen {
		return nil, ErrPromptTooLong
	}

	task := &model.GenerationTask{
		TaskID:    uuid.New().String(),
		UserID:    req.UserID,
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		Prompt:    req.Prompt,
		Style:     req.Style,
		Quality:   req.Quality,
		Size:      req.Size,
		Priority:  req.Priority,
		CreatedAt: time.Now().UTC(),
	}
	if task.Style == "" || !s.styles.Known(task.Style) {
		task.Style = defaultStyle
	}
	if task.Quality == "" {
		task.Quality = defaultQuality
	}
	if task.Size == "" {
		task.Size = defaultSize
	}

	if err := s.queue.Enqueue(ctx, task, task.Priority); err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	tier := queue.TierNormal
	if task.Priority {
		tier = queue.TierPriority
	}
	position, err := s.queue.Len(ctx, tier)
	if err != nil {
		log.Printf("[service] queue length error: %v", err)
		position = 0 // the task is queued; position is informational only
	}

	if s.store != nil {
		s.store.LogTaskCreated(task)
	}

	log.Printf("[service] queued task %s user=%s style=%s quality=%s size=%s priority=%v position=%d",
		task.TaskID, task.UserID, task.Style, task.Quality, task.Size, task.Priority, position)

	return &model.GenerateResponse{
		TaskID:        task.TaskID,
		QueuePosition: position,
		EstimatedSecs: position * secondsPerImage,
	}, nil
}

// QueueDepths reports the current depth of both tiers.
func (s *GenerationService) QueueDepths(ctx context.Context) (*model.QueueDepthResponse, error) {
	prio, err := s.queue.Len(ctx, queue.TierPriority)
	if err != nil {
		return nil, fmt.Errorf("priority queue length: %w", err)
	}
	normal, err := s.queue.Len(ctx, queue.TierNormal)
	if err != nil {
		return nil, fmt.Errorf("normal queue length: %w", err)
	}
	return &model.QueueDepthResponse{Priority: prio, Normal: normal}, nil
}

package store

import (
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dreamforge-ai/dreamforge/internal/model"
)

// Store provides SQL persistence via GORM (async writes). Generation logs are
// observability records; losing one on crash is acceptable, so writes never
// block the worker loop.
type Store struct {
	db    *gorm.DB
	logCh chan func() // buffered channel for async writes
}

// NewStore opens the database, auto-migrates schemas, and
// starts the background write worker.
func NewStore(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.GenerationLog{}); err != nil {
		return nil, err
	}

	s := &Store{
		db:    db,
		logCh: make(chan func(), 1024),
	}
	go s.writeWorker()

	return s, nil
}

func (s *Store) writeWorker() {
	for fn := range s.logCh {
		fn()
	}
}

// DB returns the underlying GORM database instance.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ─────────────────────────────────────────────
// Async write helpers
// ─────────────────────────────────────────────

// LogTaskCreated records a newly enqueued task.
func (s *Store) LogTaskCreated(task *model.GenerationTask) {
	s.logCh <- func() {
		gl := model.GenerationLog{
			TaskID:    task.TaskID,
			UserID:    task.UserID,
			Prompt:    task.Prompt,
			Style:     task.Style,
			Quality:   task.Quality,
			Size:      task.Size,
			Priority:  task.Priority,
			CreatedAt: task.CreatedAt,
		}
		if err := s.db.Create(&gl).Error; err != nil {
			log.Printf("[store] log task created error: %v", err)
		}
	}
}

// LogTaskFinished updates the generation log with the terminal outcome.
func (s *Store) LogTaskFinished(taskID, deviceID string, status model.ResultStatus, imageURL string, attempts int, elapsed time.Duration) {
	s.logCh <- func() {
		now := time.Now()
		s.db.Model(&model.GenerationLog{}).
			Where("task_id = ?", taskID).
			Updates(map[string]interface{}{
				"device_id":   deviceID,
				"status":      status,
				"image_url":   imageURL,
				"attempts":    attempts,
				"elapsed":     elapsed.Seconds(),
				"finished_at": &now,
			})
	}
}

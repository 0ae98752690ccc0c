package data

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// SyncRun is one audit row per sync attempt.
type SyncRun struct {
	ID            string `gorm:"primaryKey;size:36"`
	Mode          string `gorm:"size:16;not null"`
	Forced        bool
	Decision      string `gorm:"size:16"`
	Proposals     int
	Actors        int
	Votes         int
	Skipped       int
	VoteErrors    int
	ProfileErrors int
	Partial       bool
	Fingerprint   string    `gorm:"size:32"`
	Error         string    `gorm:"type:text"`
	StartedAt     time.Time `gorm:"index"`
	FinishedAt    time.Time
	DurationMs    int64
}

func (SyncRun) TableName() string { return "sync_runs" }

// RunRecorder persists sync audit rows.
type RunRecorder struct {
	db *gorm.DB
}

func NewRunRecorder(db *gorm.DB) *RunRecorder {
	return &RunRecorder{db: db}
}

// Migrate creates the tables this package owns.
func (r *RunRecorder) Migrate() error {
	return r.db.AutoMigrate(&Setting{}, &SyncRun{})
}

func (r *RunRecorder) Record(ctx context.Context, run *SyncRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Recent returns the latest runs, newest first.
func (r *RunRecorder) Recent(ctx context.Context, limit int) ([]SyncRun, error) {
	var runs []SyncRun
	err := r.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}

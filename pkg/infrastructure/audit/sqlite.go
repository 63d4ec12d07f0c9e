package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// releaseRow is the gorm model behind the sqlite store. The context tree is
// stored as a JSON blob; queries filter on the indexed identity columns.
type releaseRow struct {
	ID          uint      `gorm:"primaryKey"`
	Name        string    `gorm:"index:idx_release,priority:1"`
	Type        string    `gorm:"size:32"`
	Release     time.Time `gorm:"index:idx_release,priority:2"`
	RunID       string    `gorm:"uniqueIndex;size:64"`
	ParentRunID string    `gorm:"size:64"`
	Context     []byte
	UpdatedAt   time.Time
}

func (releaseRow) TableName() string { return "workflow_audits" }

// SQLiteStore persists audit records in a sqlite database.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (and migrates) the database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&releaseRow{}); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save writes one record. Saving the same run id twice is an upsert so a
// retried terminal write stays exactly-once.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	blob, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("marshal audit context: %w", err)
	}
	row := releaseRow{
		Name:        rec.Name,
		Type:        rec.Type,
		Release:     rec.Release,
		RunID:       rec.RunID,
		ParentRunID: rec.ParentRunID,
		Context:     blob,
		UpdatedAt:   rec.UpdatedAt,
	}
	return s.db.WithContext(ctx).
		Where(releaseRow{RunID: rec.RunID}).
		Assign(row).
		FirstOrCreate(&releaseRow{}).Error
}

// Find returns the most recent record for a workflow, if any.
func (s *SQLiteStore) Find(ctx context.Context, name string) (*Record, error) {
	var row releaseRow
	err := s.db.WithContext(ctx).
		Where("name = ?", name).
		Order("release DESC").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	rec := &Record{
		Name:        row.Name,
		Type:        row.Type,
		Release:     row.Release,
		RunID:       row.RunID,
		ParentRunID: row.ParentRunID,
		UpdatedAt:   row.UpdatedAt,
	}
	if len(row.Context) > 0 {
		if err := json.Unmarshal(row.Context, &rec.Context); err != nil {
			return nil, fmt.Errorf("unmarshal audit context: %w", err)
		}
	}
	return rec, nil
}

func (s *SQLiteStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

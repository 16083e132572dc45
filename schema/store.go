package schema

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Revision statuses.
const (
	StatusInstalled  = "installed"
	StatusRejected   = "rejected"
	StatusRolledBack = "rolled_back"
)

// Revision is one audit record of a candidate the reconciler handled.
type Revision struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Version   uint64    `gorm:"not null;index" json:"version"`
	Checksum  string    `gorm:"size:64;not null;index" json:"checksum"`
	Source    string    `gorm:"size:512" json:"source"`
	Status    string    `gorm:"size:16;not null" json:"status"`
	Reason    string    `gorm:"type:text" json:"reason,omitempty"`
	SDLSize   int       `gorm:"column:sdl_size" json:"sdl_size"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName implements gorm's tabler.
func (Revision) TableName() string {
	return "schema_revisions"
}

// RevisionStore persists revisions. Failures never block an install.
type RevisionStore interface {
	Record(ctx context.Context, rev *Revision) error
	List(ctx context.Context, limit int) ([]Revision, error)
}

// =============================================================================
// 内存实现
// =============================================================================

// MemoryRevisionStore keeps the most recent revisions in memory.
type MemoryRevisionStore struct {
	mu     sync.RWMutex
	revs   []Revision
	max    int
	nextID uint
}

// NewMemoryRevisionStore creates a store keeping at most max records (<=0 means 1000).
func NewMemoryRevisionStore(max int) *MemoryRevisionStore {
	if max <= 0 {
		max = 1000
	}
	return &MemoryRevisionStore{max: max}
}

// Record appends rev.
func (s *MemoryRevisionStore) Record(_ context.Context, rev *Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rev.ID = s.nextID
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now()
	}
	s.revs = append(s.revs, *rev)
	if len(s.revs) > s.max {
		s.revs = s.revs[len(s.revs)-s.max:]
	}
	return nil
}

// List returns up to limit revisions, newest first.
func (s *MemoryRevisionStore) List(_ context.Context, limit int) ([]Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.revs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Revision, 0, n)
	for i := len(s.revs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.revs[i])
	}
	return out, nil
}

// =============================================================================
// GORM 实现
// =============================================================================

// GormRevisionStore stores revisions in the schema_revisions table.
// The table is created by the SQL migrations.
type GormRevisionStore struct {
	db *gorm.DB
}

// NewGormRevisionStore wraps db.
func NewGormRevisionStore(db *gorm.DB) *GormRevisionStore {
	return &GormRevisionStore{db: db}
}

// Record inserts rev.
func (s *GormRevisionStore) Record(ctx context.Context, rev *Revision) error {
	if err := s.db.WithContext(ctx).Create(rev).Error; err != nil {
		return fmt.Errorf("record schema revision v%d: %w", rev.Version, err)
	}
	return nil
}

// List returns up to limit revisions, newest first.
func (s *GormRevisionStore) List(ctx context.Context, limit int) ([]Revision, error) {
	var out []Revision
	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list schema revisions: %w", err)
	}
	return out, nil
}

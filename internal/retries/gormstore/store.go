// Package gormstore persists retry records in a relational table through gorm.
package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/imrishuroy/go-route-retry/internal/retries"
)

// Store implements retries.Store on top of a gorm connection.
type Store struct {
	db      *gorm.DB
	table   string
	nowFunc func() time.Time
}

// New returns a Store bound to table (DefaultTable when empty).
func New(db *gorm.DB, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: table, nowFunc: time.Now}
}

// Open connects to driver ("sqlite" or "postgres") with dsn.
func Open(driver, dsn string, logLevel logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, errors.New("gormstore: unsupported driver " + driver)
	}
	return gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logLevel)})
}

// Migrate creates or updates the retry table.
func (s *Store) Migrate() error {
	if err := s.db.Table(s.table).AutoMigrate(&recordModel{}); err != nil {
		return &retries.StorageError{Op: "migrate", Err: err}
	}
	return nil
}

func (s *Store) tx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

func (s *Store) Insert(ctx context.Context, rec *retries.Record) (int64, error) {
	now := s.nowFunc()
	if rec.Status == "" {
		rec.Status = retries.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	m := toModel(rec)
	m.ID = 0
	if err := s.tx(ctx).Create(m).Error; err != nil {
		return 0, &retries.StorageError{Op: "insert", Err: err}
	}
	rec.ID = m.ID
	return m.ID, nil
}

func (s *Store) FindPendingByFingerprint(ctx context.Context, fp string) (*retries.Record, error) {
	if fp == "" {
		return nil, nil
	}
	var m recordModel
	err := s.tx(ctx).
		Where("status = ?", string(retries.StatusPending)).
		Where("fingerprint = ?", fp).
		Order("id asc").
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &retries.StorageError{Op: "find pending", Err: err}
	}
	r := fromModel(&m)
	return &r, nil
}

func (s *Store) QueryDue(ctx context.Context, f retries.Filter) ([]retries.Record, error) {
	now := s.nowFunc()
	q := s.tx(ctx).
		Where("status = ?", string(retries.StatusPending)).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now)

	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if f.Tag != "" {
		// tags is a JSON array column; match the quoted element, then re-check in Go.
		q = q.Where("tags LIKE ?", `%"`+f.Tag+`"%`)
	}
	if f.Fingerprint != "" {
		q = q.Where("fingerprint = ?", f.Fingerprint)
	}

	var models []recordModel
	if err := q.Order("id asc").Find(&models).Error; err != nil {
		return nil, &retries.StorageError{Op: "query due", Err: err}
	}

	out := make([]retries.Record, 0, len(models))
	for i := range models {
		r := fromModel(&models[i])
		if f.Match(r, now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*retries.Record, error) {
	var m recordModel
	if err := s.tx(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, retries.ErrNotFound
		}
		return nil, &retries.StorageError{Op: "get", Err: err}
	}
	r := fromModel(&m)
	return &r, nil
}

func (s *Store) List(ctx context.Context, opts retries.ListOptions) ([]retries.Record, error) {
	q := s.tx(ctx).Order("id desc")
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	var models []recordModel
	if err := q.Find(&models).Error; err != nil {
		return nil, &retries.StorageError{Op: "list", Err: err}
	}
	out := make([]retries.Record, 0, len(models))
	for i := range models {
		out = append(out, fromModel(&models[i]))
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, id int64, p retries.Patch) error {
	updates := map[string]any{"updated_at": s.nowFunc()}
	if p.Status != nil {
		updates["status"] = string(*p.Status)
	}
	if p.RetriesCount != nil {
		updates["retries_count"] = *p.RetriesCount
	}
	if p.NextAttemptAt != nil {
		updates["next_attempt_at"] = *p.NextAttemptAt
	}

	q := s.tx(ctx).Where("id = ?", id)
	if p.ExpectStatus != nil {
		q = q.Where("status = ?", string(*p.ExpectStatus))
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return &retries.StorageError{Op: "update", Err: res.Error}
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// nothing matched: tell a missing row apart from a failed guard
	var count int64
	if err := s.tx(ctx).Where("id = ?", id).Count(&count).Error; err != nil {
		return &retries.StorageError{Op: "update", Err: err}
	}
	if count == 0 {
		return retries.ErrNotFound
	}
	return retries.ErrStatusMismatch
}

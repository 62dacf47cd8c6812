package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/dbctx"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
)

// DocumentRow is one stored document.
type DocumentRow struct {
	Path       string         `gorm:"column:path;type:text;primaryKey" json:"path"`
	Collection string         `gorm:"column:collection;type:text;not null;index" json:"collection"`
	DocID      string         `gorm:"column:doc_id;type:text;not null" json:"doc_id"`
	Data       datatypes.JSON `gorm:"column:data;not null" json:"data"`
	Version    int64          `gorm:"column:version;not null" json:"version"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (DocumentRow) TableName() string { return "documents" }

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&DocumentRow{})
}

type GormStore struct {
	db       *gorm.DB
	log      *logger.Logger
	notifier Notifier
	now      func() time.Time
}

type Option func(*GormStore)

func WithNotifier(n Notifier) Option { return func(s *GormStore) { s.notifier = n } }

func WithClock(now func() time.Time) Option { return func(s *GormStore) { s.now = now } }

func NewGormStore(db *gorm.DB, baseLog *logger.Logger, opts ...Option) *GormStore {
	s := &GormStore{
		db:  db,
		log: baseLog.With("component", "DocStore"),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNotifier attaches the change sink after construction; the bus and the store
// reference each other at wiring time.
func (s *GormStore) SetNotifier(n Notifier) { s.notifier = n }

func (s *GormStore) Get(ctx context.Context, path Path) (*Snapshot, error) {
	if err := validateDocumentPath(path); err != nil {
		return nil, err
	}
	row, err := s.loadRow(dbctx.Context{Ctx: ctx}, path, false)
	if err != nil {
		return nil, err
	}
	return row.snapshot()
}

func (s *GormStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	if err := validateCollectionPath(q.Collection); err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Model(&DocumentRow{}).Where("collection = ?", string(q.Collection))
	for _, f := range q.Filters {
		keys := strings.Split(f.Field, ".")
		tx = tx.Where(datatypes.JSONQuery("data").Equals(f.Value, keys...))
	}
	tx = tx.Order("path")
	// Ordering by JSON values is dialect specific; it runs on the filtered rows instead.
	if q.Limit > 0 && len(q.OrderBy) == 0 {
		tx = tx.Limit(q.Limit)
	}
	var rows []*DocumentRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	out := make([]*Snapshot, 0, len(rows))
	for _, r := range rows {
		snap, err := r.snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	out = sortSnapshots(out, q.OrderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *GormStore) Set(ctx context.Context, path Path, data Fields) error {
	return s.write(ctx, path, func(before *Snapshot) (Fields, bool, error) {
		return data, false, nil
	})
}

func (s *GormStore) Update(ctx context.Context, path Path, data Fields) error {
	return s.write(ctx, path, func(before *Snapshot) (Fields, bool, error) {
		if before == nil {
			return nil, false, fmt.Errorf("update %s: %w", path, ErrNotFound)
		}
		return Merge(before.Data, data), false, nil
	})
}

func (s *GormStore) Delete(ctx context.Context, path Path) error {
	return s.write(ctx, path, func(before *Snapshot) (Fields, bool, error) {
		return nil, true, nil
	})
}

type mutation func(before *Snapshot) (next Fields, remove bool, err error)

// write runs read-modify-write in one transaction, guarded by the row version,
// and notifies after commit.
func (s *GormStore) write(ctx context.Context, path Path, mutate mutation) error {
	if err := validateDocumentPath(path); err != nil {
		return err
	}
	var change *Change
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		row, err := s.loadRow(dbc, path, true)
		if err != nil {
			return err
		}
		before, err := row.snapshot()
		if err != nil {
			return err
		}
		next, remove, err := mutate(before)
		if err != nil {
			return err
		}
		now := s.now()
		switch {
		case remove && before == nil:
			return nil
		case remove:
			res := dbc.DB(s.db).Where("path = ? AND version = ?", string(path), before.Version).Delete(&DocumentRow{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("delete %s: %w", path, ErrConflict)
			}
			change = &Change{Path: path, Before: before, Time: now}
			return nil
		}

		normalized, err := Normalize(stripDeletes(next))
		if err != nil {
			return err
		}
		raw, err := json.Marshal(normalized)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		if before == nil {
			created := &DocumentRow{
				Path:       string(path),
				Collection: string(path.Parent()),
				DocID:      path.ID(),
				Data:       datatypes.JSON(raw),
				Version:    1,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := dbc.DB(s.db).Create(created).Error; err != nil {
				return err
			}
			change = &Change{Path: path, After: &Snapshot{Path: path, Data: normalized, Version: 1, UpdateTime: now}, Time: now}
			return nil
		}
		res := dbc.DB(s.db).Model(&DocumentRow{}).
			Where("path = ? AND version = ?", string(path), before.Version).
			Updates(map[string]any{
				"data":       datatypes.JSON(raw),
				"version":    before.Version + 1,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("write %s: %w", path, ErrConflict)
		}
		change = &Change{
			Path:   path,
			Before: before,
			After:  &Snapshot{Path: path, Data: normalized, Version: before.Version + 1, UpdateTime: now},
			Time:   now,
		}
		return nil
	})
	if err != nil {
		return err
	}
	if change == nil || s.notifier == nil {
		return nil
	}
	change.ID = uuid.NewString()
	// Known gap: there is no outbox, so a failed publish after commit loses
	// the change. A retried identical write is a no-op and will not re-emit it.
	if err := s.notifier.NotifyWrite(ctx, *change); err != nil {
		s.log.Error("change lost: committed write was not published",
			"path", string(path),
			"change_id", change.ID,
			"error", err,
		)
		return fmt.Errorf("notify %s: %w: %w", path, ErrNotPublished, err)
	}
	return nil
}

func (s *GormStore) loadRow(dbc dbctx.Context, path Path, forUpdate bool) (*DocumentRow, error) {
	tx := dbc.DB(s.db)
	if forUpdate && tx.Dialector.Name() == "postgres" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rows []*DocumentRow
	if err := tx.Where("path = ?", string(path)).Limit(1).Find(&rows).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *DocumentRow) snapshot() (*Snapshot, error) {
	if r == nil {
		return nil, nil
	}
	data, err := decodeFields(r.Data)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", r.Path, err)
	}
	return &Snapshot{
		Path:       Path(r.Path),
		Data:       data,
		Version:    r.Version,
		UpdateTime: r.UpdatedAt.UTC(),
	}, nil
}

func stripDeletes(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if isDelete(v) {
			continue
		}
		out[k] = v
	}
	return out
}

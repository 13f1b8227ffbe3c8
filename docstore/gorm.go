package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// document is the single-table layout backing the GORM store: one row per
// document, payload as a JSON column.
type document struct {
	Collection string `gorm:"primaryKey;size:64"`
	DocID      string `gorm:"primaryKey;size:64"`
	Data       []byte `gorm:"type:json"`
	UpdatedAt  time.Time
}

func (document) TableName() string { return "documents" }

// GormStore backs the document contract with MySQL via GORM. Conditional
// updates take a row lock inside a transaction, which gives the
// per-document atomicity the engine needs without multi-document
// transactions.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore opens the MySQL connection and migrates the documents table.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(&document{}); err != nil {
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an already-open connection (used by tests).
func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&document{}); err != nil {
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	var row document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return rowSnapshot(row)
}

func (s *GormStore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *GormStore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	row := document{Collection: collection, DocID: id, Data: raw, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&row).Error
}

func (s *GormStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.mutate(ctx, collection, id, func(doc map[string]any) error {
		for k, v := range fields {
			doc[k] = v
		}
		return nil
	})
}

func (s *GormStore) UpdateIf(ctx context.Context, collection, id, condField string, condValue any, fields map[string]any) error {
	return s.mutate(ctx, collection, id, func(doc map[string]any) error {
		if jsonCanon(doc[condField]) != jsonCanon(condValue) {
			return ErrConditionFailed
		}
		for k, v := range fields {
			doc[k] = v
		}
		return nil
	})
}

// mutate applies fn to the document payload under SELECT ... FOR UPDATE.
func (s *GormStore) mutate(ctx context.Context, collection, id string, fn func(map[string]any) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND doc_id = ?", collection, id).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var doc map[string]any
		if err := json.Unmarshal(row.Data, &doc); err != nil {
			return fmt.Errorf("decode document %s/%s: %w", collection, id, err)
		}
		if err := fn(doc); err != nil {
			return err
		}

		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return tx.Model(&document{}).
			Where("collection = ? AND doc_id = ?", collection, id).
			Updates(map[string]any{"data": raw, "updated_at": time.Now().UTC()}).Error
	})
}

func (s *GormStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	q := s.db.WithContext(ctx).Model(&document{}).Where("collection = ?", collection)
	for _, f := range filters {
		expr := fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(data, '$.%s'))", f.Field)
		switch f.Op {
		case OpEqual:
			q = q.Where(expr+" = ?", jsonCanon(f.Value))
		case OpLessEq:
			q = q.Where(expr+" <= ?", jsonCanon(f.Value))
		case OpGreater:
			q = q.Where(expr+" >= ?", jsonCanon(f.Value))
		case OpIn:
			q = q.Where(expr+" IN ?", canonSlice(f.Value))
		default:
			return nil, fmt.Errorf("docstore: unsupported filter op %q", f.Op)
		}
	}

	var rows []document
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := rowSnapshot(row)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func rowSnapshot(row document) (Snapshot, error) {
	var doc map[string]any
	if err := json.Unmarshal(row.Data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("decode document %s/%s: %w", row.Collection, row.DocID, err)
	}
	return Snapshot{ID: row.DocID, Data: doc}, nil
}

// jsonCanon folds a filter/condition value to the string MySQL's
// JSON_UNQUOTE produces for it.
func jsonCanon(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%v", n)
	case fmt.Stringer:
		return n.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func canonSlice(v any) []string {
	raw, _ := json.Marshal(v)
	var items []any
	_ = json.Unmarshal(raw, &items)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, jsonCanon(it))
	}
	return out
}

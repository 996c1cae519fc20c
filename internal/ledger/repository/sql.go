package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/chainstream/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type kvEntry struct {
	Namespace string `gorm:"primaryKey;size:128"`
	Value     []byte
	UpdatedAt time.Time
}

func (kvEntry) TableName() string { return "ledger_kv" }

// SQLStore keeps snapshots in a single key-value table.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, namespace string) ([]byte, error) {
	return getEntry(s.db.WithContext(ctx), namespace)
}

func (s *SQLStore) Set(ctx context.Context, namespace string, value []byte) error {
	return upsertEntry(s.db.WithContext(ctx), namespace, value)
}

// Update holds a row lock for the read-modify-write. SQLite has no row
// locks; its transactions already serialize writers.
func (s *SQLStore) Update(ctx context.Context, namespace string, fn domain.UpdateFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if tx.Dialector.Name() != "sqlite" {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		current, err := getEntry(query, namespace)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		return upsertEntry(tx, namespace, next)
	})
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func getEntry(db *gorm.DB, namespace string) ([]byte, error) {
	var entry kvEntry
	err := db.Where("namespace = ?", namespace).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func upsertEntry(db *gorm.DB, namespace string, value []byte) error {
	entry := kvEntry{
		Namespace: namespace,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return db.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
}

package activationstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

var _ ActivationStore = (*GormStore)(nil)

// Wraps the database handle, migrating the activation_records table if needed.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&ActivationRecord{}); err != nil {
		return nil, fmt.Errorf("migrating activation records: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Inserts inside a transaction, so a failed write leaves nothing behind.
func (s *GormStore) Insert(ctx context.Context, rec *ActivationRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to insert activation record: %w", err)
		}
		return nil
	})
}

func (s *GormStore) CountSince(ctx context.Context, user string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ActivationRecord{}).
		Where("user_id = ? AND activated_at >= ?", user, since).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *GormStore) CountTotal(ctx context.Context, user string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ActivationRecord{}).Where("user_id = ?", user).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (s *GormStore) Latest(ctx context.Context, user string) (*ActivationRecord, error) {
	var rec ActivationRecord
	err := s.db.WithContext(ctx).Where("user_id = ?", user).Order("activated_at DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("activated_at < ?", cutoff).Delete(&ActivationRecord{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

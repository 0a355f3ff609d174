// Durable log of adversarial-trigger activations.
//
// The log backs the hourly activation quota and is pruned by a periodic retention job. Implementations exist for SQL databases (via gorm) and in-process memory.
package activationstore

import (
	"context"
	"time"
)

type TriggerType string

const (
	TriggerEmotional TriggerType = "emotional"
	TriggerSystem    TriggerType = "system"
)

// One row per activation. Column names are part of the external schema.
type ActivationRecord struct {
	ID              uint        `gorm:"column:id;primaryKey"`
	UserID          string      `gorm:"column:user_id;not null;index:idx_activation_user_time,priority:1"`
	TriggerType     TriggerType `gorm:"column:trigger_type;not null"`
	Reason          string      `gorm:"column:reason"`
	Intensity       float64     `gorm:"column:intensity"`
	ResponseContent string      `gorm:"column:response_content"`
	ActivatedAt     time.Time   `gorm:"column:activated_at;not null;index:idx_activation_user_time,priority:2;index:idx_activation_time"`
}

func (ActivationRecord) TableName() string {
	return "activation_records"
}

type ActivationStore interface {
	Insert(ctx context.Context, rec *ActivationRecord) error
	// Number of records for the user with activated_at >= since
	CountSince(ctx context.Context, user string, since time.Time) (int64, error)
	CountTotal(ctx context.Context, user string) (int64, error)
	// Most recent record for the user, or nil if there is none
	Latest(ctx context.Context, user string) (*ActivationRecord, error)
	// Deletes records with activated_at < cutoff, returning the number deleted
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/hotaru-social/hotaru/types"
)

// RecordIfNew atomically inserts the activity id into the dedup ledger.
// Returns true when this is the first sighting. A lost insert race reads
// back as "already seen", never as an error.
func (s *Store) RecordIfNew(ctx context.Context, activityID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "StoreRecordIfNew")
	defer span.End()

	record := types.ReceivedActivity{
		ActivityID: activityID,
		ReceivedAt: time.Now(),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// IsBlocked reports whether the host is on the instance block list.
func (s *Store) IsBlocked(ctx context.Context, host string) (bool, error) {
	ctx, span := tracer.Start(ctx, "StoreIsBlocked")
	defer span.End()

	var count int64
	err := s.db.WithContext(ctx).Model(&types.InstanceBlock{}).
		Where("host = ?", host).Count(&count).Error
	return count > 0, err
}

// SaveDelivery persists a queued delivery so it survives a restart.
func (s *Store) SaveDelivery(ctx context.Context, record types.DeliveryRecord) error {
	ctx, span := tracer.Start(ctx, "StoreSaveDelivery")
	defer span.End()

	return s.db.WithContext(ctx).Save(&record).Error
}

// DeleteDelivery drops a delivered or abandoned job.
func (s *Store) DeleteDelivery(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "StoreDeleteDelivery")
	defer span.End()

	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&types.DeliveryRecord{}).Error
}

// ListPendingDeliveries returns every persisted job, oldest first, for
// re-enqueueing after a restart.
func (s *Store) ListPendingDeliveries(ctx context.Context) ([]types.DeliveryRecord, error) {
	ctx, span := tracer.Start(ctx, "StoreListPendingDeliveries")
	defer span.End()

	var records []types.DeliveryRecord
	err := s.db.WithContext(ctx).Order("created_at asc").Find(&records).Error
	return records, err
}

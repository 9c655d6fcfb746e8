package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/hotaru-social/hotaru/types"
)

// Number of consecutive fetch failures after which an actor is soft-marked
// gone. The resolver never hard-deletes.
const goneThreshold = 5

// FindActorByURI returns a remote actor cache entry by canonical URI.
func (s *Store) FindActorByURI(ctx context.Context, uri string) (types.Actor, error) {
	ctx, span := tracer.Start(ctx, "StoreFindActorByURI")
	defer span.End()

	var actor types.Actor
	result := s.db.WithContext(ctx).Where("uri = ?", uri).First(&actor)
	return actor, result.Error
}

// FindActorByHandle returns a remote actor by (username, host).
func (s *Store) FindActorByHandle(ctx context.Context, username, host string) (types.Actor, error) {
	ctx, span := tracer.Start(ctx, "StoreFindActorByHandle")
	defer span.End()

	var actor types.Actor
	result := s.db.WithContext(ctx).Where("username = ? AND host = ?", username, host).First(&actor)
	return actor, result.Error
}

// CreateActor creates a remote actor record. Returns gorm.ErrDuplicatedKey
// when another resolver call won the creation race.
func (s *Store) CreateActor(ctx context.Context, actor types.Actor) (types.Actor, error) {
	ctx, span := tracer.Start(ctx, "StoreCreateActor")
	defer span.End()

	result := s.db.WithContext(ctx).Create(&actor)
	return actor, result.Error
}

// UpdateActor saves mutated profile fields.
func (s *Store) UpdateActor(ctx context.Context, actor types.Actor) (types.Actor, error) {
	ctx, span := tracer.Start(ctx, "StoreUpdateActor")
	defer span.End()

	result := s.db.WithContext(ctx).Save(&actor)
	return actor, result.Error
}

// RecordFetchFailure increments the failure counter for an existing actor
// record and soft-marks it gone once the threshold is crossed.
func (s *Store) RecordFetchFailure(ctx context.Context, uri string, fetchErr string) error {
	ctx, span := tracer.Start(ctx, "StoreRecordFetchFailure")
	defer span.End()

	var actor types.Actor
	if err := s.db.WithContext(ctx).Where("uri = ?", uri).First(&actor).Error; err != nil {
		return err
	}

	actor.FetchFailureCount++
	actor.LastFetchError = fetchErr
	if actor.FetchFailureCount >= goneThreshold && actor.GoneDetectedAt == nil {
		now := time.Now()
		actor.GoneDetectedAt = &now
	}
	return s.db.WithContext(ctx).Save(&actor).Error
}

// DeleteActor removes a remote actor record. Called by the actor-deletion
// side effect, never by the resolver.
func (s *Store) DeleteActor(ctx context.Context, uri string) error {
	ctx, span := tracer.Start(ctx, "StoreDeleteActor")
	defer span.End()

	return s.db.WithContext(ctx).Where("uri = ?", uri).Delete(&types.Actor{}).Error
}

// IsDuplicateKey reports whether err is the store's uniqueness violation.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// IsNotFound reports whether err is the store's missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

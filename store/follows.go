package store

import (
	"context"

	"github.com/hotaru-social/hotaru/types"
)

// FollowExists reports whether a follow edge (actor -> target) exists.
func (s *Store) FollowExists(ctx context.Context, actorURI, targetURI string) (bool, error) {
	ctx, span := tracer.Start(ctx, "StoreFollowExists")
	defer span.End()

	var count int64
	err := s.db.WithContext(ctx).Model(&types.Follow{}).
		Where("actor_uri = ? AND target_actor_uri = ?", actorURI, targetURI).
		Count(&count).Error
	return count > 0, err
}

// CreateFollow creates a follow edge.
func (s *Store) CreateFollow(ctx context.Context, follow types.Follow) error {
	ctx, span := tracer.Start(ctx, "StoreCreateFollow")
	defer span.End()

	return s.db.WithContext(ctx).Create(&follow).Error
}

// FindFollowByURI returns a follow edge by its Follow activity id.
func (s *Store) FindFollowByURI(ctx context.Context, uri string) (types.Follow, error) {
	ctx, span := tracer.Start(ctx, "StoreFindFollowByURI")
	defer span.End()

	var follow types.Follow
	result := s.db.WithContext(ctx).Where("uri = ?", uri).First(&follow)
	return follow, result.Error
}

// FindFollowByPair returns the edge (actor -> target).
func (s *Store) FindFollowByPair(ctx context.Context, actorURI, targetURI string) (types.Follow, error) {
	ctx, span := tracer.Start(ctx, "StoreFindFollowByPair")
	defer span.End()

	var follow types.Follow
	result := s.db.WithContext(ctx).
		Where("actor_uri = ? AND target_actor_uri = ?", actorURI, targetURI).First(&follow)
	return follow, result.Error
}

// DeleteFollowByPair removes the edge (actor -> target).
func (s *Store) DeleteFollowByPair(ctx context.Context, actorURI, targetURI string) error {
	ctx, span := tracer.Start(ctx, "StoreDeleteFollowByPair")
	defer span.End()

	return s.db.WithContext(ctx).
		Where("actor_uri = ? AND target_actor_uri = ?", actorURI, targetURI).
		Delete(&types.Follow{}).Error
}

// DeleteFollowByURI removes an edge by its Follow activity id.
func (s *Store) DeleteFollowByURI(ctx context.Context, uri string) error {
	ctx, span := tracer.Start(ctx, "StoreDeleteFollowByURI")
	defer span.End()

	return s.db.WithContext(ctx).Where("uri = ?", uri).Delete(&types.Follow{}).Error
}

// MarkFollowAccepted flips the pending outbound follow identified by its
// activity id to accepted.
func (s *Store) MarkFollowAccepted(ctx context.Context, uri string) error {
	ctx, span := tracer.Start(ctx, "StoreMarkFollowAccepted")
	defer span.End()

	var follow types.Follow
	if err := s.db.WithContext(ctx).Where("uri = ?", uri).First(&follow).Error; err != nil {
		return err
	}
	follow.Accepted = true
	return s.db.WithContext(ctx).Save(&follow).Error
}

// ListFollowers returns all edges pointing at the given followee URI.
func (s *Store) ListFollowers(ctx context.Context, targetURI string) ([]types.Follow, error) {
	ctx, span := tracer.Start(ctx, "StoreListFollowers")
	defer span.End()

	var followers []types.Follow
	err := s.db.WithContext(ctx).Where("target_actor_uri = ?", targetURI).Find(&followers).Error
	return followers, err
}

// DeleteFollowsInvolving removes every edge touching the given actor URI,
// used when a remote actor deletes itself.
func (s *Store) DeleteFollowsInvolving(ctx context.Context, actorURI string) error {
	ctx, span := tracer.Start(ctx, "StoreDeleteFollowsInvolving")
	defer span.End()

	return s.db.WithContext(ctx).
		Where("actor_uri = ? OR target_actor_uri = ?", actorURI, actorURI).
		Delete(&types.Follow{}).Error
}

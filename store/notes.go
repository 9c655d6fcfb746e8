package store

import (
	"context"
	"time"

	"github.com/hotaru-social/hotaru/types"
)

// FindNoteByURI returns a note by its canonical ActivityPub id.
func (s *Store) FindNoteByURI(ctx context.Context, uri string) (types.Note, error) {
	ctx, span := tracer.Start(ctx, "StoreFindNoteByURI")
	defer span.End()

	var note types.Note
	result := s.db.WithContext(ctx).Where("uri = ?", uri).First(&note)
	return note, result.Error
}

// FindNoteByID returns a note by local primary key.
func (s *Store) FindNoteByID(ctx context.Context, id string) (types.Note, error) {
	ctx, span := tracer.Start(ctx, "StoreFindNoteByID")
	defer span.End()

	var note types.Note
	result := s.db.WithContext(ctx).Where("id = ?", id).First(&note)
	return note, result.Error
}

// CreateNote stores a note.
func (s *Store) CreateNote(ctx context.Context, note types.Note) (types.Note, error) {
	ctx, span := tracer.Start(ctx, "StoreCreateNote")
	defer span.End()

	result := s.db.WithContext(ctx).Create(&note)
	return note, result.Error
}

// UpdateNote saves edited note content.
func (s *Store) UpdateNote(ctx context.Context, note types.Note) (types.Note, error) {
	ctx, span := tracer.Start(ctx, "StoreUpdateNote")
	defer span.End()

	result := s.db.WithContext(ctx).Save(&note)
	return note, result.Error
}

// DeleteNoteByURI tombstones a note: the content is cleared but the row
// survives, so the note URI keeps resolving to a Tombstone document.
func (s *Store) DeleteNoteByURI(ctx context.Context, uri string) error {
	ctx, span := tracer.Start(ctx, "StoreDeleteNoteByURI")
	defer span.End()

	return s.db.WithContext(ctx).Model(&types.Note{}).
		Where("uri = ?", uri).
		Updates(map[string]any{
			"content":       "",
			"summary":       "",
			"tombstoned_at": time.Now(),
		}).Error
}

// CreateReaction stores a reaction.
func (s *Store) CreateReaction(ctx context.Context, reaction types.Reaction) error {
	ctx, span := tracer.Start(ctx, "StoreCreateReaction")
	defer span.End()

	return s.db.WithContext(ctx).Create(&reaction).Error
}

// FindReactionByURI returns a reaction by its Like activity id.
func (s *Store) FindReactionByURI(ctx context.Context, uri string) (types.Reaction, error) {
	ctx, span := tracer.Start(ctx, "StoreFindReactionByURI")
	defer span.End()

	var reaction types.Reaction
	result := s.db.WithContext(ctx).Where("uri = ?", uri).First(&reaction)
	return reaction, result.Error
}

// DeleteReactionByURI removes a reaction by its Like activity id.
func (s *Store) DeleteReactionByURI(ctx context.Context, uri string) error {
	ctx, span := tracer.Start(ctx, "StoreDeleteReactionByURI")
	defer span.End()

	return s.db.WithContext(ctx).Where("uri = ?", uri).Delete(&types.Reaction{}).Error
}

// DeleteReactionByPair removes an actor's reaction to a note, for Undo Like
// activities that carry no inner id.
func (s *Store) DeleteReactionByPair(ctx context.Context, actorURI, noteURI string) error {
	ctx, span := tracer.Start(ctx, "StoreDeleteReactionByPair")
	defer span.End()

	return s.db.WithContext(ctx).
		Where("actor_uri = ? AND note_uri = ?", actorURI, noteURI).
		Delete(&types.Reaction{}).Error
}

// CreateBoost stores an Announce pointer.
func (s *Store) CreateBoost(ctx context.Context, boost types.Boost) error {
	ctx, span := tracer.Start(ctx, "StoreCreateBoost")
	defer span.End()

	return s.db.WithContext(ctx).Create(&boost).Error
}

// DeleteBoostByURI removes an Announce pointer by its activity id.
func (s *Store) DeleteBoostByURI(ctx context.Context, uri string) error {
	ctx, span := tracer.Start(ctx, "StoreDeleteBoostByURI")
	defer span.End()

	return s.db.WithContext(ctx).Where("uri = ?", uri).Delete(&types.Boost{}).Error
}

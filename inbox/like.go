package inbox

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hotaru-social/hotaru/store"
	"github.com/hotaru-social/hotaru/types"
)

// likeHandler records reactions. A plain Like is a reaction without a
// shortcode; the Misskey reaction extension adds a custom emoji whose image
// rides along in an Emoji tag.
type likeHandler struct {
	deps Deps
}

func (h *likeHandler) Handle(ctx context.Context, activity *types.Activity, ic *Context) Result {
	noteURI := objectURI(activity.Object)
	if noteURI == "" {
		return ok("like has no target, ignored")
	}

	note, err := h.deps.Notes.FindNoteByURI(ctx, noteURI)
	if err != nil {
		return ok("liked note not known, ignored")
	}
	if note.TombstonedAt != nil {
		return ok("liked note is deleted, ignored")
	}

	if activity.ID != "" {
		if _, err := h.deps.Engagement.FindReactionByURI(ctx, activity.ID); err == nil {
			// Redelivery of a Like we already hold.
			return ok("reaction already exists")
		}
	}

	reaction := types.Reaction{
		ID:        uuid.New().String(),
		URI:       activity.ID,
		ActorURI:  activity.Actor.String(),
		NoteURI:   noteURI,
		CreatedAt: time.Now(),
	}
	if activity.MisskeyReaction != "" {
		reaction.Shortcode = strings.Trim(activity.MisskeyReaction, ":")
		reaction.ImageURL = emojiImage(activity.Tag, activity.MisskeyReaction)
	}

	if err := h.deps.Engagement.CreateReaction(ctx, reaction); err != nil {
		if store.IsDuplicateKey(err) {
			return ok("reaction already exists")
		}
		return failed("could not store reaction", err)
	}
	return ok("reaction recorded")
}

// emojiImage finds the icon of the Emoji tag matching the reaction name.
func emojiImage(tags []types.Tag, name string) string {
	for _, tag := range tags {
		if tag.Type == "Emoji" && tag.Name == name && tag.Icon != nil {
			return tag.Icon.URL
		}
	}
	return ""
}

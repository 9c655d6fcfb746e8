package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hotaru-social/hotaru/store"
	"github.com/hotaru-social/hotaru/types"
)

// announceHandler records boosts of notes we already hold. Boosts of unknown
// objects are ignored rather than chased over the network.
type announceHandler struct {
	deps Deps
}

func (h *announceHandler) Handle(ctx context.Context, activity *types.Activity, ic *Context) Result {
	noteURI := objectURI(activity.Object)
	if noteURI == "" {
		return ok("announce has no target, ignored")
	}

	note, err := h.deps.Notes.FindNoteByURI(ctx, noteURI)
	if err != nil {
		return ok("announced note not known, ignored")
	}
	if note.TombstonedAt != nil {
		return ok("announced note is deleted, ignored")
	}

	boost := types.Boost{
		ID:        uuid.New().String(),
		URI:       activity.ID,
		ActorURI:  activity.Actor.String(),
		NoteURI:   noteURI,
		CreatedAt: time.Now(),
	}
	if err := h.deps.Engagement.CreateBoost(ctx, boost); err != nil {
		if store.IsDuplicateKey(err) {
			return ok("boost already exists")
		}
		return failed("could not store boost", err)
	}
	return ok("boost recorded")
}

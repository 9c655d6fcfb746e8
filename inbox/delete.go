package inbox

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hotaru-social/hotaru/types"
)

// deleteHandler processes removals. A Delete whose object is the signing
// actor itself tears down that identity and its edges; a Delete of a note is
// honored only when the signer authored it.
type deleteHandler struct {
	deps Deps
}

func (h *deleteHandler) Handle(ctx context.Context, activity *types.Activity, ic *Context) Result {
	target := objectURI(activity.Object)
	if target == "" {
		return ok("delete has no target, ignored")
	}

	if target == activity.Actor.String() {
		return h.deleteActor(ctx, target)
	}

	return h.deleteNote(ctx, activity, target)
}

func (h *deleteHandler) deleteActor(ctx context.Context, actorURI string) Result {
	if h.deps.localUsername(actorURI) != "" {
		return failed("refusing to delete a local account via federation",
			errors.New("delete target is local"))
	}

	if err := h.deps.Deleter.DeleteFollowsInvolving(ctx, actorURI); err != nil {
		return failed("could not remove actor's follows", err)
	}
	if err := h.deps.Deleter.DeleteActor(ctx, actorURI); err != nil {
		return failed("could not remove actor", err)
	}
	return ok("actor removed")
}

func (h *deleteHandler) deleteNote(ctx context.Context, activity *types.Activity, noteURI string) Result {
	note, err := h.deps.Notes.FindNoteByURI(ctx, noteURI)
	if err != nil {
		// Tombstones routinely arrive for objects we never ingested.
		return ok("object not known, ignored")
	}

	if note.AuthorURI != activity.Actor.String() {
		return failed("delete of another actor's note",
			errors.Errorf("%s attempted to delete a note by %s", activity.Actor, note.AuthorURI))
	}

	if err := h.deps.Notes.DeleteNoteByURI(ctx, noteURI); err != nil {
		return failed("could not remove note", err)
	}
	return ok("note removed")
}

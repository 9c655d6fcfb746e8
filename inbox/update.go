package inbox

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hotaru-social/hotaru/types"
)

// updateHandler applies profile and note edits. A Person update triggers a
// forced refetch so the cached record reflects the actor's own document
// rather than whatever the Update embedded.
type updateHandler struct {
	deps Deps
}

func (h *updateHandler) Handle(ctx context.Context, activity *types.Activity, ic *Context) Result {
	object := embeddedObject(activity.Object)
	if object == nil {
		return ok("update carries no embedded object, ignored")
	}

	switch object.MustGetString("type") {
	case "Person", "Service", "Application":
		return h.updateActor(ctx, activity, object)
	case "Note":
		return h.updateNote(ctx, activity, object)
	}
	return ok("update of unsupported object, ignored")
}

func (h *updateHandler) updateActor(ctx context.Context, activity *types.Activity, object *types.RawObject) Result {
	if id := object.MustGetString("id"); id != "" && id != activity.Actor.String() {
		return failed("update of another actor's profile",
			errors.Errorf("%s attempted to update %s", activity.Actor, id))
	}

	if _, err := h.deps.Resolver.Resolve(ctx, activity.Actor.String(), true); err != nil {
		return failed("could not refresh actor profile", err)
	}
	return ok("profile refreshed")
}

func (h *updateHandler) updateNote(ctx context.Context, activity *types.Activity, object *types.RawObject) Result {
	noteURI := object.MustGetString("id")
	if noteURI == "" {
		return ok("note update without id, ignored")
	}

	note, err := h.deps.Notes.FindNoteByURI(ctx, noteURI)
	if err != nil {
		return ok("updated note not known, ignored")
	}
	if note.TombstonedAt != nil {
		return ok("updated note is deleted, ignored")
	}
	if note.AuthorURI != activity.Actor.String() {
		return failed("update of another actor's note",
			errors.Errorf("%s attempted to edit a note by %s", activity.Actor, note.AuthorURI))
	}

	note.Content = flattenHTML(object.MustGetString("content"))
	note.Summary = object.MustGetString("summary")
	note.Sensitive = object.GetBool("sensitive")
	note.Emojis = emojiTags(object.GetList("tag"))

	if _, err := h.deps.Notes.UpdateNote(ctx, note); err != nil {
		return failed("could not store note edit", err)
	}
	return ok("note updated")
}

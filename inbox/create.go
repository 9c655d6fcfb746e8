package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hotaru-social/hotaru/store"
	"github.com/hotaru-social/hotaru/types"
)

// createHandler ingests remote notes. Objects other than Note pass through
// untouched; a redelivered note is recognized by its URI and dropped without
// side effects.
type createHandler struct {
	deps Deps
}

func (h *createHandler) Handle(ctx context.Context, activity *types.Activity, ic *Context) Result {
	object := embeddedObject(activity.Object)
	if object == nil {
		return ok("create carries no embedded object, ignored")
	}
	if object.MustGetString("type") != "Note" {
		return ok("create of unsupported object, ignored")
	}

	noteURI := object.MustGetString("id")
	if noteURI == "" {
		return ok("note without id, ignored")
	}

	if _, err := h.deps.Notes.FindNoteByURI(ctx, noteURI); err == nil {
		return ok("note already known")
	}

	// Make sure the author exists locally before attaching content to them.
	if _, err := h.deps.Resolver.Resolve(ctx, activity.Actor.String(), false); err != nil {
		return failed("could not resolve note author", err)
	}

	note := types.Note{
		ID:        uuid.New().String(),
		URI:       noteURI,
		AuthorURI: activity.Actor.String(),
		Content:   flattenHTML(object.MustGetString("content")),
		Summary:   object.MustGetString("summary"),
		Published: parsePublished(object.MustGetString("published")),
		CreatedAt: time.Now(),
	}
	note.Sensitive = object.GetBool("sensitive")
	note.Emojis = emojiTags(object.GetList("tag"))
	for _, attachment := range object.GetList("attachment") {
		if u := attachment.MustGetString("url"); u != "" {
			note.Attachments = append(note.Attachments, u)
		}
	}

	if _, err := h.deps.Notes.CreateNote(ctx, note); err != nil {
		if store.IsDuplicateKey(err) {
			// Lost an ingest race against a concurrent redelivery.
			return ok("note already known")
		}
		return failed("could not store note", err)
	}

	return ok("note ingested")
}

func parsePublished(value string) time.Time {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Now()
}

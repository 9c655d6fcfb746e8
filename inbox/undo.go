package inbox

import (
	"context"

	"github.com/hotaru-social/hotaru/types"
)

// undoHandler retracts a previously processed Follow, Like or Announce. The
// inner activity arrives embedded; undoing something we never recorded is a
// neutral outcome, not an error.
type undoHandler struct {
	deps Deps
}

func (h *undoHandler) Handle(ctx context.Context, activity *types.Activity, ic *Context) Result {
	inner := embeddedObject(activity.Object)
	if inner == nil {
		return ok("undo carries no embedded activity, ignored")
	}

	switch types.ActivityType(inner.MustGetString("type")) {
	case types.TypeFollow:
		return h.undoFollow(ctx, activity, inner)
	case types.TypeLike:
		return h.undoLike(ctx, activity, inner)
	case types.TypeAnnounce:
		return h.undoAnnounce(ctx, inner)
	}
	return ok("undo of unsupported activity, ignored")
}

func (h *undoHandler) undoFollow(ctx context.Context, activity *types.Activity, inner *types.RawObject) Result {
	targetURI := inner.MustGetString("object")
	if targetURI == "" {
		if id, ok := inner.GetString("object.id"); ok {
			targetURI = id
		}
	}
	if targetURI == "" {
		return ok("undo follow has no target, ignored")
	}

	if err := h.deps.Follows.DeleteFollowByPair(ctx, activity.Actor.String(), targetURI); err != nil {
		return failed("could not remove follow", err)
	}
	return ok("follow removed")
}

func (h *undoHandler) undoLike(ctx context.Context, activity *types.Activity, inner *types.RawObject) Result {
	if uri := inner.MustGetString("id"); uri != "" {
		if err := h.deps.Engagement.DeleteReactionByURI(ctx, uri); err != nil {
			return failed("could not remove reaction", err)
		}
		return ok("reaction removed")
	}

	// Some peers omit the Like's id; fall back to the (actor, note) pair.
	noteURI := inner.MustGetString("object")
	if noteURI == "" {
		return ok("undo like has no reference, ignored")
	}
	if err := h.deps.Engagement.DeleteReactionByPair(ctx, activity.Actor.String(), noteURI); err != nil {
		return failed("could not remove reaction", err)
	}
	return ok("reaction removed")
}

func (h *undoHandler) undoAnnounce(ctx context.Context, inner *types.RawObject) Result {
	uri := inner.MustGetString("id")
	if uri == "" {
		return ok("undo announce has no id, ignored")
	}
	if err := h.deps.Engagement.DeleteBoostByURI(ctx, uri); err != nil {
		return failed("could not remove boost", err)
	}
	return ok("boost removed")
}

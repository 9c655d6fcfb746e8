package inbox

import (
	"context"

	"github.com/hotaru-social/hotaru/types"
)

// acceptHandler settles an outbound follow request when the remote side
// answers. The same handler serves Accept and Reject; only the edge's fate
// differs. Answers wrapping anything but a Follow are ignored.
type acceptHandler struct {
	deps   Deps
	reject bool
}

func (h *acceptHandler) Handle(ctx context.Context, activity *types.Activity, ic *Context) Result {
	inner := embeddedObject(activity.Object)
	if inner == nil || types.ActivityType(inner.MustGetString("type")) != types.TypeFollow {
		return ok("answer to unsupported activity, ignored")
	}

	followURI := inner.MustGetString("id")
	if followURI == "" {
		return ok("answer carries no follow id, ignored")
	}

	if h.reject {
		if err := h.deps.Follows.DeleteFollowByURI(ctx, followURI); err != nil {
			return failed("could not remove rejected follow", err)
		}
		return ok("follow rejected by remote")
	}

	if err := h.deps.Follows.MarkFollowAccepted(ctx, followURI); err != nil {
		return failed("could not mark follow accepted", err)
	}
	return ok("follow accepted by remote")
}

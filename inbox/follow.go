package inbox

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hotaru-social/hotaru/delivery"
	"github.com/hotaru-social/hotaru/types"
)

// followHandler records an incoming follow edge and answers with an Accept.
// Every local account auto-accepts; the Accept goes out ahead of everything
// else so the peer marks the relationship established promptly.
type followHandler struct {
	deps Deps
}

func (h *followHandler) Handle(ctx context.Context, activity *types.Activity, ic *Context) Result {
	targetURI := objectURI(activity.Object)
	if targetURI == "" {
		return ok("follow has no target, ignored")
	}

	username := h.deps.localUsername(targetURI)
	if username == "" {
		return ok("follow target is not a local actor, ignored")
	}

	recipient, err := h.deps.Users.FindLocalUserByUsername(ctx, username)
	if err != nil {
		// The URI names a local account that does not exist; the peer is
		// retrying a Follow we can never honor silently.
		return failed("follow target account not found", err)
	}

	exists, err := h.deps.Follows.FollowExists(ctx, activity.Actor.String(), targetURI)
	if err != nil {
		return failed("follow lookup failed", err)
	}
	if exists {
		// Redelivery of a Follow we already hold; the peer got its Accept.
		return ok("follow already exists")
	}

	follower, err := h.deps.Resolver.Resolve(ctx, activity.Actor.String(), false)
	if err != nil {
		return failed("could not resolve follower", err)
	}

	edge := types.Follow{
		ID:             uuid.New().String(),
		URI:            activity.ID,
		ActorURI:       follower.URI,
		TargetActorURI: targetURI,
		Accepted:       !recipient.ManuallyApprovesFollowers,
		CreatedAt:      time.Now(),
	}
	if err := h.deps.Follows.CreateFollow(ctx, edge); err != nil {
		return failed("could not record follow", err)
	}

	if recipient.ManuallyApprovesFollowers {
		// The account owner decides; their Accept or Reject goes out through
		// the worker once they act on the request.
		return ok("follow request held for review")
	}

	// The Accept is addressed to the follower's personal inbox, never the
	// shared one, so the originating server can correlate it.
	accept := h.deps.Builder.BuildAccept(recipient.Username, activity, time.Now())
	if err := h.deps.Deliverer.DeliverToInbox(ctx, follower.Inbox, &accept, recipient, delivery.PriorityUrgent); err != nil {
		return failed("could not enqueue accept", errors.Wrap(err, "accept delivery"))
	}

	return ok("follow accepted")
}

// localUsername maps a local actor URI to its username, or "" when the URI
// belongs to another instance or another route.
func (d Deps) localUsername(uri string) string {
	prefix := "https://" + d.Config.FQDN + "/users/"
	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(uri, prefix)
	if rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

// Package inbox processes activities received from federation peers:
// structural validation, duplicate suppression and per-type handler dispatch.
package inbox

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/hotaru-social/hotaru/delivery"
	"github.com/hotaru-social/hotaru/types"
)

var tracer = otel.Tracer("inbox")

// Context carries per-request facts into a handler.
type Context struct {
	// RecipientUsername is the local account addressed by a per-user inbox
	// POST; empty for the shared inbox.
	RecipientUsername string
	// ActorURI is the signature-verified sender.
	ActorURI string
}

// Result is a handler outcome. Soft/idempotent outcomes (duplicates,
// already-existing edges, unsupported shapes) are accepted results, not
// errors; Err is set only for genuine processing failures, which stay
// internal and never surface to the peer.
type Result struct {
	Accepted bool
	Message  string
	Err      error
}

func ok(message string) Result {
	return Result{Accepted: true, Message: message}
}

func failed(message string, err error) Result {
	return Result{Accepted: false, Message: message, Err: err}
}

// ActorResolver resolves remote identities.
type ActorResolver interface {
	Resolve(ctx context.Context, actorURI string, forceRefresh bool) (types.Actor, error)
}

// LocalUserStore looks up accounts hosted here.
type LocalUserStore interface {
	FindLocalUserByUsername(ctx context.Context, username string) (types.LocalUser, error)
}

// FollowStore is the follow-edge repository.
type FollowStore interface {
	FollowExists(ctx context.Context, actorURI, targetURI string) (bool, error)
	CreateFollow(ctx context.Context, follow types.Follow) error
	DeleteFollowByPair(ctx context.Context, actorURI, targetURI string) error
	DeleteFollowByURI(ctx context.Context, uri string) error
	MarkFollowAccepted(ctx context.Context, uri string) error
}

// NoteStore is the note repository.
type NoteStore interface {
	FindNoteByURI(ctx context.Context, uri string) (types.Note, error)
	CreateNote(ctx context.Context, note types.Note) (types.Note, error)
	UpdateNote(ctx context.Context, note types.Note) (types.Note, error)
	DeleteNoteByURI(ctx context.Context, uri string) error
}

// EngagementStore covers reactions and boosts.
type EngagementStore interface {
	CreateReaction(ctx context.Context, reaction types.Reaction) error
	FindReactionByURI(ctx context.Context, uri string) (types.Reaction, error)
	DeleteReactionByURI(ctx context.Context, uri string) error
	DeleteReactionByPair(ctx context.Context, actorURI, noteURI string) error
	CreateBoost(ctx context.Context, boost types.Boost) error
	DeleteBoostByURI(ctx context.Context, uri string) error
}

// ActorDeleter performs the remote-actor deletion side effect. The resolver
// itself never deletes; this is a distinct caller-driven collaborator.
type ActorDeleter interface {
	DeleteActor(ctx context.Context, uri string) error
	DeleteFollowsInvolving(ctx context.Context, actorURI string) error
}

// Deliverer enqueues reply activities, such as the Accept for a Follow.
type Deliverer interface {
	DeliverToInbox(ctx context.Context, inboxURL string, activity *types.Activity, signer types.LocalUser, priority delivery.Priority) error
}

// Deps bundles the collaborators handlers share.
type Deps struct {
	Resolver   ActorResolver
	Users      LocalUserStore
	Follows    FollowStore
	Notes      NoteStore
	Engagement EngagementStore
	Deleter    ActorDeleter
	Deliverer  Deliverer
	Builder    *delivery.Builder
	Config     types.FederationConfig
}

// Package worker turns local domain events into outbound federation
// traffic. It is the only consumer of the event channel; everything it sends
// goes through the delivery queue.
package worker

import (
	"context"
	"encoding/json"
	"log"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hotaru-social/hotaru/delivery"
	"github.com/hotaru-social/hotaru/events"
	"github.com/hotaru-social/hotaru/store"
	"github.com/hotaru-social/hotaru/types"
)

var mentionPattern = regexp.MustCompile(`@(\S+@\S+)`)

// PersonSource renders the current Person document of a local account.
type PersonSource interface {
	User(ctx context.Context, username string) (types.ApObject, error)
}

// Store is the subset of the repository layer the worker reads and writes.
type Store interface {
	FindLocalUserByID(ctx context.Context, id string) (types.LocalUser, error)
	FindNoteByID(ctx context.Context, id string) (types.Note, error)
	FindNoteByURI(ctx context.Context, uri string) (types.Note, error)
	FindFollowByPair(ctx context.Context, actorURI, targetURI string) (types.Follow, error)
	CreateFollow(ctx context.Context, follow types.Follow) error
	DeleteFollowByPair(ctx context.Context, actorURI, targetURI string) error
	DeleteFollowByURI(ctx context.Context, uri string) error
	MarkFollowAccepted(ctx context.Context, uri string) error
}

// ActorSource resolves remote identities.
type ActorSource interface {
	Resolve(ctx context.Context, actorURI string, forceRefresh bool) (types.Actor, error)
	ResolveByAcct(ctx context.Context, acct string) (types.Actor, error)
}

// Delivery is the outbound side the worker drives.
type Delivery interface {
	Fanout(ctx context.Context, user types.LocalUser, activity *types.Activity, priority delivery.Priority) error
	DeliverToInbox(ctx context.Context, inboxURL string, activity *types.Activity, signer types.LocalUser, priority delivery.Priority) error
	RequestFollow(ctx context.Context, user types.LocalUser, targetActorURI string) (types.Activity, error)
	WithdrawFollow(ctx context.Context, user types.LocalUser, targetActorURI, followURI string) error
}

type Worker struct {
	rdb      *redis.Client
	store    Store
	delivery Delivery
	builder  *delivery.Builder
	resolver ActorSource
	persons  PersonSource
	config   types.FederationConfig
}

func NewWorker(
	rdb *redis.Client,
	store Store,
	deliveryService Delivery,
	builder *delivery.Builder,
	resolver ActorSource,
	persons PersonSource,
	config types.FederationConfig,
) *Worker {
	return &Worker{
		rdb:      rdb,
		store:    store,
		delivery: deliveryService,
		builder:  builder,
		resolver: resolver,
		persons:  persons,
		config:   config,
	}
}

// Start subscribes to the event channel and processes events until ctx is
// canceled. The subscription reconnects on its own; a bad message is logged
// and skipped.
func (w *Worker) Start(ctx context.Context) {
	log.Printf("start federation worker")

	pubsub := w.rdb.Subscribe(ctx, events.Channel)
	defer pubsub.Close()

	for {
		message, err := pubsub.ReceiveMessage(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("worker: receive: %v", err)
			continue
		}

		var event events.Event
		if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
			log.Printf("worker: unmarshal event: %v", err)
			continue
		}

		if err := w.handle(ctx, event); err != nil {
			log.Printf("worker: %s: %v", event.Kind, err)
		}
	}
}

func (w *Worker) handle(ctx context.Context, event events.Event) error {
	user, err := w.store.FindLocalUserByID(ctx, event.UserID)
	if err != nil {
		return err
	}

	switch event.Kind {
	case events.KindNoteCreated:
		return w.noteCreated(ctx, user, event)
	case events.KindNoteUpdated:
		return w.noteUpdated(ctx, user, event)
	case events.KindNoteDeleted:
		activity := w.builder.BuildDelete(user, event.NoteURI, time.Now())
		return w.delivery.Fanout(ctx, user, &activity, delivery.PriorityLow)
	case events.KindFollowRequested:
		return w.followRequested(ctx, user, event)
	case events.KindFollowWithdrawn:
		return w.followWithdrawn(ctx, user, event)
	case events.KindFollowApproved:
		return w.followApproved(ctx, user, event)
	case events.KindFollowRejected:
		return w.followRejected(ctx, user, event)
	case events.KindReactionCreated:
		return w.reactionCreated(ctx, user, event)
	case events.KindProfileUpdated:
		person, err := w.persons.User(ctx, user.Username)
		if err != nil {
			return err
		}
		activity := w.builder.BuildUpdate(user, person, time.Now())
		return w.delivery.Fanout(ctx, user, &activity, delivery.PriorityLow)
	}

	log.Printf("worker: unknown event kind %q, skipped", event.Kind)
	return nil
}

func (w *Worker) noteCreated(ctx context.Context, user types.LocalUser, event events.Event) error {
	note, err := w.store.FindNoteByID(ctx, event.NoteID)
	if err != nil {
		return err
	}
	if note.LocalOnly {
		return nil
	}

	activity := w.builder.BuildCreate(user, note, time.Now())
	if err := w.delivery.Fanout(ctx, user, &activity, delivery.PriorityNormal); err != nil {
		return err
	}

	w.deliverToMentions(ctx, user, note.Content, &activity)
	return nil
}

func (w *Worker) noteUpdated(ctx context.Context, user types.LocalUser, event events.Event) error {
	note, err := w.store.FindNoteByID(ctx, event.NoteID)
	if err != nil {
		return err
	}
	if note.LocalOnly {
		return nil
	}

	activity := w.builder.BuildUpdateNote(user, note, time.Now())
	return w.delivery.Fanout(ctx, user, &activity, delivery.PriorityLow)
}

func (w *Worker) followRequested(ctx context.Context, user types.LocalUser, event events.Event) error {
	activity, err := w.delivery.RequestFollow(ctx, user, event.TargetURI)
	if err != nil {
		return err
	}

	edge := types.Follow{
		ID:             uuid.New().String(),
		URI:            activity.ID,
		ActorURI:       w.builder.ActorURI(user.Username),
		TargetActorURI: event.TargetURI,
		Accepted:       false,
		CreatedAt:      time.Now(),
	}
	if err := w.store.CreateFollow(ctx, edge); err != nil && !store.IsDuplicateKey(err) {
		return err
	}
	return nil
}

func (w *Worker) followWithdrawn(ctx context.Context, user types.LocalUser, event events.Event) error {
	if err := w.delivery.WithdrawFollow(ctx, user, event.TargetURI, event.FollowURI); err != nil {
		return err
	}
	return w.store.DeleteFollowByPair(ctx, w.builder.ActorURI(user.Username), event.TargetURI)
}

// followApproved answers a held follow request with an Accept and flips the
// stored edge. The original Follow is reconstructed from the edge so the
// requester can correlate the response.
func (w *Worker) followApproved(ctx context.Context, user types.LocalUser, event events.Event) error {
	edge, err := w.store.FindFollowByPair(ctx, event.ActorURI, w.builder.ActorURI(user.Username))
	if err != nil {
		return err
	}
	follower, err := w.resolver.Resolve(ctx, edge.ActorURI, false)
	if err != nil {
		return err
	}

	follow := types.Activity{
		ID:     edge.URI,
		Type:   types.TypeFollow,
		Actor:  types.ActorRef(edge.ActorURI),
		Object: edge.TargetActorURI,
	}
	accept := w.builder.BuildAccept(user.Username, &follow, time.Now())
	if err := w.delivery.DeliverToInbox(ctx, follower.Inbox, &accept, user, delivery.PriorityUrgent); err != nil {
		return err
	}
	return w.store.MarkFollowAccepted(ctx, edge.URI)
}

// followRejected answers a held follow request with a Reject and drops the
// pending edge.
func (w *Worker) followRejected(ctx context.Context, user types.LocalUser, event events.Event) error {
	edge, err := w.store.FindFollowByPair(ctx, event.ActorURI, w.builder.ActorURI(user.Username))
	if err != nil {
		return err
	}
	follower, err := w.resolver.Resolve(ctx, edge.ActorURI, false)
	if err != nil {
		return err
	}

	follow := types.Activity{
		ID:     edge.URI,
		Type:   types.TypeFollow,
		Actor:  types.ActorRef(edge.ActorURI),
		Object: edge.TargetActorURI,
	}
	reject := w.builder.BuildReject(user.Username, &follow, time.Now())
	if err := w.delivery.DeliverToInbox(ctx, follower.Inbox, &reject, user, delivery.PriorityUrgent); err != nil {
		return err
	}
	return w.store.DeleteFollowByURI(ctx, edge.URI)
}

func (w *Worker) reactionCreated(ctx context.Context, user types.LocalUser, event events.Event) error {
	note, err := w.store.FindNoteByURI(ctx, event.NoteURI)
	if err != nil {
		return err
	}
	author, err := w.resolver.Resolve(ctx, note.AuthorURI, false)
	if err != nil {
		return err
	}
	if !author.Remote() {
		return nil
	}

	activity := w.builder.BuildLike(user, note.URI, event.Shortcode, event.ImageURL, time.Now())
	return w.delivery.DeliverToInbox(ctx, author.Inbox, &activity, user, delivery.PriorityNormal)
}

// deliverToMentions sends a copy of the activity to the personal inbox of
// every @user@host mentioned in the text, so mentions land even on instances
// with no follower of the author. Resolution failures skip that mention.
func (w *Worker) deliverToMentions(ctx context.Context, user types.LocalUser, text string, activity *types.Activity) {
	seen := make(map[string]struct{})
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		handle := match[1]
		if _, done := seen[handle]; done {
			continue
		}
		seen[handle] = struct{}{}

		actor, err := w.resolver.ResolveByAcct(ctx, handle)
		if err != nil {
			log.Printf("worker: mention %s: %v", handle, err)
			continue
		}
		if !actor.Remote() {
			continue
		}

		if err := w.delivery.DeliverToInbox(ctx, actor.Inbox, activity, user, delivery.PriorityNormal); err != nil {
			log.Printf("worker: mention delivery %s: %v", handle, err)
		}
	}
}

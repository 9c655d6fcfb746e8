package delivery

import (
	"context"
	"log"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/hotaru-social/hotaru/store"
	"github.com/hotaru-social/hotaru/types"
)

// ActorResolver resolves follower URIs to actor records with inboxes.
type ActorResolver interface {
	Resolve(ctx context.Context, actorURI string, forceRefresh bool) (types.Actor, error)
}

// FollowerStore lists the accepted followers of a local actor.
type FollowerStore interface {
	ListFollowers(ctx context.Context, targetURI string) ([]types.Follow, error)
}

// BlockStore answers instance-block lookups.
type BlockStore interface {
	IsBlocked(ctx context.Context, host string) (bool, error)
}

// Service is the outbound façade: it signs, routes and enqueues activities
// built elsewhere. Fanout collapses followers sharing an instance inbox into
// a single job.
type Service struct {
	queue     *Queue
	builder   *Builder
	resolver  ActorResolver
	followers FollowerStore
	blocks    BlockStore
	config    types.FederationConfig
}

func NewService(
	queue *Queue,
	builder *Builder,
	resolver ActorResolver,
	followers FollowerStore,
	blocks BlockStore,
	config types.FederationConfig,
) *Service {
	return &Service{
		queue:     queue,
		builder:   builder,
		resolver:  resolver,
		followers: followers,
		blocks:    blocks,
		config:    config,
	}
}

// DeliverToInbox enqueues one activity for one inbox, signed with the given
// account's key. An account without a key cannot federate; that is an error
// here because single-inbox deliveries are protocol replies the peer waits
// for.
func (s *Service) DeliverToInbox(ctx context.Context, inboxURL string, activity *types.Activity, signer types.LocalUser, priority Priority) error {
	ctx, span := tracer.Start(ctx, "DeliveryDeliverToInbox")
	defer span.End()

	key, err := store.LoadKey(signer)
	if err != nil {
		return errors.Wrapf(err, "signing key for %s", signer.Username)
	}

	if blocked, err := s.hostBlocked(ctx, inboxURL); err != nil {
		return err
	} else if blocked {
		log.Printf("delivery: %s is on a blocked instance, dropped", inboxURL)
		return nil
	}

	raw, err := marshalActivity(activity)
	if err != nil {
		return err
	}

	return s.queue.Enqueue(ctx, &Job{
		InboxURL:   inboxURL,
		Activity:   raw,
		KeyID:      s.builder.KeyID(signer.Username),
		PrivateKey: key,
		SignerID:   signer.ID,
		Priority:   priority,
	})
}

// Fanout delivers an activity to every accepted follower of the user,
// preferring shared inboxes and enqueueing each distinct inbox URL once. A
// keyless account has nothing to sign with, so fanout is a logged no-op.
func (s *Service) Fanout(ctx context.Context, user types.LocalUser, activity *types.Activity, priority Priority) error {
	ctx, span := tracer.Start(ctx, "DeliveryFanout")
	defer span.End()

	if user.Privatekey == "" {
		log.Printf("delivery: %s has no signing key, fanout skipped", user.Username)
		return nil
	}
	key, err := store.LoadKey(user)
	if err != nil {
		return errors.Wrapf(err, "signing key for %s", user.Username)
	}

	followers, err := s.followers.ListFollowers(ctx, s.builder.ActorURI(user.Username))
	if err != nil {
		return errors.Wrap(err, "list followers")
	}

	raw, err := marshalActivity(activity)
	if err != nil {
		return err
	}

	destinations := make(map[string]struct{})
	for _, follow := range followers {
		actor, err := s.resolver.Resolve(ctx, follow.ActorURI, false)
		if err != nil {
			log.Printf("delivery: fanout resolve %s: %v", follow.ActorURI, err)
			continue
		}
		if actor.GoneDetectedAt != nil {
			continue
		}

		inbox := actor.Inbox
		if actor.SharedInbox != "" {
			inbox = actor.SharedInbox
		}
		if inbox == "" {
			continue
		}
		if _, seen := destinations[inbox]; seen {
			continue
		}
		destinations[inbox] = struct{}{}

		if blocked, err := s.hostBlocked(ctx, inbox); err != nil {
			log.Printf("delivery: fanout block check %s: %v", inbox, err)
			continue
		} else if blocked {
			continue
		}

		job := &Job{
			InboxURL:   inbox,
			Activity:   raw,
			KeyID:      s.builder.KeyID(user.Username),
			PrivateKey: key,
			SignerID:   user.ID,
			Priority:   priority,
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			log.Printf("delivery: fanout enqueue %s: %v", inbox, err)
		}
	}

	return nil
}

// RequestFollow builds a Follow toward a remote actor and enqueues it to
// their personal inbox. The built activity is returned so the caller can
// record its id against the pending edge.
func (s *Service) RequestFollow(ctx context.Context, user types.LocalUser, targetActorURI string) (types.Activity, error) {
	ctx, span := tracer.Start(ctx, "DeliveryRequestFollow")
	defer span.End()

	target, err := s.resolver.Resolve(ctx, targetActorURI, false)
	if err != nil {
		return types.Activity{}, errors.Wrap(err, "resolve follow target")
	}

	activity := s.builder.BuildFollow(user, target.URI, time.Now())
	if err := s.DeliverToInbox(ctx, target.Inbox, &activity, user, PriorityUrgent); err != nil {
		return types.Activity{}, err
	}
	return activity, nil
}

// WithdrawFollow wraps a previously sent Follow in an Undo and enqueues it to
// the target's personal inbox.
func (s *Service) WithdrawFollow(ctx context.Context, user types.LocalUser, targetActorURI, followURI string) error {
	ctx, span := tracer.Start(ctx, "DeliveryWithdrawFollow")
	defer span.End()

	target, err := s.resolver.Resolve(ctx, targetActorURI, false)
	if err != nil {
		return errors.Wrap(err, "resolve follow target")
	}

	inner := types.Activity{
		ID:     followURI,
		Type:   types.TypeFollow,
		Actor:  types.ActorRef(s.builder.ActorURI(user.Username)),
		Object: target.URI,
	}
	activity := s.builder.BuildUndo(user, inner, time.Now())
	return s.DeliverToInbox(ctx, target.Inbox, &activity, user, PriorityUrgent)
}

func (s *Service) hostBlocked(ctx context.Context, inboxURL string) (bool, error) {
	parsed, err := url.Parse(inboxURL)
	if err != nil {
		return false, errors.Wrap(err, "parse inbox url")
	}
	return s.blocks.IsBlocked(ctx, parsed.Hostname())
}

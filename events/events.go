// Package events is the pubsub seam between the application core and the
// federation worker: local domain changes are published here and turned into
// outbound activities asynchronously.
package events

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Channel is the redis pubsub channel all federation events travel on.
const Channel = "hotaru:events"

const (
	KindNoteCreated     = "note.created"
	KindNoteDeleted     = "note.deleted"
	KindNoteUpdated     = "note.updated"
	KindFollowRequested = "follow.requested"
	KindFollowWithdrawn = "follow.withdrawn"
	KindFollowApproved  = "follow.approved"
	KindFollowRejected  = "follow.rejected"
	KindReactionCreated = "reaction.created"
	KindProfileUpdated  = "profile.updated"
)

// Event is one local domain change. Fields beyond Kind and UserID are set
// per kind: NoteID for note events, TargetURI and FollowURI for outbound
// follow events, ActorURI for decisions on held follow requests, NoteURI
// plus the emoji pair for reactions.
type Event struct {
	Kind      string `json:"kind"`
	UserID    string `json:"userID"`
	NoteID    string `json:"noteID,omitempty"`
	NoteURI   string `json:"noteURI,omitempty"`
	TargetURI string `json:"targetURI,omitempty"`
	FollowURI string `json:"followURI,omitempty"`
	ActorURI  string `json:"actorURI,omitempty"`
	Shortcode string `json:"shortcode,omitempty"`
	ImageURL  string `json:"imageURL,omitempty"`
}

// Publisher writes events to the channel.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	if err := p.rdb.Publish(ctx, Channel, raw).Err(); err != nil {
		return errors.Wrap(err, "publish event")
	}
	return nil
}

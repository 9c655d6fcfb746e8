// Package delivery builds outbound activities and carries them to remote
// inboxes through a prioritized, persistent retry queue.
package delivery

import (
	"fmt"
	"net/url"
	"time"

	"github.com/gomarkdown/markdown"

	"github.com/hotaru-social/hotaru/types"
)

var apContext = []string{
	"https://www.w3.org/ns/activitystreams",
	"https://w3id.org/security/v1",
}

const publicAddress = "https://www.w3.org/ns/activitystreams#Public"

// Builder constructs outbound activities. It holds no connections and no
// clock; every constructor is a pure function of its arguments, so identical
// inputs yield identical activities.
type Builder struct {
	fqdn string
}

func NewBuilder(fqdn string) *Builder {
	return &Builder{fqdn: fqdn}
}

// ActorURI renders the canonical actor URI of a local account.
func (b *Builder) ActorURI(username string) string {
	return "https://" + b.fqdn + "/users/" + username
}

// KeyID renders the key identifier of a local account's signing key.
func (b *Builder) KeyID(username string) string {
	return b.ActorURI(username) + "#main-key"
}

// NoteURI renders the canonical URI of a local note.
func (b *Builder) NoteURI(noteID string) string {
	return "https://" + b.fqdn + "/notes/" + noteID
}

func (b *Builder) activityID(kind, subject string, now time.Time) string {
	return fmt.Sprintf("https://%s/activities/%s/%s#%d",
		b.fqdn, kind, url.PathEscape(subject), now.UnixNano())
}

// BuildCreate wraps a local note in a Create addressed to the public
// collection and the author's followers. Markdown in the note body is
// rendered to HTML for the wire.
func (b *Builder) BuildCreate(user types.LocalUser, note types.Note, now time.Time) types.Activity {
	actor := b.ActorURI(user.Username)
	noteURI := b.NoteURI(note.ID)

	object := types.ApObject{
		Type:         "Note",
		ID:           noteURI,
		AttributedTo: actor,
		Content:      string(markdown.ToHTML([]byte(note.Content), nil, nil)),
		Summary:      note.Summary,
		Sensitive:    note.Sensitive,
		Published:    note.Published.Format(time.RFC3339),
		To:           []string{publicAddress},
		CC:           []string{actor + "/followers"},
	}
	for _, attachment := range note.Attachments {
		object.Attachment = append(object.Attachment, types.Attachment{
			Type: "Document",
			URL:  attachment,
		})
	}

	return types.Activity{
		Context:   apContext,
		ID:        b.activityID("create", note.ID, now),
		Type:      types.TypeCreate,
		Actor:     types.ActorRef(actor),
		Object:    object,
		Published: now.Format(time.RFC3339),
		To:        object.To,
		CC:        object.CC,
	}
}

// BuildLike expresses a reaction to a remote note. A bare like carries no
// extension fields; a custom emoji reaction carries the Misskey reaction
// extension plus an Emoji tag so both flavors of peer render it.
func (b *Builder) BuildLike(user types.LocalUser, noteURI, shortcode, imageURL string, now time.Time) types.Activity {
	activity := types.Activity{
		Context:   apContext,
		ID:        b.activityID("like", noteURI, now),
		Type:      types.TypeLike,
		Actor:     types.ActorRef(b.ActorURI(user.Username)),
		Object:    noteURI,
		Published: now.Format(time.RFC3339),
	}

	if shortcode != "" {
		name := ":" + shortcode + ":"
		activity.MisskeyReaction = name
		activity.Tag = []types.Tag{{
			Type: "Emoji",
			Name: name,
			Icon: &types.Icon{Type: "Image", URL: imageURL},
		}}
	}

	return activity
}

// BuildFollow expresses a follow request toward a remote actor.
func (b *Builder) BuildFollow(user types.LocalUser, targetActorURI string, now time.Time) types.Activity {
	return types.Activity{
		Context: apContext,
		ID:      b.activityID("follow", targetActorURI, now),
		Type:    types.TypeFollow,
		Actor:   types.ActorRef(b.ActorURI(user.Username)),
		Object:  targetActorURI,
	}
}

// BuildAnnounce expresses a boost of a note.
func (b *Builder) BuildAnnounce(user types.LocalUser, noteURI string, now time.Time) types.Activity {
	actor := b.ActorURI(user.Username)
	return types.Activity{
		Context:   apContext,
		ID:        b.activityID("announce", noteURI, now),
		Type:      types.TypeAnnounce,
		Actor:     types.ActorRef(actor),
		Object:    noteURI,
		Published: now.Format(time.RFC3339),
		To:        []string{publicAddress},
		CC:        []string{actor + "/followers"},
	}
}

// BuildUndo wraps a previously sent activity for retraction. The inner
// activity is embedded whole so the peer can match it without a lookup.
func (b *Builder) BuildUndo(user types.LocalUser, inner types.Activity, now time.Time) types.Activity {
	inner.Context = nil
	return types.Activity{
		Context: apContext,
		ID:      b.activityID("undo", inner.ID, now),
		Type:    types.TypeUndo,
		Actor:   types.ActorRef(b.ActorURI(user.Username)),
		Object:  inner,
	}
}

// BuildDelete expresses the removal of a local note as a Tombstone.
func (b *Builder) BuildDelete(user types.LocalUser, noteURI string, now time.Time) types.Activity {
	actor := b.ActorURI(user.Username)
	return types.Activity{
		Context: apContext,
		ID:      b.activityID("delete", noteURI, now),
		Type:    types.TypeDelete,
		Actor:   types.ActorRef(actor),
		Object: types.ApObject{
			Type: "Tombstone",
			ID:   noteURI,
		},
		To: []string{publicAddress},
	}
}

// BuildUpdate announces a profile change by embedding the account's current
// Person document.
func (b *Builder) BuildUpdate(user types.LocalUser, person types.ApObject, now time.Time) types.Activity {
	actor := b.ActorURI(user.Username)
	person.Context = nil
	return types.Activity{
		Context:   apContext,
		ID:        b.activityID("update", user.Username, now),
		Type:      types.TypeUpdate,
		Actor:     types.ActorRef(actor),
		Object:    person,
		Published: now.Format(time.RFC3339),
		To:        []string{publicAddress},
	}
}

// BuildUpdateNote announces an edit of a local note, embedding the note's
// current document.
func (b *Builder) BuildUpdateNote(user types.LocalUser, note types.Note, now time.Time) types.Activity {
	actor := b.ActorURI(user.Username)
	return types.Activity{
		Context: apContext,
		ID:      b.activityID("update", note.ID, now),
		Type:    types.TypeUpdate,
		Actor:   types.ActorRef(actor),
		Object: types.ApObject{
			Type:         "Note",
			ID:           b.NoteURI(note.ID),
			AttributedTo: actor,
			Content:      string(markdown.ToHTML([]byte(note.Content), nil, nil)),
			Summary:      note.Summary,
			Sensitive:    note.Sensitive,
			Published:    note.Published.Format(time.RFC3339),
		},
		Published: now.Format(time.RFC3339),
		To:        []string{publicAddress},
		CC:        []string{actor + "/followers"},
	}
}

// BuildAccept answers a received Follow. The original activity is embedded
// whole, id included, so the requester can correlate the response.
func (b *Builder) BuildAccept(username string, follow *types.Activity, now time.Time) types.Activity {
	inner := *follow
	inner.Context = nil
	return types.Activity{
		Context: apContext,
		ID:      b.activityID("accept", follow.Actor.String(), now),
		Type:    types.TypeAccept,
		Actor:   types.ActorRef(b.ActorURI(username)),
		Object:  inner,
	}
}

// BuildReject answers a Follow this instance will not honor.
func (b *Builder) BuildReject(username string, follow *types.Activity, now time.Time) types.Activity {
	inner := *follow
	inner.Context = nil
	return types.Activity{
		Context: apContext,
		ID:      b.activityID("reject", follow.Actor.String(), now),
		Type:    types.TypeReject,
		Actor:   types.ActorRef(b.ActorURI(username)),
		Object:  inner,
	}
}

// Package ap exposes the ActivityPub HTTP surface: inboxes, actor and note
// documents, WebFinger and node metadata.
package ap

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/pkg/errors"

	"github.com/hotaru-social/hotaru/delivery"
	"github.com/hotaru-social/hotaru/inbox"
	"github.com/hotaru-social/hotaru/sigverify"
	"github.com/hotaru-social/hotaru/types"
)

var (
	errBadPayload       = errors.New("request body is not a parsable activity")
	errMalformedShape   = errors.New("activity is structurally invalid")
	errUnknownRecipient = errors.New("recipient account not found")
)

// Store is the subset of the repository layer the HTTP surface reads from.
type Store interface {
	FindLocalUserByUsername(ctx context.Context, username string) (types.LocalUser, error)
	FindNoteByID(ctx context.Context, id string) (types.Note, error)
	IsBlocked(ctx context.Context, host string) (bool, error)
}

type Service struct {
	store      Store
	verifier   *sigverify.Verifier
	deduper    *inbox.Deduper
	dispatcher *inbox.Dispatcher
	builder    *delivery.Builder
	info       types.NodeInfo
	config     types.FederationConfig
}

func NewService(
	store Store,
	verifier *sigverify.Verifier,
	deduper *inbox.Deduper,
	dispatcher *inbox.Dispatcher,
	builder *delivery.Builder,
	info types.NodeInfo,
	config types.FederationConfig,
) *Service {
	return &Service{
		store:      store,
		verifier:   verifier,
		deduper:    deduper,
		dispatcher: dispatcher,
		builder:    builder,
		info:       info,
		config:     config,
	}
}

// Inbox runs the receive pipeline up to the acceptance decision: signature,
// parse, structural validation, block list, duplicate ledger. Side effects
// run in the background after the caller has answered 202; a handler failure
// is this server's problem, never the peer's.
func (s *Service) Inbox(ctx context.Context, req *http.Request, body []byte, recipientUsername string) error {
	ctx, span := tracer.Start(ctx, "ApServiceInbox")
	defer span.End()

	if recipientUsername != "" {
		if _, err := s.store.FindLocalUserByUsername(ctx, recipientUsername); err != nil {
			return errUnknownRecipient
		}
	}

	actorURI, err := s.verifier.Verify(ctx, req)
	if err != nil {
		span.RecordError(err)
		return err
	}

	var activity types.Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		span.RecordError(err)
		return errBadPayload
	}

	violations := inbox.Validate(&activity, actorURI)
	if inbox.HasAuthViolation(violations) {
		return errors.Wrap(sigverify.ErrBadSignature, violations[0].Message)
	}
	if len(violations) > 0 {
		return errors.Wrap(errMalformedShape, violations[0].Message)
	}

	if !activity.Type.Known() {
		// Nothing here will act on it; skip the ledger and the dispatch.
		log.Printf("inbox: unsupported activity type %q from %s, accepted and ignored", activity.Type, actorURI)
		return nil
	}

	if blocked, err := s.actorBlocked(ctx, actorURI); err == nil && blocked {
		// Accepted and dropped; blocked instances learn nothing.
		return nil
	}

	if !s.deduper.FirstSighting(ctx, &activity) {
		log.Printf("inbox: duplicate %s %s, dropped", activity.Type, activity.ID)
		return nil
	}

	ic := &inbox.Context{
		RecipientUsername: recipientUsername,
		ActorURI:          actorURI,
	}

	// The peer's request is already answered once we return; the handler
	// must not die with it.
	background := context.WithoutCancel(ctx)
	go func() {
		dispatchCtx, cancel := context.WithTimeout(background, 60*time.Second)
		defer cancel()
		s.dispatcher.Dispatch(dispatchCtx, &activity, ic)
	}()

	return nil
}

func (s *Service) actorBlocked(ctx context.Context, actorURI string) (bool, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return false, err
	}
	return s.store.IsBlocked(ctx, parsed.Hostname())
}

// WebFinger answers acct: lookups for accounts hosted here.
func (s *Service) WebFinger(ctx context.Context, resource string) (types.WebFinger, error) {
	ctx, span := tracer.Start(ctx, "ApServiceWebFinger")
	defer span.End()

	split := strings.Split(resource, ":")
	if len(split) != 2 || split[0] != "acct" {
		return types.WebFinger{}, errors.New("invalid resource")
	}

	split = strings.Split(split[1], "@")
	if len(split) != 2 {
		return types.WebFinger{}, errors.New("invalid resource")
	}
	username, domain := split[0], split[1]
	if domain != s.config.FQDN {
		return types.WebFinger{}, errors.New("domain not found")
	}

	user, err := s.store.FindLocalUserByUsername(ctx, username)
	if err != nil {
		return types.WebFinger{}, err
	}

	return types.WebFinger{
		Subject: "acct:" + user.Username + "@" + s.config.FQDN,
		Links: []types.WebFingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: s.builder.ActorURI(user.Username),
			},
		},
	}, nil
}

// User renders a local account as a Person document.
func (s *Service) User(ctx context.Context, username string) (types.ApObject, error) {
	ctx, span := tracer.Start(ctx, "ApServiceUser")
	defer span.End()

	user, err := s.store.FindLocalUserByUsername(ctx, username)
	if err != nil {
		return types.ApObject{}, err
	}

	actor := s.builder.ActorURI(user.Username)
	person := types.ApObject{
		Context:           []string{"https://www.w3.org/ns/activitystreams", "https://w3id.org/security/v1"},
		Type:              "Person",
		ID:                actor,
		Inbox:             actor + "/inbox",
		Outbox:            actor + "/outbox",
		Followers:         actor + "/followers",
		Following:         actor + "/following",
		SharedInbox:       "https://" + s.config.FQDN + "/inbox",
		Endpoints:         &types.PersonEndpoints{SharedInbox: "https://" + s.config.FQDN + "/inbox"},
		PreferredUsername: user.Username,
		Name:              user.DisplayName,
		Summary:           user.Summary,
		URL:               "https://" + s.config.FQDN + "/@" + user.Username,
		PublicKey: &types.Key{
			ID:           s.builder.KeyID(user.Username),
			Type:         "Key",
			Owner:        actor,
			PublicKeyPem: user.Publickey,
		},
	}
	person.ManuallyApprovesFollowers = user.ManuallyApprovesFollowers
	if user.IconURL != "" {
		person.Icon = &types.Icon{
			Type:      "Image",
			MediaType: "image/png",
			URL:       user.IconURL,
		}
	}
	return person, nil
}

// Note renders a locally authored note as an ActivityPub document. A deleted
// note resolves to a Tombstone so peers that missed the Delete can catch up.
func (s *Service) Note(ctx context.Context, id string) (types.ApObject, error) {
	ctx, span := tracer.Start(ctx, "ApServiceNote")
	defer span.End()

	note, err := s.store.FindNoteByID(ctx, id)
	if err != nil {
		return types.ApObject{}, err
	}
	if !strings.HasPrefix(note.AuthorURI, "https://"+s.config.FQDN+"/") {
		// Remote notes are served by their home instance.
		return types.ApObject{}, errors.New("note is not local")
	}

	if note.TombstonedAt != nil {
		return types.ApObject{
			Context:    []string{"https://www.w3.org/ns/activitystreams"},
			Type:       "Tombstone",
			ID:         s.builder.NoteURI(note.ID),
			FormerType: "Note",
			Deleted:    note.TombstonedAt.Format(time.RFC3339),
		}, nil
	}

	object := types.ApObject{
		Context:      []string{"https://www.w3.org/ns/activitystreams"},
		Type:         "Note",
		ID:           s.builder.NoteURI(note.ID),
		AttributedTo: note.AuthorURI,
		Content:      string(markdown.ToHTML([]byte(note.Content), nil, nil)),
		Summary:      note.Summary,
		Sensitive:    note.Sensitive,
		Published:    note.Published.Format(time.RFC3339),
		To:           []string{"https://www.w3.org/ns/activitystreams#Public"},
	}
	for _, attachment := range note.Attachments {
		object.Attachment = append(object.Attachment, types.Attachment{
			Type: "Document",
			URL:  attachment,
		})
	}
	return object, nil
}

// NodeInfo reports software metadata for the nodeinfo 2.0 endpoint.
func (s *Service) NodeInfo(ctx context.Context) (types.NodeInfo, error) {
	return s.info, nil
}

// NodeInfoWellKnown lists the nodeinfo document location.
func (s *Service) NodeInfoWellKnown(ctx context.Context) (types.WellKnown, error) {
	return types.WellKnown{
		Links: []types.WellKnownLink{
			{
				Rel:  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				Href: "https://" + s.config.FQDN + "/nodeinfo/2.0",
			},
		},
	}, nil
}

// HostMeta renders the XRD document pointing at the WebFinger endpoint.
func (s *Service) HostMeta(ctx context.Context) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
  <Link rel="lrdd" template="https://` + s.config.FQDN + `/.well-known/webfinger?resource={uri}"/>
</XRD>`
}

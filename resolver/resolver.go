// Package resolver turns actor URIs and acct: handles into remote identity
// records, backed by a two-tier cache: a fast shared tier with a TTL in
// front of the persistent store, with network fetch as the last resort.
package resolver

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/hotaru-social/hotaru/apclient"
	"github.com/hotaru-social/hotaru/cache"
	"github.com/hotaru-social/hotaru/store"
	"github.com/hotaru-social/hotaru/types"
)

var tracer = otel.Tracer("resolver")

// A persistent record older than this triggers a network refresh on the next
// resolution.
const actorFreshness = 24 * time.Hour

// L1 entries expire on their own; the store stays the source of truth.
const l1TTL = 30 * time.Minute

// ActorStore is the persistent tier.
type ActorStore interface {
	FindActorByURI(ctx context.Context, uri string) (types.Actor, error)
	FindActorByHandle(ctx context.Context, username, host string) (types.Actor, error)
	CreateActor(ctx context.Context, actor types.Actor) (types.Actor, error)
	UpdateActor(ctx context.Context, actor types.Actor) (types.Actor, error)
	RecordFetchFailure(ctx context.Context, uri string, fetchErr string) error
}

// LocalUserStore resolves handles belonging to this instance without network.
type LocalUserStore interface {
	FindLocalUserByUsername(ctx context.Context, username string) (types.LocalUser, error)
}

// Fetcher is the network tier.
type Fetcher interface {
	FetchActor(ctx context.Context, actorURI string, signer *apclient.Signer) (*types.RawObject, error)
	WebFinger(ctx context.Context, handle string) (string, error)
}

type Resolver struct {
	actors ActorStore
	locals LocalUserStore
	client Fetcher
	cache  cache.Cache
	config types.FederationConfig
	signer *apclient.Signer // instance key for peers requiring signed fetches
}

func NewResolver(
	actors ActorStore,
	locals LocalUserStore,
	client Fetcher,
	c cache.Cache,
	config types.FederationConfig,
	signer *apclient.Signer,
) *Resolver {
	return &Resolver{
		actors: actors,
		locals: locals,
		client: client,
		cache:  c,
		config: config,
		signer: signer,
	}
}

// Resolve returns the actor record for a canonical URI, fetching from the
// remote instance when the cached record is absent or stale.
func (r *Resolver) Resolve(ctx context.Context, actorURI string, forceRefresh bool) (types.Actor, error) {
	ctx, span := tracer.Start(ctx, "ResolverResolve")
	defer span.End()

	cacheKey := cache.Key("actor", actorURI)

	if !forceRefresh {
		if raw, found := r.cache.Get(cacheKey); found {
			var actor types.Actor
			if err := json.Unmarshal(raw, &actor); err == nil {
				return actor, nil
			}
		}
	}

	existing, err := r.actors.FindActorByURI(ctx, actorURI)
	found := err == nil

	if found && !forceRefresh && time.Since(existing.UpdatedAt) < actorFreshness {
		go r.warm(cacheKey, existing)
		return existing, nil
	}

	doc, err := r.client.FetchActor(ctx, actorURI, r.signer)
	if err != nil {
		span.RecordError(err)
		if found {
			if recErr := r.actors.RecordFetchFailure(ctx, actorURI, err.Error()); recErr != nil {
				log.Printf("resolver: record fetch failure %s: %v", actorURI, recErr)
			}
		}
		return types.Actor{}, errors.Wrap(err, "actor fetch")
	}

	fetched, err := actorFromDocument(doc)
	if err != nil {
		span.RecordError(err)
		return types.Actor{}, err
	}

	final, err := r.upsert(ctx, existing, found, fetched)
	if err != nil {
		span.RecordError(err)
		return types.Actor{}, err
	}

	r.warm(cacheKey, final)
	return final, nil
}

// ResolveByAcct resolves a user@host handle, optionally prefixed with
// "acct:" or "@". Local handles never touch the network; known remote
// handles skip WebFinger.
func (r *Resolver) ResolveByAcct(ctx context.Context, acct string) (types.Actor, error) {
	ctx, span := tracer.Start(ctx, "ResolverResolveByAcct")
	defer span.End()

	handle := strings.TrimPrefix(strings.TrimPrefix(acct, "acct:"), "@")
	split := strings.Split(handle, "@")
	if len(split) != 2 {
		return types.Actor{}, errors.New("invalid acct handle")
	}
	username, host := split[0], split[1]

	if host == r.config.FQDN {
		user, err := r.locals.FindLocalUserByUsername(ctx, username)
		if err != nil {
			return types.Actor{}, errors.Wrap(err, "local user not found")
		}
		return r.localProjection(user), nil
	}

	if known, err := r.actors.FindActorByHandle(ctx, username, host); err == nil {
		return r.Resolve(ctx, known.URI, false)
	}

	actorURI, err := r.client.WebFinger(ctx, handle)
	if err != nil {
		span.RecordError(err)
		return types.Actor{}, errors.Wrap(err, "webfinger")
	}

	return r.Resolve(ctx, actorURI, false)
}

// PublicKey resolves the RSA public key owning a keyId, for signature
// verification.
func (r *Resolver) PublicKey(ctx context.Context, keyID string) (*rsa.PublicKey, string, error) {
	owner := strings.Split(keyID, "#")[0]
	actor, err := r.Resolve(ctx, owner, false)
	if err != nil {
		return nil, "", err
	}
	pub, err := apclient.ParsePublicKey(actor.PublicKeyPem)
	if err != nil {
		return nil, "", err
	}
	return pub, actor.URI, nil
}

// warm writes the record through to L1. Failures are logged inside the cache
// and never affect the caller.
func (r *Resolver) warm(key string, actor types.Actor) {
	raw, err := json.Marshal(actor)
	if err != nil {
		log.Printf("resolver: cache warm %s: %v", key, err)
		return
	}
	r.cache.Set(key, raw, l1TTL)
}

// upsert writes the fetched profile into the store, resolving first-contact
// races on both the URI and the (username, host) uniqueness constraints.
func (r *Resolver) upsert(ctx context.Context, existing types.Actor, found bool, fetched types.Actor) (types.Actor, error) {
	if found {
		return r.actors.UpdateActor(ctx, mergeProfile(existing, fetched))
	}

	if byHandle, err := r.actors.FindActorByHandle(ctx, fetched.Username, fetched.Host); err == nil {
		// Concurrent first contact already created the row under a
		// different URI spelling.
		return r.actors.UpdateActor(ctx, mergeProfile(byHandle, fetched))
	}

	fetched.ID = uuid.New().String()
	created, err := r.actors.CreateActor(ctx, fetched)
	if err == nil {
		return created, nil
	}
	if store.IsDuplicateKey(err) {
		// Lost the creation race; the winner's record is authoritative.
		return r.actors.FindActorByHandle(ctx, fetched.Username, fetched.Host)
	}
	return types.Actor{}, err
}

// mergeProfile copies mutable profile fields onto an existing record and
// clears any prior gone status.
func mergeProfile(existing, fetched types.Actor) types.Actor {
	existing.Username = fetched.Username
	existing.Host = fetched.Host
	existing.URI = fetched.URI
	existing.Inbox = fetched.Inbox
	existing.SharedInbox = fetched.SharedInbox
	existing.FollowersURI = fetched.FollowersURI
	existing.FollowingURI = fetched.FollowingURI
	existing.Name = fetched.Name
	existing.Summary = fetched.Summary
	existing.IconURL = fetched.IconURL
	existing.PublicKeyPem = fetched.PublicKeyPem
	existing.ProfileEmojis = fetched.ProfileEmojis
	existing.AlsoKnownAs = fetched.AlsoKnownAs
	existing.MovedTo = fetched.MovedTo
	existing.GoneDetectedAt = nil
	existing.FetchFailureCount = 0
	existing.LastFetchError = ""
	existing.UpdatedAt = time.Now()
	return existing
}

// actorFromDocument validates and converts a fetched actor document.
func actorFromDocument(doc *types.RawObject) (types.Actor, error) {
	id := doc.MustGetString("id")
	kind := doc.MustGetString("type")
	username := doc.MustGetString("preferredUsername")
	inbox := doc.MustGetString("inbox")
	if id == "" || kind == "" || username == "" || inbox == "" {
		return types.Actor{}, errors.New("actor document missing required fields")
	}

	parsed, err := url.Parse(id)
	if err != nil {
		return types.Actor{}, errors.Wrap(err, "invalid actor id")
	}

	actor := types.Actor{
		Username:     username,
		Host:         parsed.Hostname(),
		URI:          id,
		Inbox:        inbox,
		SharedInbox:  doc.MustGetString("endpoints.sharedInbox"),
		FollowersURI: doc.MustGetString("followers"),
		FollowingURI: doc.MustGetString("following"),
		Name:         doc.MustGetString("name"),
		Summary:      doc.MustGetString("summary"),
		IconURL:      doc.MustGetString("icon.url"),
		PublicKeyPem: doc.MustGetString("publicKey.publicKeyPem"),
		MovedTo:      doc.MustGetString("movedTo"),
		UpdatedAt:    time.Now(),
	}

	if shared, ok := doc.GetString("sharedInbox"); ok && actor.SharedInbox == "" {
		actor.SharedInbox = shared
	}

	for _, tag := range doc.GetList("tag") {
		if tag.MustGetString("type") == "Emoji" {
			actor.ProfileEmojis = append(actor.ProfileEmojis, tag.MustGetString("name"))
		}
	}

	for _, alias := range doc.GetStringList("alsoKnownAs") {
		actor.AlsoKnownAs = append(actor.AlsoKnownAs, alias)
	}

	return actor, nil
}

// localProjection renders a local account in the actor record shape, with an
// empty host marking it local.
func (r *Resolver) localProjection(user types.LocalUser) types.Actor {
	base := "https://" + r.config.FQDN + "/users/" + user.Username
	return types.Actor{
		ID:           user.ID,
		Username:     user.Username,
		Host:         "",
		URI:          base,
		Inbox:        base + "/inbox",
		Name:         user.DisplayName,
		Summary:      user.Summary,
		IconURL:      user.IconURL,
		PublicKeyPem: user.Publickey,
		UpdatedAt:    time.Now(),
	}
}

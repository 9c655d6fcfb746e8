package resolver

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hotaru-social/hotaru/apclient"
	"github.com/hotaru-social/hotaru/types"
)

const bobURI = "https://remote.example/users/bob"

var bobDocument = `{
	"id": "https://remote.example/users/bob",
	"type": "Person",
	"preferredUsername": "bob",
	"inbox": "https://remote.example/users/bob/inbox",
	"endpoints": {"sharedInbox": "https://remote.example/inbox"},
	"name": "Bob",
	"publicKey": {"publicKeyPem": "PEM"}
}`

type fakeActorStore struct {
	mu           sync.Mutex
	byURI        map[string]types.Actor
	byHandle     map[string]types.Actor
	handleMisses int // byHandle lookups answered not-found before hits begin
	createErr    error
	created      []types.Actor
	updated      []types.Actor
	failures     []string
}

func handleKey(username, host string) string { return username + "@" + host }

func (f *fakeActorStore) FindActorByURI(ctx context.Context, uri string) (types.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	actor, found := f.byURI[uri]
	if !found {
		return types.Actor{}, gorm.ErrRecordNotFound
	}
	return actor, nil
}

func (f *fakeActorStore) FindActorByHandle(ctx context.Context, username, host string) (types.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handleMisses > 0 {
		f.handleMisses--
		return types.Actor{}, gorm.ErrRecordNotFound
	}
	actor, found := f.byHandle[handleKey(username, host)]
	if !found {
		return types.Actor{}, gorm.ErrRecordNotFound
	}
	return actor, nil
}

func (f *fakeActorStore) CreateActor(ctx context.Context, actor types.Actor) (types.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return types.Actor{}, f.createErr
	}
	f.created = append(f.created, actor)
	f.byURI[actor.URI] = actor
	f.byHandle[handleKey(actor.Username, actor.Host)] = actor
	return actor, nil
}

func (f *fakeActorStore) UpdateActor(ctx context.Context, actor types.Actor) (types.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, actor)
	f.byURI[actor.URI] = actor
	return actor, nil
}

func (f *fakeActorStore) RecordFetchFailure(ctx context.Context, uri string, fetchErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, uri)
	return nil
}

type fakeLocals struct {
	users map[string]types.LocalUser
}

func (f *fakeLocals) FindLocalUserByUsername(ctx context.Context, username string) (types.LocalUser, error) {
	user, found := f.users[username]
	if !found {
		return types.LocalUser{}, gorm.ErrRecordNotFound
	}
	return user, nil
}

type fakeFetcher struct {
	mu        sync.Mutex
	docs      map[string]string
	webfinger map[string]string
	fetches   []string
	err       error
}

func (f *fakeFetcher) FetchActor(ctx context.Context, actorURI string, signer *apclient.Signer) (*types.RawObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, actorURI)
	if f.err != nil {
		return nil, f.err
	}
	doc, found := f.docs[actorURI]
	if !found {
		return nil, gorm.ErrRecordNotFound
	}
	return types.ParseRawObject([]byte(doc))
}

func (f *fakeFetcher) WebFinger(ctx context.Context, handle string) (string, error) {
	uri, found := f.webfinger[handle]
	if !found {
		return "", gorm.ErrRecordNotFound
	}
	return uri, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: map[string][]byte{}} }

func (c *memCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *memCache) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func (c *memCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

func newTestResolver(actors *fakeActorStore, fetcher *fakeFetcher) (*Resolver, *memCache) {
	cache := newMemCache()
	r := NewResolver(actors, &fakeLocals{users: map[string]types.LocalUser{
		"alice": {ID: "u1", Username: "alice"},
	}}, fetcher, cache, types.FederationConfig{FQDN: "hotaru.example"}, nil)
	return r, cache
}

func TestResolveFreshRecordSkipsFetch(t *testing.T) {
	actors := &fakeActorStore{
		byURI: map[string]types.Actor{bobURI: {
			URI: bobURI, Username: "bob", Host: "remote.example",
			UpdatedAt: time.Now().Add(-23 * time.Hour),
		}},
		byHandle: map[string]types.Actor{},
	}
	fetcher := &fakeFetcher{docs: map[string]string{}}
	r, _ := newTestResolver(actors, fetcher)

	actor, err := r.Resolve(context.Background(), bobURI, false)
	require.NoError(t, err)
	assert.Equal(t, "bob", actor.Username)
	assert.Zero(t, fetcher.fetchCount())
}

func TestResolveStaleRecordRefetches(t *testing.T) {
	actors := &fakeActorStore{
		byURI: map[string]types.Actor{bobURI: {
			ID: "a1", URI: bobURI, Username: "bob", Host: "remote.example",
			Name:      "Old Bob",
			UpdatedAt: time.Now().Add(-25 * time.Hour),
		}},
		byHandle: map[string]types.Actor{},
	}
	fetcher := &fakeFetcher{docs: map[string]string{bobURI: bobDocument}}
	r, _ := newTestResolver(actors, fetcher)

	actor, err := r.Resolve(context.Background(), bobURI, false)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.fetchCount())
	assert.Equal(t, "Bob", actor.Name)
	assert.Equal(t, "https://remote.example/inbox", actor.SharedInbox)
	require.Len(t, actors.updated, 1)
	assert.Equal(t, "a1", actors.updated[0].ID)
}

func TestResolveFetchFailureRecorded(t *testing.T) {
	actors := &fakeActorStore{
		byURI: map[string]types.Actor{bobURI: {
			URI: bobURI, Username: "bob", Host: "remote.example",
			UpdatedAt: time.Now().Add(-25 * time.Hour),
		}},
		byHandle: map[string]types.Actor{},
	}
	fetcher := &fakeFetcher{err: assert.AnError}
	r, _ := newTestResolver(actors, fetcher)

	_, err := r.Resolve(context.Background(), bobURI, false)
	assert.Error(t, err)
	assert.Equal(t, []string{bobURI}, actors.failures)
}

func TestResolveFirstContactCreates(t *testing.T) {
	actors := &fakeActorStore{
		byURI:    map[string]types.Actor{},
		byHandle: map[string]types.Actor{},
	}
	fetcher := &fakeFetcher{docs: map[string]string{bobURI: bobDocument}}
	r, _ := newTestResolver(actors, fetcher)

	actor, err := r.Resolve(context.Background(), bobURI, false)
	require.NoError(t, err)
	assert.Equal(t, "bob", actor.Username)
	assert.Equal(t, "remote.example", actor.Host)
	assert.NotEmpty(t, actor.ID)
	require.Len(t, actors.created, 1)
}

func TestResolveCreationRaceYieldsWinner(t *testing.T) {
	winner := types.Actor{ID: "winner", URI: bobURI, Username: "bob", Host: "remote.example"}
	actors := &fakeActorStore{
		byURI:        map[string]types.Actor{},
		byHandle:     map[string]types.Actor{handleKey("bob", "remote.example"): winner},
		handleMisses: 1, // pre-create lookup misses; post-conflict lookup hits
		createErr:    gorm.ErrDuplicatedKey,
	}
	fetcher := &fakeFetcher{docs: map[string]string{bobURI: bobDocument}}
	r, _ := newTestResolver(actors, fetcher)

	actor, err := r.Resolve(context.Background(), bobURI, false)
	require.NoError(t, err)
	assert.Equal(t, "winner", actor.ID)
}

func TestResolveL1CacheHit(t *testing.T) {
	actors := &fakeActorStore{byURI: map[string]types.Actor{}, byHandle: map[string]types.Actor{}}
	fetcher := &fakeFetcher{}
	r, cache := newTestResolver(actors, fetcher)

	raw, _ := json.Marshal(types.Actor{URI: bobURI, Username: "bob"})
	cache.Set("actor:"+bobURI, raw, time.Minute)

	actor, err := r.Resolve(context.Background(), bobURI, false)
	require.NoError(t, err)
	assert.Equal(t, "bob", actor.Username)
	assert.Zero(t, fetcher.fetchCount())
}

func TestResolveByAcctLocal(t *testing.T) {
	actors := &fakeActorStore{byURI: map[string]types.Actor{}, byHandle: map[string]types.Actor{}}
	fetcher := &fakeFetcher{}
	r, _ := newTestResolver(actors, fetcher)

	actor, err := r.ResolveByAcct(context.Background(), "acct:alice@hotaru.example")
	require.NoError(t, err)
	assert.Equal(t, "https://hotaru.example/users/alice", actor.URI)
	assert.False(t, actor.Remote())
	assert.Zero(t, fetcher.fetchCount())
}

func TestResolveByAcctWebFinger(t *testing.T) {
	actors := &fakeActorStore{byURI: map[string]types.Actor{}, byHandle: map[string]types.Actor{}}
	fetcher := &fakeFetcher{
		docs:      map[string]string{bobURI: bobDocument},
		webfinger: map[string]string{"bob@remote.example": bobURI},
	}
	r, _ := newTestResolver(actors, fetcher)

	actor, err := r.ResolveByAcct(context.Background(), "@bob@remote.example")
	require.NoError(t, err)
	assert.Equal(t, bobURI, actor.URI)
	assert.True(t, actor.Remote())
}

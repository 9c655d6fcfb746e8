package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hotaru-social/hotaru/delivery"
	"github.com/hotaru-social/hotaru/events"
	"github.com/hotaru-social/hotaru/types"
)

const (
	aliceActorURI = "https://hotaru.example/users/alice"
	bobActorURI   = "https://remote.example/users/bob"
	bobInboxURL   = "https://remote.example/users/bob/inbox"
)

type fakeWorkerStore struct {
	users      map[string]types.LocalUser
	notesByID  map[string]types.Note
	notesByURI map[string]types.Note
	follows    map[string]types.Follow

	created      []types.Follow
	accepted     []string
	deletedURIs  []string
	deletedPairs []string
}

func pairKey(actorURI, targetURI string) string { return actorURI + " " + targetURI }

func newFakeWorkerStore() *fakeWorkerStore {
	return &fakeWorkerStore{
		users:      map[string]types.LocalUser{"u1": {ID: "u1", Username: "alice"}},
		notesByID:  map[string]types.Note{},
		notesByURI: map[string]types.Note{},
		follows:    map[string]types.Follow{},
	}
}

func (f *fakeWorkerStore) FindLocalUserByID(ctx context.Context, id string) (types.LocalUser, error) {
	user, found := f.users[id]
	if !found {
		return types.LocalUser{}, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (f *fakeWorkerStore) FindNoteByID(ctx context.Context, id string) (types.Note, error) {
	note, found := f.notesByID[id]
	if !found {
		return types.Note{}, gorm.ErrRecordNotFound
	}
	return note, nil
}

func (f *fakeWorkerStore) FindNoteByURI(ctx context.Context, uri string) (types.Note, error) {
	note, found := f.notesByURI[uri]
	if !found {
		return types.Note{}, gorm.ErrRecordNotFound
	}
	return note, nil
}

func (f *fakeWorkerStore) FindFollowByPair(ctx context.Context, actorURI, targetURI string) (types.Follow, error) {
	follow, found := f.follows[pairKey(actorURI, targetURI)]
	if !found {
		return types.Follow{}, gorm.ErrRecordNotFound
	}
	return follow, nil
}

func (f *fakeWorkerStore) CreateFollow(ctx context.Context, follow types.Follow) error {
	f.created = append(f.created, follow)
	f.follows[pairKey(follow.ActorURI, follow.TargetActorURI)] = follow
	return nil
}

func (f *fakeWorkerStore) DeleteFollowByPair(ctx context.Context, actorURI, targetURI string) error {
	delete(f.follows, pairKey(actorURI, targetURI))
	f.deletedPairs = append(f.deletedPairs, pairKey(actorURI, targetURI))
	return nil
}

func (f *fakeWorkerStore) DeleteFollowByURI(ctx context.Context, uri string) error {
	f.deletedURIs = append(f.deletedURIs, uri)
	return nil
}

func (f *fakeWorkerStore) MarkFollowAccepted(ctx context.Context, uri string) error {
	f.accepted = append(f.accepted, uri)
	return nil
}

type fakeActorSource struct {
	actors map[string]types.Actor
}

func (f *fakeActorSource) Resolve(ctx context.Context, actorURI string, forceRefresh bool) (types.Actor, error) {
	actor, found := f.actors[actorURI]
	if !found {
		return types.Actor{}, gorm.ErrRecordNotFound
	}
	return actor, nil
}

func (f *fakeActorSource) ResolveByAcct(ctx context.Context, acct string) (types.Actor, error) {
	return types.Actor{}, gorm.ErrRecordNotFound
}

type sentActivity struct {
	inbox    string
	activity *types.Activity
	priority delivery.Priority
}

type fakeDelivery struct {
	fanouts   []sentActivity
	singles   []sentActivity
	follow    types.Activity
	withdrawn []string
}

func (f *fakeDelivery) Fanout(ctx context.Context, user types.LocalUser, activity *types.Activity, priority delivery.Priority) error {
	f.fanouts = append(f.fanouts, sentActivity{activity: activity, priority: priority})
	return nil
}

func (f *fakeDelivery) DeliverToInbox(ctx context.Context, inboxURL string, activity *types.Activity, signer types.LocalUser, priority delivery.Priority) error {
	f.singles = append(f.singles, sentActivity{inbox: inboxURL, activity: activity, priority: priority})
	return nil
}

func (f *fakeDelivery) RequestFollow(ctx context.Context, user types.LocalUser, targetActorURI string) (types.Activity, error) {
	return f.follow, nil
}

func (f *fakeDelivery) WithdrawFollow(ctx context.Context, user types.LocalUser, targetActorURI, followURI string) error {
	f.withdrawn = append(f.withdrawn, followURI)
	return nil
}

type workerEnv struct {
	worker   *Worker
	store    *fakeWorkerStore
	delivery *fakeDelivery
}

func newWorkerEnv() *workerEnv {
	env := &workerEnv{
		store:    newFakeWorkerStore(),
		delivery: &fakeDelivery{},
	}
	env.worker = NewWorker(
		nil,
		env.store,
		env.delivery,
		delivery.NewBuilder("hotaru.example"),
		&fakeActorSource{actors: map[string]types.Actor{
			bobActorURI: {URI: bobActorURI, Host: "remote.example", Inbox: bobInboxURL},
		}},
		nil,
		types.FederationConfig{FQDN: "hotaru.example"},
	)
	return env
}

func TestNoteDeletedFansOutLow(t *testing.T) {
	env := newWorkerEnv()

	err := env.worker.handle(context.Background(), events.Event{
		Kind:    events.KindNoteDeleted,
		UserID:  "u1",
		NoteURI: "https://hotaru.example/notes/n1",
	})
	require.NoError(t, err)

	require.Len(t, env.delivery.fanouts, 1)
	sent := env.delivery.fanouts[0]
	assert.Equal(t, types.TypeDelete, sent.activity.Type)
	assert.Equal(t, delivery.PriorityLow, sent.priority)
}

func TestFollowApprovedSendsUrgentAccept(t *testing.T) {
	env := newWorkerEnv()
	followURI := "https://remote.example/activities/follow-1"
	env.store.follows[pairKey(bobActorURI, aliceActorURI)] = types.Follow{
		URI: followURI, ActorURI: bobActorURI, TargetActorURI: aliceActorURI,
	}

	err := env.worker.handle(context.Background(), events.Event{
		Kind:     events.KindFollowApproved,
		UserID:   "u1",
		ActorURI: bobActorURI,
	})
	require.NoError(t, err)

	require.Len(t, env.delivery.singles, 1)
	sent := env.delivery.singles[0]
	assert.Equal(t, bobInboxURL, sent.inbox)
	assert.Equal(t, types.TypeAccept, sent.activity.Type)
	assert.Equal(t, delivery.PriorityUrgent, sent.priority)
	assert.Equal(t, []string{followURI}, env.store.accepted)
}

func TestFollowRejectedSendsRejectAndDropsEdge(t *testing.T) {
	env := newWorkerEnv()
	followURI := "https://remote.example/activities/follow-1"
	env.store.follows[pairKey(bobActorURI, aliceActorURI)] = types.Follow{
		URI: followURI, ActorURI: bobActorURI, TargetActorURI: aliceActorURI,
	}

	err := env.worker.handle(context.Background(), events.Event{
		Kind:     events.KindFollowRejected,
		UserID:   "u1",
		ActorURI: bobActorURI,
	})
	require.NoError(t, err)

	require.Len(t, env.delivery.singles, 1)
	sent := env.delivery.singles[0]
	assert.Equal(t, types.TypeReject, sent.activity.Type)
	assert.Equal(t, delivery.PriorityUrgent, sent.priority)
	assert.Equal(t, []string{followURI}, env.store.deletedURIs)
	assert.Empty(t, env.store.accepted)
}

func TestFollowRequestedRecordsPendingEdge(t *testing.T) {
	env := newWorkerEnv()
	env.delivery.follow = types.Activity{
		ID:   "https://hotaru.example/activities/follow/bob",
		Type: types.TypeFollow,
	}

	err := env.worker.handle(context.Background(), events.Event{
		Kind:      events.KindFollowRequested,
		UserID:    "u1",
		TargetURI: bobActorURI,
	})
	require.NoError(t, err)

	require.Len(t, env.store.created, 1)
	edge := env.store.created[0]
	assert.Equal(t, "https://hotaru.example/activities/follow/bob", edge.URI)
	assert.Equal(t, aliceActorURI, edge.ActorURI)
	assert.False(t, edge.Accepted)
}

package delivery

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hotaru-social/hotaru/types"
)

func testKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

type fakeActorResolver struct {
	actors map[string]types.Actor
}

func (f *fakeActorResolver) Resolve(ctx context.Context, actorURI string, forceRefresh bool) (types.Actor, error) {
	actor, found := f.actors[actorURI]
	if !found {
		return types.Actor{}, gorm.ErrRecordNotFound
	}
	return actor, nil
}

type fakeFollowers struct {
	follows []types.Follow
}

func (f *fakeFollowers) ListFollowers(ctx context.Context, targetURI string) ([]types.Follow, error) {
	return f.follows, nil
}

type fakeBlocks struct {
	hosts map[string]bool
}

func (f *fakeBlocks) IsBlocked(ctx context.Context, host string) (bool, error) {
	return f.hosts[host], nil
}

func drainJobs(queue *Queue, priority Priority) []*Job {
	var jobs []*Job
	for {
		select {
		case job := <-queue.channels[priority]:
			jobs = append(jobs, job)
		default:
			return jobs
		}
	}
}

func TestFanoutCollapsesSharedInboxes(t *testing.T) {
	sharedB := "https://b.example/inbox"
	resolver := &fakeActorResolver{actors: map[string]types.Actor{
		"https://b.example/users/bob": {
			URI: "https://b.example/users/bob", Host: "b.example",
			Inbox: "https://b.example/users/bob/inbox", SharedInbox: sharedB,
		},
		"https://b.example/users/carol": {
			URI: "https://b.example/users/carol", Host: "b.example",
			Inbox: "https://b.example/users/carol/inbox", SharedInbox: sharedB,
		},
		"https://c.example/users/dave": {
			URI: "https://c.example/users/dave", Host: "c.example",
			Inbox: "https://c.example/users/dave/inbox",
		},
	}}
	followers := &fakeFollowers{follows: []types.Follow{
		{ActorURI: "https://b.example/users/bob"},
		{ActorURI: "https://b.example/users/carol"},
		{ActorURI: "https://c.example/users/dave"},
	}}

	queue := NewQueue(nil, nil, nil, 0)
	builder := NewBuilder("hotaru.example")
	service := NewService(queue, builder, resolver, followers, &fakeBlocks{hosts: map[string]bool{}},
		types.FederationConfig{FQDN: "hotaru.example"})

	user := types.LocalUser{ID: "u1", Username: "alice", Privatekey: testKeyPEM(t)}
	activity := builder.BuildCreate(user, types.Note{ID: "n1", Content: "hi", Published: time.Now()}, time.Now())

	require.NoError(t, service.Fanout(context.Background(), user, &activity, PriorityNormal))

	jobs := drainJobs(queue, PriorityNormal)
	require.Len(t, jobs, 2)

	inboxes := map[string]bool{}
	for _, job := range jobs {
		inboxes[job.InboxURL] = true
		assert.Equal(t, "https://hotaru.example/users/alice#main-key", job.KeyID)
		assert.NotNil(t, job.PrivateKey)
	}
	assert.True(t, inboxes[sharedB])
	assert.True(t, inboxes["https://c.example/users/dave/inbox"])
}

func TestFanoutSkipsBlockedAndGone(t *testing.T) {
	goneAt := time.Now()
	resolver := &fakeActorResolver{actors: map[string]types.Actor{
		"https://blocked.example/users/eve": {
			URI: "https://blocked.example/users/eve", Host: "blocked.example",
			Inbox: "https://blocked.example/users/eve/inbox",
		},
		"https://dead.example/users/zed": {
			URI: "https://dead.example/users/zed", Host: "dead.example",
			Inbox: "https://dead.example/users/zed/inbox", GoneDetectedAt: &goneAt,
		},
	}}
	followers := &fakeFollowers{follows: []types.Follow{
		{ActorURI: "https://blocked.example/users/eve"},
		{ActorURI: "https://dead.example/users/zed"},
	}}

	queue := NewQueue(nil, nil, nil, 0)
	builder := NewBuilder("hotaru.example")
	service := NewService(queue, builder, resolver, followers,
		&fakeBlocks{hosts: map[string]bool{"blocked.example": true}},
		types.FederationConfig{FQDN: "hotaru.example"})

	user := types.LocalUser{ID: "u1", Username: "alice", Privatekey: testKeyPEM(t)}
	activity := builder.BuildAnnounce(user, "https://remote.example/notes/1", time.Now())

	require.NoError(t, service.Fanout(context.Background(), user, &activity, PriorityNormal))
	assert.Empty(t, drainJobs(queue, PriorityNormal))
}

func TestFanoutKeylessAccountIsNoop(t *testing.T) {
	queue := NewQueue(nil, nil, nil, 0)
	builder := NewBuilder("hotaru.example")
	service := NewService(queue, builder, &fakeActorResolver{}, &fakeFollowers{},
		&fakeBlocks{hosts: map[string]bool{}}, types.FederationConfig{FQDN: "hotaru.example"})

	user := types.LocalUser{ID: "u1", Username: "ghost"}
	activity := builder.BuildAnnounce(user, "https://remote.example/notes/1", time.Now())

	require.NoError(t, service.Fanout(context.Background(), user, &activity, PriorityNormal))
	assert.Empty(t, drainJobs(queue, PriorityNormal))
}

func TestRequestFollowGoesOutUrgent(t *testing.T) {
	targetURI := "https://remote.example/users/bob"
	resolver := &fakeActorResolver{actors: map[string]types.Actor{
		targetURI: {URI: targetURI, Host: "remote.example", Inbox: targetURI + "/inbox"},
	}}

	queue := NewQueue(nil, nil, nil, 0)
	builder := NewBuilder("hotaru.example")
	service := NewService(queue, builder, resolver, &fakeFollowers{},
		&fakeBlocks{hosts: map[string]bool{}}, types.FederationConfig{FQDN: "hotaru.example"})

	user := types.LocalUser{ID: "u1", Username: "alice", Privatekey: testKeyPEM(t)}
	activity, err := service.RequestFollow(context.Background(), user, targetURI)
	require.NoError(t, err)
	assert.Equal(t, types.TypeFollow, activity.Type)

	// Handshake traffic never queues behind fanout.
	jobs := drainJobs(queue, PriorityUrgent)
	require.Len(t, jobs, 1)
	assert.Equal(t, targetURI+"/inbox", jobs[0].InboxURL)
}

func TestWithdrawFollowGoesOutUrgent(t *testing.T) {
	targetURI := "https://remote.example/users/bob"
	resolver := &fakeActorResolver{actors: map[string]types.Actor{
		targetURI: {URI: targetURI, Host: "remote.example", Inbox: targetURI + "/inbox"},
	}}

	queue := NewQueue(nil, nil, nil, 0)
	builder := NewBuilder("hotaru.example")
	service := NewService(queue, builder, resolver, &fakeFollowers{},
		&fakeBlocks{hosts: map[string]bool{}}, types.FederationConfig{FQDN: "hotaru.example"})

	user := types.LocalUser{ID: "u1", Username: "alice", Privatekey: testKeyPEM(t)}
	err := service.WithdrawFollow(context.Background(), user, targetURI,
		"https://hotaru.example/activities/follow/bob")
	require.NoError(t, err)

	jobs := drainJobs(queue, PriorityUrgent)
	require.Len(t, jobs, 1)
}

func TestDeliverToInboxRequiresKey(t *testing.T) {
	queue := NewQueue(nil, nil, nil, 0)
	builder := NewBuilder("hotaru.example")
	service := NewService(queue, builder, &fakeActorResolver{}, &fakeFollowers{},
		&fakeBlocks{hosts: map[string]bool{}}, types.FederationConfig{FQDN: "hotaru.example"})

	activity := builder.BuildAnnounce(types.LocalUser{Username: "ghost"}, "https://remote.example/notes/1", time.Now())
	err := service.DeliverToInbox(context.Background(), "https://remote.example/inbox",
		&activity, types.LocalUser{ID: "u1", Username: "ghost"}, PriorityUrgent)
	assert.Error(t, err)
}

func TestDeliverToInboxDropsBlockedHost(t *testing.T) {
	queue := NewQueue(nil, nil, nil, 0)
	builder := NewBuilder("hotaru.example")
	service := NewService(queue, builder, &fakeActorResolver{}, &fakeFollowers{},
		&fakeBlocks{hosts: map[string]bool{"blocked.example": true}},
		types.FederationConfig{FQDN: "hotaru.example"})

	user := types.LocalUser{ID: "u1", Username: "alice", Privatekey: testKeyPEM(t)}
	activity := builder.BuildAnnounce(user, "https://remote.example/notes/1", time.Now())

	err := service.DeliverToInbox(context.Background(), "https://blocked.example/inbox",
		&activity, user, PriorityUrgent)
	require.NoError(t, err)
	assert.Empty(t, drainJobs(queue, PriorityUrgent))
}

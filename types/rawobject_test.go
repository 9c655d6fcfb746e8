package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawObjectDottedPath(t *testing.T) {
	doc, err := ParseRawObject([]byte(`{
		"id": "https://remote.example/users/alice",
		"icon": {"type": "Image", "url": "https://remote.example/icon.png"},
		"endpoints": {"sharedInbox": "https://remote.example/inbox"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "https://remote.example/users/alice", doc.MustGetString("id"))
	assert.Equal(t, "https://remote.example/icon.png", doc.MustGetString("icon.url"))
	assert.Equal(t, "https://remote.example/inbox", doc.MustGetString("endpoints.sharedInbox"))

	_, found := doc.GetString("icon.missing")
	assert.False(t, found)
	assert.Equal(t, "", doc.MustGetString("publicKey.publicKeyPem"))
}

func TestRawObjectStringOrList(t *testing.T) {
	doc, err := ParseRawObject([]byte(`{
		"context": ["https://www.w3.org/ns/activitystreams", {"sensitive": "as:sensitive"}],
		"alsoKnownAs": "https://old.example/users/alice"
	}`))
	require.NoError(t, err)

	// A list-valued field yields its first string element.
	assert.Equal(t, "https://www.w3.org/ns/activitystreams", doc.MustGetString("context"))

	// A bare string reads as a one-element list.
	assert.Equal(t, []string{"https://old.example/users/alice"}, doc.GetStringList("alsoKnownAs"))
}

func TestRawObjectGetList(t *testing.T) {
	doc, err := ParseRawObject([]byte(`{
		"tag": [
			{"type": "Emoji", "name": ":blobcat:"},
			{"type": "Mention", "name": "@bob@remote.example"}
		],
		"attachment": {"type": "Document", "url": "https://remote.example/a.png"}
	}`))
	require.NoError(t, err)

	tags := doc.GetList("tag")
	require.Len(t, tags, 2)
	assert.Equal(t, ":blobcat:", tags[0].MustGetString("name"))

	// A single embedded object reads as a one-element list.
	attachments := doc.GetList("attachment")
	require.Len(t, attachments, 1)
	assert.Equal(t, "https://remote.example/a.png", attachments[0].MustGetString("url"))
}

func TestAsRawObject(t *testing.T) {
	assert.Nil(t, AsRawObject("https://remote.example/notes/1"))
	assert.Nil(t, AsRawObject(nil))

	obj := AsRawObject(map[string]any{"id": "x"})
	require.NotNil(t, obj)
	assert.Equal(t, "x", obj.MustGetString("id"))
}

func TestActivityTypeKnown(t *testing.T) {
	assert.True(t, TypeFollow.Known())
	assert.True(t, TypeUpdate.Known())
	assert.False(t, ActivityType("Arrive").Known())
	assert.False(t, ActivityType("").Known())
}

func TestActorRefUnmarshal(t *testing.T) {
	var a Activity
	require.NoError(t, a.Actor.UnmarshalJSON([]byte(`"https://remote.example/users/alice"`)))
	assert.Equal(t, "https://remote.example/users/alice", a.Actor.String())

	require.NoError(t, a.Actor.UnmarshalJSON([]byte(`{"id": "https://remote.example/users/bob"}`)))
	assert.Equal(t, "https://remote.example/users/bob", a.Actor.String())
}

package types

import (
	"time"

	"github.com/lib/pq"
)

// LocalUser is a db model of an account hosted on this instance.
type LocalUser struct {
	ID          string `json:"id" gorm:"primaryKey;type:uuid"`
	Username    string `json:"username" gorm:"type:text;uniqueIndex"`
	DisplayName string `json:"displayName" gorm:"type:text"`
	Summary     string `json:"summary" gorm:"type:text"`
	IconURL     string `json:"iconURL" gorm:"type:text"`
	Publickey   string `json:"publickey" gorm:"type:text"`
	Privatekey  string `json:"-" gorm:"type:text"`
	// ManuallyApprovesFollowers holds incoming Follows for the owner's
	// decision instead of auto-accepting them.
	ManuallyApprovesFollowers bool `json:"manuallyApprovesFollowers"`
	CreatedAt                 time.Time
}

// Actor is a db model of a remote ActivityPub identity. Rows are cache
// entries owned by the persistent store; in-memory copies are disposable
// projections with a TTL.
type Actor struct {
	ID                string         `json:"id" gorm:"primaryKey;type:uuid"`
	Username          string         `json:"username" gorm:"type:text;uniqueIndex:uniq_actor_handle"`
	Host              string         `json:"host" gorm:"type:text;uniqueIndex:uniq_actor_handle"`
	URI               string         `json:"uri" gorm:"type:text;uniqueIndex"`
	Inbox             string         `json:"inbox" gorm:"type:text"`
	SharedInbox       string         `json:"sharedInbox" gorm:"type:text"`
	FollowersURI      string         `json:"followersURI" gorm:"type:text"`
	FollowingURI      string         `json:"followingURI" gorm:"type:text"`
	Name              string         `json:"name" gorm:"type:text"`
	Summary           string         `json:"summary" gorm:"type:text"`
	IconURL           string         `json:"iconURL" gorm:"type:text"`
	PublicKeyPem      string         `json:"publicKeyPem" gorm:"type:text"`
	ProfileEmojis     pq.StringArray `json:"profileEmojis" gorm:"type:text[]"`
	AlsoKnownAs       pq.StringArray `json:"alsoKnownAs" gorm:"type:text[]"`
	MovedTo           string         `json:"movedTo" gorm:"type:text"`
	GoneDetectedAt    *time.Time     `json:"goneDetectedAt"`
	FetchFailureCount int            `json:"fetchFailureCount"`
	LastFetchError    string         `json:"lastFetchError" gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Remote reports whether the actor lives on another instance.
func (a Actor) Remote() bool { return a.Host != "" }

// Follow is a db model of a follow edge, in either direction. ActorURI is
// the follower, TargetActorURI the followee; both are canonical actor URIs.
type Follow struct {
	ID             string `json:"id" gorm:"primaryKey;type:uuid"`
	URI            string `json:"uri" gorm:"type:text;index"` // id of the Follow activity
	ActorURI       string `json:"actor" gorm:"type:text;uniqueIndex:uniq_follow"`
	TargetActorURI string `json:"target" gorm:"type:text;uniqueIndex:uniq_follow"`
	Accepted       bool   `json:"accepted"`
	CreatedAt      time.Time
}

// Note is a db model of a note, local or ingested from a remote Create.
// Deletion keeps the row: TombstonedAt marks it and the content is cleared,
// so the note URI keeps answering with a Tombstone.
type Note struct {
	ID           string         `json:"id" gorm:"primaryKey;type:uuid"`
	URI          string         `json:"uri" gorm:"type:text;uniqueIndex"`
	AuthorURI    string         `json:"author" gorm:"type:text;index"`
	Content      string         `json:"content" gorm:"type:text"`
	Summary      string         `json:"summary" gorm:"type:text"`
	Sensitive    bool           `json:"sensitive"`
	LocalOnly    bool           `json:"localOnly"`
	Emojis       pq.StringArray `json:"emojis" gorm:"type:text[]"`
	Attachments  pq.StringArray `json:"attachments" gorm:"type:text[]"`
	Published    time.Time      `json:"published"`
	TombstonedAt *time.Time     `json:"tombstonedAt,omitempty"`
	CreatedAt    time.Time
}

// Reaction is a db model of a Like, optionally carrying a custom emoji.
type Reaction struct {
	ID        string `json:"id" gorm:"primaryKey;type:uuid"`
	URI       string `json:"uri" gorm:"type:text;index"` // id of the Like activity, may be empty
	ActorURI  string `json:"actor" gorm:"type:text;uniqueIndex:uniq_reaction"`
	NoteURI   string `json:"note" gorm:"type:text;uniqueIndex:uniq_reaction"`
	Shortcode string `json:"shortcode" gorm:"type:text"`
	ImageURL  string `json:"imageURL" gorm:"type:text"`
	CreatedAt time.Time
}

// Boost is a db model of an Announce pointer.
type Boost struct {
	ID        string `json:"id" gorm:"primaryKey;type:uuid"`
	URI       string `json:"uri" gorm:"type:text;index"`
	ActorURI  string `json:"actor" gorm:"type:text;uniqueIndex:uniq_boost"`
	NoteURI   string `json:"note" gorm:"type:text;uniqueIndex:uniq_boost"`
	CreatedAt time.Time
}

// ReceivedActivity is the deduplication ledger. Rows are write-once; the
// existence of a row is the at-most-once gate for an activity id.
type ReceivedActivity struct {
	ActivityID string    `json:"activityID" gorm:"primaryKey;type:text"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// InstanceBlock marks a remote host whose traffic is dropped in both
// directions. Mutated only through administrative action.
type InstanceBlock struct {
	Host      string    `json:"host" gorm:"primaryKey;type:text"`
	Reason    string    `json:"reason" gorm:"type:text"`
	BlockedAt time.Time `json:"blockedAt"`
}

// DeliveryRecord backs the delivery queue so acknowledged jobs survive a
// process restart. The private key is not persisted; it is reloaded from the
// signer's LocalUser row on recovery.
type DeliveryRecord struct {
	ID            string    `json:"id" gorm:"primaryKey;type:uuid"`
	InboxURL      string    `json:"inboxURL" gorm:"type:text"`
	KeyID         string    `json:"keyID" gorm:"type:text"`
	SignerID      string    `json:"signerID" gorm:"type:uuid"`
	Activity      []byte    `json:"activity" gorm:"type:bytea"`
	Priority      int       `json:"priority"`
	AttemptCount  int       `json:"attemptCount"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	CreatedAt     time.Time
}

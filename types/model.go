package types

import "encoding/json"

// ActivityType is the closed set of activity vocabulary this server understands.
// Unknown tags still parse; the dispatcher treats them as "unsupported, ignored".
type ActivityType string

const (
	TypeFollow   ActivityType = "Follow"
	TypeUndo     ActivityType = "Undo"
	TypeLike     ActivityType = "Like"
	TypeCreate   ActivityType = "Create"
	TypeDelete   ActivityType = "Delete"
	TypeAccept   ActivityType = "Accept"
	TypeReject   ActivityType = "Reject"
	TypeAnnounce ActivityType = "Announce"
	TypeUpdate   ActivityType = "Update"
)

// Known reports whether t is part of the supported vocabulary.
func (t ActivityType) Known() bool {
	switch t {
	case TypeFollow, TypeUndo, TypeLike, TypeCreate, TypeDelete,
		TypeAccept, TypeReject, TypeAnnounce, TypeUpdate:
		return true
	}
	return false
}

// ActorRef is an activity's actor field. Peers send either a bare URI string
// or an embedded object carrying an "id"; both decode to the URI.
type ActorRef string

func (a *ActorRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = ActorRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*a = ActorRef(obj.ID)
	return nil
}

func (a ActorRef) String() string { return string(a) }

// Activity is the wire envelope of an inbound or outbound activity.
type Activity struct {
	Context         any          `json:"@context,omitempty"`
	ID              string       `json:"id,omitempty"`
	Type            ActivityType `json:"type,omitempty"`
	Actor           ActorRef     `json:"actor,omitempty"`
	Object          any          `json:"object,omitempty"`
	Target          string       `json:"target,omitempty"`
	Published       string       `json:"published,omitempty"`
	To              []string     `json:"to,omitempty"`
	CC              []string     `json:"cc,omitempty"`
	Tag             []Tag        `json:"tag,omitempty"`
	MisskeyReaction string       `json:"_misskey_reaction,omitempty"`
}

// ApObject is a generic ActivityPub document: Person, Note, Tombstone and the
// embedded objects of built activities all use this shape.
type ApObject struct {
	Context           any              `json:"@context,omitempty"`
	Type              string           `json:"type,omitempty"`
	ID                string           `json:"id,omitempty"`
	To                []string         `json:"to,omitempty"`
	CC                []string         `json:"cc,omitempty"`
	Tag               []Tag            `json:"tag,omitempty"`
	Attachment        []Attachment     `json:"attachment,omitempty"`
	InReplyTo         string           `json:"inReplyTo,omitempty"`
	Content           string           `json:"content,omitempty"`
	Published         string           `json:"published,omitempty"`
	AttributedTo      string           `json:"attributedTo,omitempty"`
	Inbox             string           `json:"inbox,omitempty"`
	Outbox            string           `json:"outbox,omitempty"`
	SharedInbox       string           `json:"sharedInbox,omitempty"`
	Endpoints         *PersonEndpoints `json:"endpoints,omitempty"`
	Followers         string           `json:"followers,omitempty"`
	Following         string           `json:"following,omitempty"`
	PreferredUsername string           `json:"preferredUsername,omitempty"`
	Name              string           `json:"name,omitempty"`
	Summary           string           `json:"summary,omitempty"`
	URL               string           `json:"url,omitempty"`
	Icon              *Icon            `json:"icon,omitempty"`
	PublicKey         *Key             `json:"publicKey,omitempty"`
	Sensitive         bool             `json:"sensitive,omitempty"`
	AlsoKnownAs       []string         `json:"alsoKnownAs,omitempty"`
	MovedTo           string           `json:"movedTo,omitempty"`

	// Tombstone fields.
	FormerType string `json:"formerType,omitempty"`
	Deleted    string `json:"deleted,omitempty"`

	// Person field: the account reviews Follows instead of auto-accepting.
	ManuallyApprovesFollowers bool `json:"manuallyApprovesFollowers,omitempty"`
}

type PersonEndpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// Key is the publicKey field of an actor document.
type Key struct {
	ID           string `json:"id,omitempty"`
	Type         string `json:"type,omitempty"`
	Owner        string `json:"owner,omitempty"`
	PublicKeyPem string `json:"publicKeyPem,omitempty"`
}

// Icon is the icon field of an actor document.
type Icon struct {
	Type      string `json:"type,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url,omitempty"`
}

type Attachment struct {
	Type      string `json:"type,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url,omitempty"`
	Sensitive bool   `json:"sensitive,omitempty"`
}

type Tag struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Icon *Icon  `json:"icon,omitempty"`
	Href string `json:"href,omitempty"`
}

// ---------------------------------------------------------------------

// WebFinger is a struct for a WebFinger response.
type WebFinger struct {
	Subject string          `json:"subject"`
	Links   []WebFingerLink `json:"links"`
}

// WebFingerLink is a struct for the links field of a WebFinger response.
type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

// WellKnown is a struct for a well-known response.
type WellKnown struct {
	Links []WellKnownLink `json:"links"`
}

type WellKnownLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// NodeInfo is a struct for a NodeInfo response.
type NodeInfo struct {
	Version           string           `json:"version,omitempty" yaml:"version"`
	Software          NodeInfoSoftware `json:"software,omitempty" yaml:"software"`
	Protocols         []string         `json:"protocols,omitempty" yaml:"protocols"`
	OpenRegistrations bool             `json:"openRegistrations,omitempty" yaml:"openRegistrations"`
	Metadata          NodeInfoMetadata `json:"metadata,omitempty" yaml:"metadata"`
}

type NodeInfoSoftware struct {
	Name    string `json:"name,omitempty" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version"`
}

type NodeInfoMetadata struct {
	NodeName        string                     `json:"nodeName,omitempty" yaml:"nodeName"`
	NodeDescription string                     `json:"nodeDescription,omitempty" yaml:"nodeDescription"`
	Maintainer      NodeInfoMetadataMaintainer `json:"maintainer,omitempty" yaml:"maintainer"`
	ThemeColor      string                     `json:"themeColor,omitempty" yaml:"themeColor"`
}

type NodeInfoMetadataMaintainer struct {
	Name  string `json:"name,omitempty" yaml:"name"`
	Email string `json:"email,omitempty" yaml:"email"`
}

// ---------------------------------------------------------------------

// FederationConfig carries the instance identity the federation layer needs.
type FederationConfig struct {
	FQDN string `yaml:"fqdn"`
	// SystemUser is the local account whose key signs actor fetches toward
	// peers that require signed GETs. Optional.
	SystemUser string `yaml:"systemUser"`
}

package domain

import (
	"github.com/google/uuid"
	"time"
)

// RemoteAccount represents a cached federated user
type RemoteAccount struct {
	Id             uuid.UUID
	Username       string
	Domain         string
	ActorURI       string
	DisplayName    string
	Summary        string
	InboxURI       string
	OutboxURI      string
	SharedInboxURI string
	PublicKeyPem   string
	AvatarURL      string
	MovedToURI     string
	LastFetchedAt  time.Time
}

// RemoteFollow is a remote actor following a local account. The delivery
// inbox is stored on the edge so fan-out never needs a live actor fetch.
type RemoteFollow struct {
	Id             uuid.UUID
	LocalAccountId uuid.UUID
	ActorURI       string
	InboxURI       string
	SharedInboxURI string
	ActivityURI    string
	DisplayName    string
	AvatarURL      string
	CreatedAt      time.Time
}

// Following is a local account following a remote actor. The activity URI
// correlates Accept/Undo; the target fields are rewritten in place when the
// remote actor moves.
type Following struct {
	Id             uuid.UUID
	LocalAccountId uuid.UUID
	TargetActorURI string
	TargetHandle   string
	TargetInboxURI string
	ActivityURI    string
	Accepted       bool
	CreatedAt      time.Time
}

// RemotePost is a read-only cache of a remote Note, at most one row per
// activity id. Content is immutable once cached.
type RemotePost struct {
	Id           uuid.UUID
	ApID         string
	AuthorURI    string
	AuthorName   string
	AuthorAvatar string
	Content      string
	Published    time.Time
	CreatedAt    time.Time
}

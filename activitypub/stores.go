package activitypub

import (
	"github.com/deemkeen/loxodon/domain"
	"github.com/google/uuid"
)

// The federation engine reaches persistence through these three narrow
// interfaces. db.DB implements all of them.

// ProfileStore covers local accounts, cached remote actors and the two
// follow relations.
type ProfileStore interface {
	ReadAccByUsername(username string) (error, *domain.Account)
	ReadAccById(id uuid.UUID) (error, *domain.Account)
	IncrementFollowerCount(id uuid.UUID) error
	DecrementFollowerCount(id uuid.UUID) error

	CreateRemoteAccount(acc *domain.RemoteAccount) error
	UpdateRemoteAccount(acc *domain.RemoteAccount) error
	UpdateRemoteAccountMovedTo(actorURI string, movedToURI string) error
	ReadRemoteAccountByURI(uri string) (error, *domain.RemoteAccount)

	CreateRemoteFollow(follow *domain.RemoteFollow) error
	ReadRemoteFollow(localAccountId uuid.UUID, actorURI string) (error, *domain.RemoteFollow)
	ReadRemoteFollowsByAccountId(localAccountId uuid.UUID) (error, *[]domain.RemoteFollow)
	DeleteRemoteFollow(localAccountId uuid.UUID, actorURI string) error

	CreateFollowing(follow *domain.Following) error
	ReadFollowing(localAccountId uuid.UUID, targetActorURI string) (error, *domain.Following)
	ReadFollowingByTarget(targetActorURI string) (error, *[]domain.Following)
	UpdateFollowingTarget(id uuid.UUID, targetActorURI, targetHandle, targetInboxURI, activityURI string) error
	AcceptFollowingByURI(activityURI string) error
	DeleteFollowing(id uuid.UUID) error
}

// PostStore covers local notes and the cache of remote notes.
type PostStore interface {
	ReadNoteId(id uuid.UUID) (error, *domain.Note)
	IncrementNoteLikeCount(id uuid.UUID) error
	IncrementNoteRepostCount(id uuid.UUID) error

	CreateRemotePost(post *domain.RemotePost) error
	ReadRemotePostByApID(apID string) (error, *domain.RemotePost)
	DeleteRemotePostByApID(apID string) error
}

// KeyStore hands out signing keys for local accounts.
type KeyStore interface {
	GetPrivateKey(username string) (error, string)
}

package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRemoteAccountFields(t *testing.T) {
	acc := RemoteAccount{
		Id:             uuid.New(),
		Username:       "bob",
		Domain:         "remote.example",
		ActorURI:       "https://remote.example/users/bob",
		InboxURI:       "https://remote.example/users/bob/inbox",
		SharedInboxURI: "https://remote.example/inbox",
		LastFetchedAt:  time.Now(),
	}

	if acc.MovedToURI != "" {
		t.Error("New remote account should not carry a movedTo pointer")
	}
	if acc.SharedInboxURI == acc.InboxURI {
		t.Error("Shared inbox should differ from the personal inbox here")
	}
}

func TestFollowingStartsPending(t *testing.T) {
	edge := Following{
		Id:             uuid.New(),
		LocalAccountId: uuid.New(),
		TargetActorURI: "https://remote.example/users/bob",
		TargetInboxURI: "https://remote.example/users/bob/inbox",
		ActivityURI:    "https://local.example/activities/xyz",
	}

	if edge.Accepted {
		t.Error("Outbound follow edge should start pending")
	}
}

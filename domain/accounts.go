package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// Account is a local identity. It owns the federation keypair and the
// portable identifier; remote identities never materialize a private key.
type Account struct {
	Id             uuid.UUID
	Username       string
	DisplayName    string
	Summary        string
	AvatarURL      string
	Did            string
	FollowersCount int
	Suspended      bool
	CreatedAt      time.Time
	WebPublicKey   string
	WebPrivateKey  string
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tDid: %s \n\tCREATED_AT: %s)", acc.Id, acc.Username, acc.Did, acc.CreatedAt)
}

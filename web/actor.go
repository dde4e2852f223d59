package web

import (
	"fmt"
	"time"

	"github.com/deemkeen/loxodon/activitypub"
	"github.com/deemkeen/loxodon/db"
	"github.com/deemkeen/loxodon/util"
	"github.com/google/uuid"
)

func GetActor(database *db.DB, actor string, conf *util.AppConfig) (error, *activitypub.ActorDocument) {
	err, acc := database.ReadAccByUsername(actor)
	if err != nil {
		return err, nil
	}
	return nil, activitypub.NewActorDocument(acc, conf.Conf.SslDomain)
}

// noteDocument is a served Note object, the standalone variant of the
// object embedded in outbound Create activities.
type noteDocument struct {
	Context      string   `json:"@context"`
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	AttributedTo string   `json:"attributedTo"`
	Content      string   `json:"content"`
	Published    string   `json:"published"`
	To           []string `json:"to"`
	Cc           []string `json:"cc"`
}

func GetNoteObject(database *db.DB, noteId uuid.UUID, conf *util.AppConfig) (error, *noteDocument) {
	err, note := database.ReadNoteId(noteId)
	if err != nil {
		return err, nil
	}

	err, account := database.ReadAccByUsername(note.CreatedBy)
	if err != nil {
		return err, nil
	}

	domain := conf.Conf.SslDomain
	actorURI := fmt.Sprintf("https://%s/users/%s", domain, account.Username)

	return nil, &noteDocument{
		Context:      activitypub.StreamsContext,
		ID:           fmt.Sprintf("https://%s/notes/%s", domain, note.Id),
		Type:         "Note",
		AttributedTo: actorURI,
		Content:      util.EscapeContent(note.Message),
		Published:    note.CreatedAt.Format(time.RFC3339),
		To:           []string{activitypub.PublicAudience},
		Cc:           []string{fmt.Sprintf("%s/followers", actorURI)},
	}
}

// collectionStub is an empty OrderedCollection. Collection paging is not
// served, only the count.
type collectionStub struct {
	Context    string `json:"@context"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
}

func newCollectionStub(id string, totalItems int) *collectionStub {
	return &collectionStub{
		Context:    activitypub.StreamsContext,
		ID:         id,
		Type:       "OrderedCollection",
		TotalItems: totalItems,
	}
}

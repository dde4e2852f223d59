package activitypub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/loxodon/domain"
	"github.com/deemkeen/loxodon/util"
	"github.com/google/uuid"
)

const (
	StreamsContext = "https://www.w3.org/ns/activitystreams"
	PublicAudience = "https://www.w3.org/ns/activitystreams#Public"

	// Extension namespace for the DID-based migration fast path.
	LoxNamespace = "https://ns.loxodon.dev/ns#"
)

// ActivityType is the closed set of activity kinds the engine handles.
// Anything else is accepted and ignored for forward compatibility.
type ActivityType string

const (
	TypeCreate   ActivityType = "Create"
	TypeFollow   ActivityType = "Follow"
	TypeLike     ActivityType = "Like"
	TypeAnnounce ActivityType = "Announce"
	TypeUndo     ActivityType = "Undo"
	TypeAccept   ActivityType = "Accept"
	TypeReject   ActivityType = "Reject"
	TypeDelete   ActivityType = "Delete"
	TypeMove     ActivityType = "Move"
)

// Envelope is one wire-format activity. Built once per domain event and
// never mutated afterwards.
type Envelope struct {
	Context   interface{}     `json:"@context,omitempty"`
	ID        string          `json:"id"`
	Type      ActivityType    `json:"type"`
	Actor     string          `json:"actor"`
	Published string          `json:"published,omitempty"`
	To        []string        `json:"to,omitempty"`
	Cc        []string        `json:"cc,omitempty"`
	Object    json.RawMessage `json:"object,omitempty"`
	Target    string          `json:"target,omitempty"`
	MovedDID  string          `json:"lox:movedWithDid,omitempty"`
}

// NoteObject is the embedded object of a Create activity.
type NoteObject struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	AttributedTo string   `json:"attributedTo"`
	Content      string   `json:"content"`
	Published    string   `json:"published,omitempty"`
	To           []string `json:"to,omitempty"`
	Cc           []string `json:"cc,omitempty"`
}

// ParseEnvelope validates an inbound activity at the boundary. Handlers
// never see an envelope without id, type and actor.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed activity json: %w", err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("activity missing id")
	}
	if env.Type == "" {
		return nil, fmt.Errorf("activity missing type")
	}
	if env.Actor == "" {
		return nil, fmt.Errorf("activity missing actor")
	}
	return &env, nil
}

// ObjectURI returns the object reference: the object itself when it is a
// plain URI string, or its id when it is an embedded object.
func (env *Envelope) ObjectURI() string {
	if len(env.Object) == 0 {
		return ""
	}

	var uri string
	if err := json.Unmarshal(env.Object, &uri); err == nil {
		return uri
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Object, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// ObjectNote unmarshals the embedded object as a Note. Returns an error
// when the object is absent or not a Note.
func (env *Envelope) ObjectNote() (*NoteObject, error) {
	if len(env.Object) == 0 {
		return nil, fmt.Errorf("activity has no object")
	}
	var note NoteObject
	if err := json.Unmarshal(env.Object, &note); err != nil {
		return nil, fmt.Errorf("object is not an embedded note: %w", err)
	}
	if note.Type != "Note" {
		return nil, fmt.Errorf("object type is %q, not Note", note.Type)
	}
	return &note, nil
}

// EmbeddedActivity unmarshals the object of an Undo/Accept/Reject, which
// wraps an earlier activity by value.
func (env *Envelope) EmbeddedActivity() (*Envelope, error) {
	if len(env.Object) == 0 {
		return nil, fmt.Errorf("activity has no embedded object")
	}
	var inner Envelope
	if err := json.Unmarshal(env.Object, &inner); err != nil {
		return nil, fmt.Errorf("object is not an embedded activity: %w", err)
	}
	return &inner, nil
}

// NewActivityID mints an activity id under the node's namespace.
func NewActivityID(nodeDomain string) string {
	return fmt.Sprintf("https://%s/activities/%s", nodeDomain, uuid.New().String())
}

func mustRaw(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal activity object: %v", err))
	}
	return b
}

func rawString(s string) json.RawMessage {
	return mustRaw(s)
}

// NewCreate wraps a local note in a Create activity. The note content is
// HTML-escaped here, at serialization time, the stored plaintext stays as
// the user wrote it.
func NewCreate(note *domain.Note, account *domain.Account, nodeDomain string) *Envelope {
	actorURI := fmt.Sprintf("https://%s/users/%s", nodeDomain, account.Username)
	noteURI := fmt.Sprintf("https://%s/notes/%s", nodeDomain, note.Id.String())
	followersURI := actorURI + "/followers"
	published := note.CreatedAt.UTC().Format(time.RFC3339)

	obj := NoteObject{
		ID:           noteURI,
		Type:         "Note",
		AttributedTo: actorURI,
		Content:      util.EscapeContent(note.Message),
		Published:    published,
		To:           []string{PublicAudience},
		Cc:           []string{followersURI},
	}

	return &Envelope{
		Context:   StreamsContext,
		ID:        NewActivityID(nodeDomain),
		Type:      TypeCreate,
		Actor:     actorURI,
		Published: published,
		To:        []string{PublicAudience},
		Cc:        []string{followersURI},
		Object:    mustRaw(obj),
	}
}

// NewFollow builds a Follow of targetActorURI by actorURI.
func NewFollow(actorURI, targetActorURI, activityID string) *Envelope {
	return &Envelope{
		Context: StreamsContext,
		ID:      activityID,
		Type:    TypeFollow,
		Actor:   actorURI,
		Object:  rawString(targetActorURI),
	}
}

// NewAccept wraps an inbound Follow in an Accept addressed back to its
// sender.
func NewAccept(actorURI string, follow *Envelope, activityID string) *Envelope {
	inner := Envelope{
		ID:     follow.ID,
		Type:   TypeFollow,
		Actor:  follow.Actor,
		Object: rawString(actorURI),
	}
	return &Envelope{
		Context: StreamsContext,
		ID:      activityID,
		Type:    TypeAccept,
		Actor:   actorURI,
		Object:  mustRaw(inner),
	}
}

// NewReject mirrors NewAccept for a refused Follow.
func NewReject(actorURI string, follow *Envelope, activityID string) *Envelope {
	inner := Envelope{
		ID:     follow.ID,
		Type:   TypeFollow,
		Actor:  follow.Actor,
		Object: rawString(actorURI),
	}
	return &Envelope{
		Context: StreamsContext,
		ID:      activityID,
		Type:    TypeReject,
		Actor:   actorURI,
		Object:  mustRaw(inner),
	}
}

func NewLike(actorURI, objectURI, activityID string) *Envelope {
	return &Envelope{
		Context: StreamsContext,
		ID:      activityID,
		Type:    TypeLike,
		Actor:   actorURI,
		Object:  rawString(objectURI),
	}
}

func NewAnnounce(actorURI, objectURI, activityID string) *Envelope {
	return &Envelope{
		Context: StreamsContext,
		ID:      activityID,
		Type:    TypeAnnounce,
		Actor:   actorURI,
		Object:  rawString(objectURI),
	}
}

// NewUndo wraps an earlier activity by value. The embedded original's type
// determines which store mutation the receiver reverses.
func NewUndo(original *Envelope, activityID string) *Envelope {
	inner := *original
	inner.Context = nil
	return &Envelope{
		Context: StreamsContext,
		ID:      activityID,
		Type:    TypeUndo,
		Actor:   original.Actor,
		Object:  mustRaw(inner),
	}
}

// NewDelete announces the removal of an object with a Tombstone.
func NewDelete(actorURI, objectURI, activityID string) *Envelope {
	tombstone := map[string]string{
		"id":   objectURI,
		"type": "Tombstone",
	}
	return &Envelope{
		Context: StreamsContext,
		ID:      activityID,
		Type:    TypeDelete,
		Actor:   actorURI,
		To:      []string{PublicAudience},
		Object:  mustRaw(tombstone),
	}
}

// NewMove announces that oldActorURI relocated to newActorURI. When the
// moving account carries a DID it rides along under the lox: namespace;
// receivers running the same extension use it for automatic
// re-subscription, everyone else sees a standard Move.
func NewMove(oldActorURI, newActorURI, did, activityID string) *Envelope {
	context := interface{}(StreamsContext)
	if did != "" {
		context = []interface{}{
			StreamsContext,
			map[string]string{"lox": LoxNamespace},
		}
	}
	return &Envelope{
		Context:  context,
		ID:       activityID,
		Type:     TypeMove,
		Actor:    oldActorURI,
		Object:   rawString(oldActorURI),
		Target:   newActorURI,
		MovedDID: did,
	}
}

package activitypub

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/loxodon/domain"
	"github.com/deemkeen/loxodon/util"
	"github.com/google/uuid"
)

// Service wires the federation engine together: the dispatcher for inbound
// activities, the outbox senders and the migration coordinator all hang off
// it. Every collaborator is passed in explicitly.
type Service struct {
	conf      *util.AppConfig
	profiles  ProfileStore
	posts     PostStore
	keys      KeyStore
	resolver  *Resolver
	deliverer *Deliverer
}

func NewService(conf *util.AppConfig, profiles ProfileStore, posts PostStore, keys KeyStore, resolver *Resolver, deliverer *Deliverer) *Service {
	return &Service{
		conf:      conf,
		profiles:  profiles,
		posts:     posts,
		keys:      keys,
		resolver:  resolver,
		deliverer: deliverer,
	}
}

func (s *Service) domain() string {
	return s.conf.Conf.SslDomain
}

func (s *Service) actorURI(username string) string {
	return fmt.Sprintf("https://%s/users/%s", s.domain(), username)
}

func (s *Service) keyID(username string) string {
	return fmt.Sprintf("https://%s/users/%s#main-key", s.domain(), username)
}

// HandleInbox processes one incoming activity addressed to a local inbox.
func (s *Service) HandleInbox(w http.ResponseWriter, r *http.Request, username string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Malformed envelopes are rejected at the boundary, handlers only see
	// activities with id, type and actor present.
	env, err := ParseEnvelope(body)
	if err != nil {
		log.Printf("Inbox: Invalid activity: %v", err)
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}

	log.Printf("Inbox: Received %s from %s", env.Type, env.Actor)

	// Signature check is advisory for now: a failure is logged and
	// processing continues. See DESIGN.md before tightening this.
	s.verifySender(r, env)

	if err := s.dispatch(env); err != nil {
		log.Printf("Inbox: Failed to handle %s: %v", env.Type, err)
		http.Error(w, fmt.Sprintf("Failed to process %s", env.Type), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// verifySender fetches the sender's public key and checks the HTTP
// signature. Key-fetch and verification failures are both logged without
// aborting.
func (s *Service) verifySender(r *http.Request, env *Envelope) {
	pubKeyPem := s.resolver.FetchActorPublicKey(env.Actor)
	if pubKeyPem == "" {
		log.Printf("Inbox: Could not fetch public key for %s, continuing unverified", env.Actor)
		return
	}

	if _, err := VerifyRequest(r, pubKeyPem); err != nil {
		log.Printf("Inbox: Signature verification failed for %s: %v", env.Actor, err)
	}
}

// dispatch routes an inbound activity to its type handler. Unrecognized
// types are acknowledged and dropped for forward compatibility.
func (s *Service) dispatch(env *Envelope) error {
	switch env.Type {
	case TypeCreate:
		return s.handleCreate(env)
	case TypeFollow:
		return s.handleFollow(env)
	case TypeLike:
		return s.handleLike(env)
	case TypeAnnounce:
		return s.handleAnnounce(env)
	case TypeUndo:
		return s.handleUndo(env)
	case TypeDelete:
		return s.handleDelete(env)
	case TypeAccept:
		return s.handleAccept(env)
	case TypeReject:
		return s.handleReject(env)
	case TypeMove:
		return s.handleMove(env)
	default:
		log.Printf("Inbox: Ignoring unsupported activity type: %s", env.Type)
		return nil
	}
}

// handleCreate caches an incoming remote note. Non-Note objects are
// acknowledged and dropped; redelivery of a cached note is a no-op.
func (s *Service) handleCreate(env *Envelope) error {
	note, err := env.ObjectNote()
	if err != nil {
		log.Printf("Inbox: Ignoring Create with non-note object from %s: %v", env.Actor, err)
		return nil
	}

	if note.ID == "" || note.AttributedTo == "" {
		return fmt.Errorf("create object missing id or attributedTo")
	}

	if err, existing := s.posts.ReadRemotePostByApID(note.ID); err == nil && existing != nil {
		log.Printf("Inbox: Post %s already cached, skipping", note.ID)
		return nil
	}

	post := &domain.RemotePost{
		Id:        uuid.New(),
		ApID:      note.ID,
		AuthorURI: note.AttributedTo,
		Content:   note.Content,
		CreatedAt: time.Now(),
	}

	if note.Published != "" {
		if published, err := time.Parse(time.RFC3339, note.Published); err == nil {
			post.Published = published
		}
	}

	// Author profile fetch is best-effort, the post is cached either way.
	if author, err := s.resolver.GetOrFetchActor(note.AttributedTo); err == nil {
		post.AuthorName = author.DisplayName
		post.AuthorAvatar = author.AvatarURL
	} else {
		log.Printf("Inbox: Could not fetch author %s: %v", note.AttributedTo, err)
	}

	if err := s.posts.CreateRemotePost(post); err != nil {
		return fmt.Errorf("failed to cache remote post: %w", err)
	}

	log.Printf("Inbox: Cached post %s from %s", note.ID, note.AttributedTo)
	return nil
}

// handleFollow stores the follow edge, bumps the follower count and
// answers with an Accept. A redelivered Follow changes nothing and sends
// no second Accept.
func (s *Service) handleFollow(env *Envelope) error {
	objectURI := env.ObjectURI()
	if objectURI == "" {
		return fmt.Errorf("follow missing object")
	}

	username, ok := s.localActorUsername(objectURI)
	if !ok {
		return fmt.Errorf("follow object %s is not under this node's actor namespace", objectURI)
	}
	err, account := s.profiles.ReadAccByUsername(username)
	if err != nil || account == nil {
		return fmt.Errorf("follow target %s is not a local actor", objectURI)
	}
	if account.Suspended {
		return fmt.Errorf("follow target %s is suspended", username)
	}

	if err, existing := s.profiles.ReadRemoteFollow(account.Id, env.Actor); err == nil && existing != nil {
		log.Printf("Inbox: Follow from %s already stored, skipping", env.Actor)
		return nil
	}

	remoteActor, err := s.resolver.GetOrFetchActor(env.Actor)
	if err != nil {
		return fmt.Errorf("could not fetch remote actor: %w", err)
	}

	follow := &domain.RemoteFollow{
		Id:             uuid.New(),
		LocalAccountId: account.Id,
		ActorURI:       remoteActor.ActorURI,
		InboxURI:       remoteActor.InboxURI,
		SharedInboxURI: remoteActor.SharedInboxURI,
		ActivityURI:    env.ID,
		DisplayName:    remoteActor.DisplayName,
		AvatarURL:      remoteActor.AvatarURL,
		CreatedAt:      time.Now(),
	}

	if err := s.profiles.CreateRemoteFollow(follow); err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}

	if err := s.profiles.IncrementFollowerCount(account.Id); err != nil {
		return fmt.Errorf("failed to increment follower count: %w", err)
	}

	if err := s.SendAccept(account, remoteActor, env); err != nil {
		return fmt.Errorf("failed to send Accept: %w", err)
	}

	log.Printf("Inbox: Accepted follow from %s@%s", remoteActor.Username, remoteActor.Domain)
	return nil
}

// handleLike bumps the like counter of a local note. Likes for anything
// we don't host are acknowledged and dropped.
func (s *Service) handleLike(env *Envelope) error {
	noteId, ok := s.localNoteId(env.ObjectURI())
	if !ok {
		return nil
	}

	if err, note := s.posts.ReadNoteId(noteId); err != nil || note == nil {
		return nil
	}

	if err := s.posts.IncrementNoteLikeCount(noteId); err != nil {
		return fmt.Errorf("failed to increment like count: %w", err)
	}

	log.Printf("Inbox: %s liked note %s", env.Actor, noteId)
	return nil
}

// handleAnnounce bumps the repost counter of a local note.
func (s *Service) handleAnnounce(env *Envelope) error {
	noteId, ok := s.localNoteId(env.ObjectURI())
	if !ok {
		return nil
	}

	if err, note := s.posts.ReadNoteId(noteId); err != nil || note == nil {
		return nil
	}

	if err := s.posts.IncrementNoteRepostCount(noteId); err != nil {
		return fmt.Errorf("failed to increment repost count: %w", err)
	}

	log.Printf("Inbox: %s announced note %s", env.Actor, noteId)
	return nil
}

// handleUndo reverses an earlier activity. The embedded original's type
// decides what gets reversed; only Undo(Follow) mutates state today.
func (s *Service) handleUndo(env *Envelope) error {
	inner, err := env.EmbeddedActivity()
	if err != nil {
		return fmt.Errorf("failed to parse Undo object: %w", err)
	}

	if inner.Type != TypeFollow {
		log.Printf("Inbox: Ignoring Undo of %s from %s", inner.Type, env.Actor)
		return nil
	}

	username, ok := s.localActorUsername(inner.ObjectURI())
	if !ok {
		return nil
	}
	err, account := s.profiles.ReadAccByUsername(username)
	if err != nil || account == nil {
		return nil
	}

	if err, existing := s.profiles.ReadRemoteFollow(account.Id, env.Actor); err != nil || existing == nil {
		log.Printf("Inbox: Undo for unknown follow from %s, skipping", env.Actor)
		return nil
	}

	if err := s.profiles.DeleteRemoteFollow(account.Id, env.Actor); err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}

	if err := s.profiles.DecrementFollowerCount(account.Id); err != nil {
		return fmt.Errorf("failed to decrement follower count: %w", err)
	}

	log.Printf("Inbox: Removed follow from %s", env.Actor)
	return nil
}

// handleDelete removes cached remote content, but only when the deleting
// actor is the cached author. A mismatch is rejected loudly, not ignored.
func (s *Service) handleDelete(env *Envelope) error {
	objectURI := env.ObjectURI()
	if objectURI == "" {
		return fmt.Errorf("delete missing object")
	}

	err, post := s.posts.ReadRemotePostByApID(objectURI)
	if err != nil || post == nil {
		return nil
	}

	if post.AuthorURI != env.Actor {
		return fmt.Errorf("delete of %s rejected: actor %s is not author %s", objectURI, env.Actor, post.AuthorURI)
	}

	if err := s.posts.DeleteRemotePostByApID(objectURI); err != nil {
		return fmt.Errorf("failed to delete cached post: %w", err)
	}

	log.Printf("Inbox: Deleted cached post %s", objectURI)
	return nil
}

// handleAccept marks our outbound follow as accepted. Never fails, a
// confirmation for something we no longer track is just noise.
func (s *Service) handleAccept(env *Envelope) error {
	inner, err := env.EmbeddedActivity()
	if err != nil || inner.ID == "" {
		log.Printf("Inbox: Accept from %s without parsable Follow object", env.Actor)
		return nil
	}

	if err := s.profiles.AcceptFollowingByURI(inner.ID); err != nil {
		log.Printf("Inbox: Could not mark follow %s accepted: %v", inner.ID, err)
		return nil
	}

	log.Printf("Inbox: Follow %s was accepted by %s", inner.ID, env.Actor)
	return nil
}

// handleReject acknowledges a refused Follow.
// TODO decide whether the pending following edge should be removed here.
func (s *Service) handleReject(env *Envelope) error {
	log.Printf("Inbox: Follow was rejected by %s", env.Actor)
	return nil
}

// handleMove hands a verified Move to the migration coordinator.
func (s *Service) handleMove(env *Envelope) error {
	if env.ObjectURI() == "" || env.Target == "" {
		return fmt.Errorf("move missing object or target")
	}
	return s.migrateFollowers(env)
}

// localActorUsername maps an object URI onto a local username when the URI
// lives under this node's /users/ namespace. A matching trailing segment on
// a foreign host is not a local actor.
func (s *Service) localActorUsername(objectURI string) (string, bool) {
	prefix := fmt.Sprintf("https://%s/users/", s.domain())
	if !strings.HasPrefix(objectURI, prefix) {
		return "", false
	}

	username := strings.TrimPrefix(objectURI, prefix)
	if username == "" || strings.Contains(username, "/") {
		return "", false
	}
	return username, true
}

// localNoteId maps an object URI onto a local note id when the URI lives
// under this node's /notes/ namespace.
func (s *Service) localNoteId(objectURI string) (uuid.UUID, bool) {
	prefix := fmt.Sprintf("https://%s/notes/", s.domain())
	if !strings.HasPrefix(objectURI, prefix) {
		return uuid.Nil, false
	}

	noteId, err := uuid.Parse(strings.TrimPrefix(objectURI, prefix))
	if err != nil {
		return uuid.Nil, false
	}
	return noteId, true
}

package activitypub

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/deemkeen/loxodon/domain"
	"github.com/deemkeen/loxodon/util"
	"github.com/google/uuid"
)

// deliveryBatchSize bounds concurrent outbound requests per fan-out call.
const deliveryBatchSize = 10

// Deliverer signs and transmits activities to remote inboxes.
type Deliverer struct {
	client    *http.Client
	userAgent string
	batchSize int
}

func NewDeliverer() *Deliverer {
	return &Deliverer{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: util.GetNameAndVersion() + " ActivityPub",
		batchSize: deliveryBatchSize,
	}
}

// DeliveryResult is the outcome of one delivery attempt.
type DeliveryResult struct {
	InboxURI string
	Err      error
}

// DeliverOne serializes, signs and POSTs a single activity. Any non-2xx
// response is a failure carrying status and response body.
func (d *Deliverer) DeliverOne(env *Envelope, inboxURI string, privateKeyPem string, keyID string) error {
	activityJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	// Digest over the exact bytes we send
	hash := sha256.Sum256(activityJSON)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequest("POST", inboxURI, bytes.NewReader(activityJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	privateKey, err := ParsePrivateKey(privateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	if err := SignRequest(req, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("remote server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// DeliverToFollowers fans an activity out to a set of inboxes: duplicates
// collapse to one call, at most batchSize deliveries run at once, and one
// recipient failing never blocks the rest. Fires once per inbox, there is
// no retry.
func (d *Deliverer) DeliverToFollowers(env *Envelope, inboxes []string, privateKeyPem string, keyID string) (int, int) {
	targets := dedupeInboxes(inboxes)
	if len(targets) == 0 {
		return 0, 0
	}

	jobs := make(chan string)
	results := make(chan DeliveryResult, len(targets))

	var wg sync.WaitGroup
	workers := d.batchSize
	if workers > len(targets) {
		workers = len(targets)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inboxURI := range jobs {
				results <- DeliveryResult{
					InboxURI: inboxURI,
					Err:      d.DeliverOne(env, inboxURI, privateKeyPem, keyID),
				}
			}
		}()
	}

	for _, inboxURI := range targets {
		jobs <- inboxURI
	}
	close(jobs)
	wg.Wait()
	close(results)

	delivered, failed := 0, 0
	for result := range results {
		if result.Err != nil {
			failed++
			log.Printf("Outbox: Delivery to %s failed: %v", result.InboxURI, result.Err)
		} else {
			delivered++
		}
	}

	return delivered, failed
}

// dedupeInboxes drops duplicate inbox URLs, preserving first-seen order.
// Followers behind one shared inbox receive exactly one copy.
func dedupeInboxes(inboxes []string) []string {
	seen := make(map[string]bool, len(inboxes))
	deduped := make([]string, 0, len(inboxes))
	for _, inboxURI := range inboxes {
		if inboxURI == "" || seen[inboxURI] {
			continue
		}
		seen[inboxURI] = true
		deduped = append(deduped, inboxURI)
	}
	return deduped
}

// FollowerInboxes collects the delivery inboxes of all remote followers of
// a local account, preferring shared inboxes.
func (s *Service) FollowerInboxes(accountId uuid.UUID) ([]string, error) {
	err, follows := s.profiles.ReadRemoteFollowsByAccountId(accountId)
	if err != nil {
		return nil, fmt.Errorf("failed to read followers: %w", err)
	}

	var inboxes []string
	for _, follow := range *follows {
		if follow.SharedInboxURI != "" {
			inboxes = append(inboxes, follow.SharedInboxURI)
		} else {
			inboxes = append(inboxes, follow.InboxURI)
		}
	}

	return dedupeInboxes(inboxes), nil
}

// SendAccept answers an inbound Follow.
func (s *Service) SendAccept(account *domain.Account, remoteActor *domain.RemoteAccount, follow *Envelope) error {
	accept := NewAccept(s.actorURI(account.Username), follow, NewActivityID(s.domain()))

	err, privateKey := s.keys.GetPrivateKey(account.Username)
	if err != nil {
		return fmt.Errorf("failed to get signing key: %w", err)
	}

	return s.deliverer.DeliverOne(accept, remoteActor.InboxURI, privateKey, s.keyID(account.Username))
}

// SendCreate federates a new local note to all followers.
func (s *Service) SendCreate(note *domain.Note, account *domain.Account) error {
	create := NewCreate(note, account, s.domain())

	inboxes, err := s.FollowerInboxes(account.Id)
	if err != nil {
		return err
	}
	if len(inboxes) == 0 {
		log.Printf("Outbox: No followers to deliver to")
		return nil
	}

	err, privateKey := s.keys.GetPrivateKey(account.Username)
	if err != nil {
		return fmt.Errorf("failed to get signing key: %w", err)
	}

	delivered, failed := s.deliverer.DeliverToFollowers(create, inboxes, privateKey, s.keyID(account.Username))
	log.Printf("Outbox: Create for note %s delivered to %d inboxes, %d failed", note.Id, delivered, failed)
	return nil
}

// SendFollow subscribes a local account to a remote actor: a pending edge
// is stored before delivery so the later Accept can be correlated.
func (s *Service) SendFollow(account *domain.Account, remoteActorURI string) error {
	remoteActor, err := s.resolver.GetOrFetchActor(remoteActorURI)
	if err != nil {
		return fmt.Errorf("could not fetch remote actor: %w", err)
	}

	activityID := NewActivityID(s.domain())
	follow := NewFollow(s.actorURI(account.Username), remoteActorURI, activityID)

	edge := &domain.Following{
		Id:             uuid.New(),
		LocalAccountId: account.Id,
		TargetActorURI: remoteActor.ActorURI,
		TargetHandle:   fmt.Sprintf("%s@%s", remoteActor.Username, remoteActor.Domain),
		TargetInboxURI: remoteActor.InboxURI,
		ActivityURI:    activityID,
		Accepted:       false,
		CreatedAt:      time.Now(),
	}

	if err := s.profiles.CreateFollowing(edge); err != nil {
		return fmt.Errorf("failed to store follow: %w", err)
	}

	err2, privateKey := s.keys.GetPrivateKey(account.Username)
	if err2 != nil {
		return fmt.Errorf("failed to get signing key: %w", err2)
	}

	return s.deliverer.DeliverOne(follow, remoteActor.InboxURI, privateKey, s.keyID(account.Username))
}

// SendUndoFollow unsubscribes a local account from a remote actor.
func (s *Service) SendUndoFollow(account *domain.Account, remoteActorURI string) error {
	err, edge := s.profiles.ReadFollowing(account.Id, remoteActorURI)
	if err != nil || edge == nil {
		return fmt.Errorf("not following %s", remoteActorURI)
	}

	original := NewFollow(s.actorURI(account.Username), edge.TargetActorURI, edge.ActivityURI)
	undo := NewUndo(original, NewActivityID(s.domain()))

	err2, privateKey := s.keys.GetPrivateKey(account.Username)
	if err2 != nil {
		return fmt.Errorf("failed to get signing key: %w", err2)
	}

	if err := s.deliverer.DeliverOne(undo, edge.TargetInboxURI, privateKey, s.keyID(account.Username)); err != nil {
		return err
	}

	return s.profiles.DeleteFollowing(edge.Id)
}

// SendLike likes a cached remote post, delivered to its author's inbox.
func (s *Service) SendLike(account *domain.Account, apID string) error {
	err, post := s.posts.ReadRemotePostByApID(apID)
	if err != nil || post == nil {
		return fmt.Errorf("post %s is not cached", apID)
	}

	author, err := s.resolver.GetOrFetchActor(post.AuthorURI)
	if err != nil {
		return fmt.Errorf("could not fetch remote actor: %w", err)
	}

	like := NewLike(s.actorURI(account.Username), apID, NewActivityID(s.domain()))

	err2, privateKey := s.keys.GetPrivateKey(account.Username)
	if err2 != nil {
		return fmt.Errorf("failed to get signing key: %w", err2)
	}

	return s.deliverer.DeliverOne(like, author.InboxURI, privateKey, s.keyID(account.Username))
}

// SendAnnounce reposts a cached remote post to the account's followers and
// notifies its author.
func (s *Service) SendAnnounce(account *domain.Account, apID string) error {
	err, post := s.posts.ReadRemotePostByApID(apID)
	if err != nil || post == nil {
		return fmt.Errorf("post %s is not cached", apID)
	}

	author, err := s.resolver.GetOrFetchActor(post.AuthorURI)
	if err != nil {
		return fmt.Errorf("could not fetch remote actor: %w", err)
	}

	announce := NewAnnounce(s.actorURI(account.Username), apID, NewActivityID(s.domain()))

	err2, privateKey := s.keys.GetPrivateKey(account.Username)
	if err2 != nil {
		return fmt.Errorf("failed to get signing key: %w", err2)
	}

	inboxes, err := s.FollowerInboxes(account.Id)
	if err != nil {
		return err
	}
	inboxes = append(inboxes, author.InboxURI)

	delivered, failed := s.deliverer.DeliverToFollowers(announce, inboxes, privateKey, s.keyID(account.Username))
	log.Printf("Outbox: Announce of %s delivered to %d inboxes, %d failed", apID, delivered, failed)
	return nil
}

// SendDelete retracts a local note from all followers.
func (s *Service) SendDelete(account *domain.Account, noteId uuid.UUID) error {
	noteURI := fmt.Sprintf("https://%s/notes/%s", s.domain(), noteId.String())
	deleteActivity := NewDelete(s.actorURI(account.Username), noteURI, NewActivityID(s.domain()))

	inboxes, err := s.FollowerInboxes(account.Id)
	if err != nil {
		return err
	}
	if len(inboxes) == 0 {
		return nil
	}

	err2, privateKey := s.keys.GetPrivateKey(account.Username)
	if err2 != nil {
		return fmt.Errorf("failed to get signing key: %w", err2)
	}

	delivered, failed := s.deliverer.DeliverToFollowers(deleteActivity, inboxes, privateKey, s.keyID(account.Username))
	log.Printf("Outbox: Delete of note %s delivered to %d inboxes, %d failed", noteId, delivered, failed)
	return nil
}

// SendMove announces that this account relocated to a new node. The DID
// rides along so receivers running the same extension can re-subscribe
// their users automatically.
func (s *Service) SendMove(account *domain.Account, newActorURI string) error {
	move := NewMove(s.actorURI(account.Username), newActorURI, account.Did, NewActivityID(s.domain()))

	inboxes, err := s.FollowerInboxes(account.Id)
	if err != nil {
		return err
	}
	if len(inboxes) == 0 {
		return nil
	}

	err2, privateKey := s.keys.GetPrivateKey(account.Username)
	if err2 != nil {
		return fmt.Errorf("failed to get signing key: %w", err2)
	}

	delivered, failed := s.deliverer.DeliverToFollowers(move, inboxes, privateKey, s.keyID(account.Username))
	log.Printf("Outbox: Move of %s delivered to %d inboxes, %d failed", account.Username, delivered, failed)
	return nil
}

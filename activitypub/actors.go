package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/loxodon/domain"
	"github.com/deemkeen/loxodon/util"
	"github.com/google/uuid"
)

// ActorDocument is the wire representation of an ActivityPub actor, ours
// or a remote one.
type ActorDocument struct {
	Context                   interface{}     `json:"@context,omitempty"`
	ID                        string          `json:"id"`
	Type                      string          `json:"type"`
	PreferredUsername         string          `json:"preferredUsername"`
	Name                      string          `json:"name,omitempty"`
	Summary                   string          `json:"summary,omitempty"`
	Inbox                     string          `json:"inbox"`
	Outbox                    string          `json:"outbox,omitempty"`
	Followers                 string          `json:"followers,omitempty"`
	Following                 string          `json:"following,omitempty"`
	URL                       string          `json:"url,omitempty"`
	ManuallyApprovesFollowers bool            `json:"manuallyApprovesFollowers"`
	Discoverable              bool            `json:"discoverable,omitempty"`
	MovedTo                   string          `json:"movedTo,omitempty"`
	Endpoints                 *ActorEndpoints `json:"endpoints,omitempty"`
	Icon                      *ActorImage     `json:"icon,omitempty"`
	Image                     *ActorImage     `json:"image,omitempty"`
	PublicKey                 PublicKeyBlock  `json:"publicKey"`
}

type ActorEndpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

type ActorImage struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
}

type PublicKeyBlock struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// NewActorDocument projects a local account into its wire shape. Pure, no
// side effects; every IRI is derived by template from the handle.
func NewActorDocument(acc *domain.Account, nodeDomain string) *ActorDocument {
	actorURI := fmt.Sprintf("https://%s/users/%s", nodeDomain, acc.Username)

	displayName := acc.DisplayName
	if displayName == "" {
		displayName = acc.Username
	}

	doc := &ActorDocument{
		Context: []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		ID:                actorURI,
		Type:              "Person",
		PreferredUsername: acc.Username,
		Name:              displayName,
		Summary:           acc.Summary,
		Inbox:             actorURI + "/inbox",
		Outbox:            actorURI + "/outbox",
		Followers:         actorURI + "/followers",
		Following:         actorURI + "/following",
		URL:               actorURI,
		Discoverable:      true,
		Endpoints: &ActorEndpoints{
			SharedInbox: fmt.Sprintf("https://%s/inbox", nodeDomain),
		},
		PublicKey: PublicKeyBlock{
			ID:           actorURI + "#main-key",
			Owner:        actorURI,
			PublicKeyPem: acc.WebPublicKey,
		},
	}

	if acc.AvatarURL != "" {
		doc.Icon = &ActorImage{Type: "Image", MediaType: "image/png", URL: acc.AvatarURL}
	}

	return doc
}

// Resolver fetches and caches remote actors. The node domain and HTTP
// client are explicit, nothing is read from ambient state.
type Resolver struct {
	client    *http.Client
	userAgent string
	profiles  ProfileStore
}

func NewResolver(profiles ProfileStore) *Resolver {
	return &Resolver{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: util.GetNameAndVersion() + " ActivityPub",
		profiles:  profiles,
	}
}

// FetchActorByURL fetches and validates an actor document, no discovery
// step. Returns nil on any network or shape failure.
func (r *Resolver) FetchActorByURL(actorURI string) (*ActorDocument, error) {
	req, err := http.NewRequest("GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var doc ActorDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if doc.ID == "" || doc.Type == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	return &doc, nil
}

// FetchRemoteActor fetches an actor from a remote server and stores it in
// the cache.
func (r *Resolver) FetchRemoteActor(actorURI string) (*domain.RemoteAccount, error) {
	doc, err := r.FetchActorByURL(actorURI)
	if err != nil {
		return nil, err
	}

	if doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	domainName, err := extractDomain(doc.ID)
	if err != nil {
		return nil, err
	}

	remoteAcc := &domain.RemoteAccount{
		Id:            uuid.New(),
		Username:      doc.PreferredUsername,
		Domain:        domainName,
		ActorURI:      doc.ID,
		DisplayName:   doc.Name,
		Summary:       doc.Summary,
		InboxURI:      doc.Inbox,
		OutboxURI:     doc.Outbox,
		PublicKeyPem:  doc.PublicKey.PublicKeyPem,
		MovedToURI:    doc.MovedTo,
		LastFetchedAt: time.Now(),
	}
	if doc.Endpoints != nil {
		remoteAcc.SharedInboxURI = doc.Endpoints.SharedInbox
	}
	if doc.Icon != nil {
		remoteAcc.AvatarURL = doc.Icon.URL
	}

	err = r.profiles.CreateRemoteAccount(remoteAcc)
	if err != nil {
		// If already cached, refresh in place
		err = r.profiles.UpdateRemoteAccount(remoteAcc)
		if err != nil {
			return nil, fmt.Errorf("failed to store remote account: %w", err)
		}
		// Keep the original row identity
		if err2, cached := r.profiles.ReadRemoteAccountByURI(doc.ID); err2 == nil && cached != nil {
			remoteAcc = cached
		}
	}

	return remoteAcc, nil
}

// GetOrFetchActor returns the actor from cache or fetches if not cached or
// stale (older than 24 hours).
func (r *Resolver) GetOrFetchActor(actorURI string) (*domain.RemoteAccount, error) {
	err, cached := r.profiles.ReadRemoteAccountByURI(actorURI)
	if err == nil && cached != nil {
		if time.Since(cached.LastFetchedAt) < 24*time.Hour {
			return cached, nil
		}
	}

	return r.FetchRemoteActor(actorURI)
}

// FetchActorPublicKey extracts the public key PEM from an actor document.
// Empty string on any failure, callers treat that as "untrusted".
func (r *Resolver) FetchActorPublicKey(actorURI string) string {
	actor, err := r.GetOrFetchActor(actorURI)
	if err != nil {
		return ""
	}
	return actor.PublicKeyPem
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}

	return parsed.Host, nil
}

// extractUsername extracts the trailing handle segment from an actor URI,
// e.g. "https://example.com/users/alice" or "https://example.com/@alice".
func extractUsername(uri string) string {
	parts := strings.Split(uri, "/")
	if len(parts) > 0 {
		username := parts[len(parts)-1]
		return strings.TrimPrefix(username, "@")
	}
	return ""
}

// handleOf builds the user@domain handle for a fetched actor document.
func handleOf(doc *ActorDocument) string {
	domainName, err := extractDomain(doc.ID)
	if err != nil {
		return doc.PreferredUsername
	}
	return fmt.Sprintf("%s@%s", doc.PreferredUsername, domainName)
}

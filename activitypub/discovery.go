package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// WebfingerResponse is the link document served under /.well-known/webfinger.
type WebfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebfingerLink `json:"links"`
}

type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// ResolveHandle resolves user@domain to an actor document: webfinger the
// remote domain for the acct: resource, follow the rel="self" activity
// link. Either step failing yields an error, never a panic, remote nodes
// misbehave all the time.
func (r *Resolver) ResolveHandle(user string, domainName string) (*ActorDocument, error) {
	resource := fmt.Sprintf("acct:%s@%s", user, domainName)
	wfURL := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s", domainName, url.QueryEscape(resource))

	req, err := http.NewRequest("GET", wfURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webfinger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("webfinger failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webfinger response: %w", err)
	}

	var wf WebfingerResponse
	if err := json.Unmarshal(body, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse webfinger JSON: %w", err)
	}

	actorURL := ""
	for _, link := range wf.Links {
		if link.Rel == "self" && link.Type == "application/activity+json" {
			actorURL = link.Href
			break
		}
	}
	if actorURL == "" {
		return nil, fmt.Errorf("webfinger response has no self link for %s", resource)
	}

	return r.FetchActorByURL(actorURL)
}

package activitypub

import (
	"fmt"
	"log"
)

// migrateFollowers handles a Move from a remote actor. Without a portable
// identifier this is a standard Fediverse move: we record the new address
// and leave re-following to the humans. With one, every local follow of
// the old actor is rewritten in place and a fresh Follow goes out to the
// new inbox, each edge independently, one bad edge never stops the batch.
func (s *Service) migrateFollowers(env *Envelope) error {
	oldActorURI := env.ObjectURI()
	newActorURI := env.Target

	// Record the forwarding pointer on the cached actor either way.
	if err := s.profiles.UpdateRemoteAccountMovedTo(oldActorURI, newActorURI); err != nil {
		log.Printf("Migration: Could not record movedTo for %s: %v", oldActorURI, err)
	}

	if env.MovedDID == "" {
		log.Printf("Migration: %s moved to %s without portable identifier, no automatic re-subscription", oldActorURI, newActorURI)
		return nil
	}

	err, edges := s.profiles.ReadFollowingByTarget(oldActorURI)
	if err != nil {
		return fmt.Errorf("failed to read follows of %s: %w", oldActorURI, err)
	}
	if edges == nil || len(*edges) == 0 {
		log.Printf("Migration: No local followers of %s, nothing to migrate", oldActorURI)
		return nil
	}

	newDoc, err := s.resolver.FetchActorByURL(newActorURI)
	if err != nil {
		return fmt.Errorf("could not fetch remote actor: %w", err)
	}
	if newDoc.Inbox == "" {
		return fmt.Errorf("new actor %s has no inbox", newActorURI)
	}

	newHandle := handleOf(newDoc)
	migrated, skipped := 0, 0

	for _, edge := range *edges {
		err, account := s.profiles.ReadAccById(edge.LocalAccountId)
		if err != nil || account == nil {
			log.Printf("Migration: Local account %s not found, skipping edge", edge.LocalAccountId)
			skipped++
			continue
		}

		err, privateKey := s.keys.GetPrivateKey(account.Username)
		if err != nil || privateKey == "" {
			log.Printf("Migration: No signing key for %s, skipping edge", account.Username)
			skipped++
			continue
		}

		activityID := NewActivityID(s.domain())

		// Rewrite the edge in place, its identity survives the move.
		if err := s.profiles.UpdateFollowingTarget(edge.Id, newActorURI, newHandle, newDoc.Inbox, activityID); err != nil {
			log.Printf("Migration: Failed to rewrite edge for %s: %v", account.Username, err)
			skipped++
			continue
		}

		follow := NewFollow(s.actorURI(account.Username), newActorURI, activityID)
		if err := s.deliverer.DeliverOne(follow, newDoc.Inbox, privateKey, s.keyID(account.Username)); err != nil {
			log.Printf("Migration: Follow delivery for %s failed: %v", account.Username, err)
		}

		migrated++
	}

	log.Printf("Migration: %s -> %s: %d edges migrated, %d skipped", oldActorURI, newActorURI, migrated, skipped)
	return nil
}

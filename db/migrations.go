package db

import (
	"database/sql"
	"log"
)

const (
	sqlCreateRemoteAccountsTable = `CREATE TABLE IF NOT EXISTS remote_accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		display_name TEXT,
		summary TEXT,
		inbox_uri TEXT NOT NULL,
		outbox_uri TEXT,
		shared_inbox_uri TEXT,
		public_key_pem TEXT NOT NULL,
		avatar_url TEXT,
		moved_to_uri TEXT,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, domain)
	)`

	sqlCreateRemoteAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_actor_uri ON remote_accounts(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_domain ON remote_accounts(domain);
	`

	sqlCreateRemoteFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_follows_account ON remote_follows(local_account_id);
		CREATE INDEX IF NOT EXISTS idx_remote_follows_actor ON remote_follows(actor_uri);
	`

	sqlCreateFollowingIndices = `
		CREATE INDEX IF NOT EXISTS idx_following_account ON following(local_account_id);
		CREATE INDEX IF NOT EXISTS idx_following_target ON following(target_actor_uri);
		CREATE INDEX IF NOT EXISTS idx_following_uri ON following(activity_uri);
	`

	sqlCreateRemotePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_posts_ap_id ON remote_posts(ap_id);
		CREATE INDEX IF NOT EXISTS idx_remote_posts_author ON remote_posts(author_uri);
	`
)

// RunMigrations creates the federation tables and indices.
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if err := db.createTableIfNotExists(tx, sqlCreateRemoteAccountsTable, "remote_accounts"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateRemoteFollowsTable, "remote_follows"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateFollowingTable, "following"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateRemotePostsTable, "remote_posts"); err != nil {
			return err
		}

		if _, err := tx.Exec(sqlCreateRemoteAccountsIndices); err != nil {
			log.Printf("Warning: Failed to create remote_accounts indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateRemoteFollowsIndices); err != nil {
			log.Printf("Warning: Failed to create remote_follows indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateFollowingIndices); err != nil {
			log.Printf("Warning: Failed to create following indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateRemotePostsIndices); err != nil {
			log.Printf("Warning: Failed to create remote_posts indices: %v", err)
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}

package db

import (
	"database/sql"

	"github.com/deemkeen/loxodon/domain"
	"github.com/google/uuid"
)

// Remote account cache queries
const (
	sqlInsertRemoteAccount = `INSERT INTO remote_accounts(id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri, shared_inbox_uri, public_key_pem, avatar_url, moved_to_uri, last_fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectRemoteAccount = `SELECT id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri, shared_inbox_uri, public_key_pem, avatar_url, moved_to_uri, last_fetched_at FROM remote_accounts WHERE actor_uri = ?`
	sqlUpdateRemoteAccount = `UPDATE remote_accounts SET display_name = ?, summary = ?, inbox_uri = ?, outbox_uri = ?, shared_inbox_uri = ?, public_key_pem = ?, avatar_url = ?, moved_to_uri = ?, last_fetched_at = ? WHERE actor_uri = ?`
	sqlUpdateRemoteMovedTo = `UPDATE remote_accounts SET moved_to_uri = ? WHERE actor_uri = ?`
)

// Follow edge queries. Remote-follows-local and local-follows-remote are
// two relations, only the remote edges carry a delivery inbox.
const (
	sqlCreateRemoteFollowsTable = `CREATE TABLE IF NOT EXISTS remote_follows (
		id TEXT NOT NULL PRIMARY KEY,
		local_account_id TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		inbox_uri TEXT NOT NULL,
		shared_inbox_uri TEXT,
		activity_uri TEXT NOT NULL,
		display_name TEXT,
		avatar_url TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(local_account_id, actor_uri)
	)`

	sqlInsertRemoteFollow = `INSERT INTO remote_follows(id, local_account_id, actor_uri, inbox_uri, shared_inbox_uri, activity_uri, display_name, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_account_id, actor_uri) DO NOTHING`
	sqlSelectRemoteFollow      = `SELECT id, local_account_id, actor_uri, inbox_uri, shared_inbox_uri, activity_uri, display_name, avatar_url, created_at FROM remote_follows WHERE local_account_id = ? AND actor_uri = ?`
	sqlSelectRemoteFollows     = `SELECT id, local_account_id, actor_uri, inbox_uri, shared_inbox_uri, activity_uri, display_name, avatar_url, created_at FROM remote_follows WHERE local_account_id = ?`
	sqlDeleteRemoteFollow      = `DELETE FROM remote_follows WHERE local_account_id = ? AND actor_uri = ?`

	sqlCreateFollowingTable = `CREATE TABLE IF NOT EXISTS following (
		id TEXT NOT NULL PRIMARY KEY,
		local_account_id TEXT NOT NULL,
		target_actor_uri TEXT NOT NULL,
		target_handle TEXT,
		target_inbox_uri TEXT NOT NULL,
		activity_uri TEXT NOT NULL,
		accepted INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(local_account_id, target_actor_uri)
	)`

	sqlInsertFollowing = `INSERT INTO following(id, local_account_id, target_actor_uri, target_handle, target_inbox_uri, activity_uri, accepted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_account_id, target_actor_uri) DO NOTHING`
	sqlSelectFollowing         = `SELECT id, local_account_id, target_actor_uri, target_handle, target_inbox_uri, activity_uri, accepted, created_at FROM following WHERE local_account_id = ? AND target_actor_uri = ?`
	sqlSelectFollowingByTarget = `SELECT id, local_account_id, target_actor_uri, target_handle, target_inbox_uri, activity_uri, accepted, created_at FROM following WHERE target_actor_uri = ?`
	sqlUpdateFollowingTarget   = `UPDATE following SET target_actor_uri = ?, target_handle = ?, target_inbox_uri = ?, activity_uri = ?, accepted = 0 WHERE id = ?`
	sqlAcceptFollowingByURI    = `UPDATE following SET accepted = 1 WHERE activity_uri = ?`
	sqlDeleteFollowing         = `DELETE FROM following WHERE id = ?`
	sqlCountFollowing          = `SELECT COUNT(*) FROM following WHERE local_account_id = ?`
)

// Cached remote content queries, at most one row per ap_id.
const (
	sqlCreateRemotePostsTable = `CREATE TABLE IF NOT EXISTS remote_posts (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT UNIQUE NOT NULL,
		author_uri TEXT NOT NULL,
		author_name TEXT,
		author_avatar TEXT,
		content TEXT,
		published_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlInsertRemotePost = `INSERT INTO remote_posts(id, ap_id, author_uri, author_name, author_avatar, content, published_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) DO NOTHING`
	sqlSelectRemotePost = `SELECT id, ap_id, author_uri, author_name, author_avatar, content, published_at, created_at FROM remote_posts WHERE ap_id = ?`
	sqlDeleteRemotePost = `DELETE FROM remote_posts WHERE ap_id = ?`
)

func (db *DB) CreateRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteAccount,
			acc.Id.String(),
			acc.Username,
			acc.Domain,
			acc.ActorURI,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.OutboxURI,
			acc.SharedInboxURI,
			acc.PublicKeyPem,
			acc.AvatarURL,
			acc.MovedToURI,
			acc.LastFetchedAt,
		)
		return err
	})
}

func (db *DB) UpdateRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteAccount,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.OutboxURI,
			acc.SharedInboxURI,
			acc.PublicKeyPem,
			acc.AvatarURL,
			acc.MovedToURI,
			acc.LastFetchedAt,
			acc.ActorURI,
		)
		return err
	})
}

func (db *DB) UpdateRemoteAccountMovedTo(actorURI string, movedToURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteMovedTo, movedToURI, actorURI)
		return err
	})
}

func (db *DB) ReadRemoteAccountByURI(uri string) (error, *domain.RemoteAccount) {
	row := db.db.QueryRow(sqlSelectRemoteAccount, uri)
	var acc domain.RemoteAccount
	var idStr string
	err := row.Scan(
		&idStr,
		&acc.Username,
		&acc.Domain,
		&acc.ActorURI,
		&acc.DisplayName,
		&acc.Summary,
		&acc.InboxURI,
		&acc.OutboxURI,
		&acc.SharedInboxURI,
		&acc.PublicKeyPem,
		&acc.AvatarURL,
		&acc.MovedToURI,
		&acc.LastFetchedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

func (db *DB) CreateRemoteFollow(follow *domain.RemoteFollow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteFollow,
			follow.Id.String(),
			follow.LocalAccountId.String(),
			follow.ActorURI,
			follow.InboxURI,
			follow.SharedInboxURI,
			follow.ActivityURI,
			follow.DisplayName,
			follow.AvatarURL,
			follow.CreatedAt,
		)
		return err
	})
}

func (db *DB) scanRemoteFollow(row *sql.Row) (error, *domain.RemoteFollow) {
	var follow domain.RemoteFollow
	var idStr, localIdStr string
	err := row.Scan(&idStr, &localIdStr, &follow.ActorURI, &follow.InboxURI, &follow.SharedInboxURI, &follow.ActivityURI, &follow.DisplayName, &follow.AvatarURL, &follow.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	follow.Id, _ = uuid.Parse(idStr)
	follow.LocalAccountId, _ = uuid.Parse(localIdStr)
	return nil, &follow
}

func (db *DB) ReadRemoteFollow(localAccountId uuid.UUID, actorURI string) (error, *domain.RemoteFollow) {
	return db.scanRemoteFollow(db.db.QueryRow(sqlSelectRemoteFollow, localAccountId.String(), actorURI))
}

func (db *DB) ReadRemoteFollowsByAccountId(localAccountId uuid.UUID) (error, *[]domain.RemoteFollow) {
	rows, err := db.db.Query(sqlSelectRemoteFollows, localAccountId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var follows []domain.RemoteFollow

	for rows.Next() {
		var follow domain.RemoteFollow
		var idStr, localIdStr string
		if err := rows.Scan(&idStr, &localIdStr, &follow.ActorURI, &follow.InboxURI, &follow.SharedInboxURI, &follow.ActivityURI, &follow.DisplayName, &follow.AvatarURL, &follow.CreatedAt); err != nil {
			return err, &follows
		}
		follow.Id, _ = uuid.Parse(idStr)
		follow.LocalAccountId, _ = uuid.Parse(localIdStr)
		follows = append(follows, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &follows
	}

	return nil, &follows
}

func (db *DB) DeleteRemoteFollow(localAccountId uuid.UUID, actorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRemoteFollow, localAccountId.String(), actorURI)
		return err
	})
}

func (db *DB) CreateFollowing(follow *domain.Following) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		accepted := 0
		if follow.Accepted {
			accepted = 1
		}
		_, err := tx.Exec(sqlInsertFollowing,
			follow.Id.String(),
			follow.LocalAccountId.String(),
			follow.TargetActorURI,
			follow.TargetHandle,
			follow.TargetInboxURI,
			follow.ActivityURI,
			accepted,
			follow.CreatedAt,
		)
		return err
	})
}

func (db *DB) scanFollowing(row *sql.Row) (error, *domain.Following) {
	var follow domain.Following
	var idStr, localIdStr string
	err := row.Scan(&idStr, &localIdStr, &follow.TargetActorURI, &follow.TargetHandle, &follow.TargetInboxURI, &follow.ActivityURI, &follow.Accepted, &follow.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	follow.Id, _ = uuid.Parse(idStr)
	follow.LocalAccountId, _ = uuid.Parse(localIdStr)
	return nil, &follow
}

func (db *DB) ReadFollowing(localAccountId uuid.UUID, targetActorURI string) (error, *domain.Following) {
	return db.scanFollowing(db.db.QueryRow(sqlSelectFollowing, localAccountId.String(), targetActorURI))
}

func (db *DB) ReadFollowingByTarget(targetActorURI string) (error, *[]domain.Following) {
	rows, err := db.db.Query(sqlSelectFollowingByTarget, targetActorURI)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var follows []domain.Following

	for rows.Next() {
		var follow domain.Following
		var idStr, localIdStr string
		if err := rows.Scan(&idStr, &localIdStr, &follow.TargetActorURI, &follow.TargetHandle, &follow.TargetInboxURI, &follow.ActivityURI, &follow.Accepted, &follow.CreatedAt); err != nil {
			return err, &follows
		}
		follow.Id, _ = uuid.Parse(idStr)
		follow.LocalAccountId, _ = uuid.Parse(localIdStr)
		follows = append(follows, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &follows
	}

	return nil, &follows
}

// UpdateFollowingTarget rewrites a following edge in place when the remote
// side moves, preserving the edge's identity. The edge flips back to
// pending until the new server accepts the fresh Follow.
func (db *DB) UpdateFollowingTarget(id uuid.UUID, targetActorURI, targetHandle, targetInboxURI, activityURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFollowingTarget, targetActorURI, targetHandle, targetInboxURI, activityURI, id.String())
		return err
	})
}

func (db *DB) AcceptFollowingByURI(activityURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptFollowingByURI, activityURI)
		return err
	})
}

func (db *DB) CountFollowing(localAccountId uuid.UUID) (error, int) {
	var count int
	if err := db.db.QueryRow(sqlCountFollowing, localAccountId.String()).Scan(&count); err != nil {
		return err, 0
	}
	return nil, count
}

func (db *DB) DeleteFollowing(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowing, id.String())
		return err
	})
}

// CreateRemotePost caches a remote note. The UNIQUE(ap_id) constraint plus
// ON CONFLICT DO NOTHING make duplicate Create deliveries a no-op without a
// check-then-act race.
func (db *DB) CreateRemotePost(post *domain.RemotePost) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemotePost,
			post.Id.String(),
			post.ApID,
			post.AuthorURI,
			post.AuthorName,
			post.AuthorAvatar,
			post.Content,
			post.Published,
			post.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadRemotePostByApID(apID string) (error, *domain.RemotePost) {
	row := db.db.QueryRow(sqlSelectRemotePost, apID)
	var post domain.RemotePost
	var idStr string
	var published sql.NullTime
	err := row.Scan(&idStr, &post.ApID, &post.AuthorURI, &post.AuthorName, &post.AuthorAvatar, &post.Content, &published, &post.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	post.Id, _ = uuid.Parse(idStr)
	if published.Valid {
		post.Published = published.Time
	}
	return nil, &post
}

func (db *DB) DeleteRemotePostByApID(apID string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRemotePost, apID)
		return err
	})
}

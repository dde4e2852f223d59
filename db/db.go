package db

import (
	"context"
	"database/sql"

	"github.com/deemkeen/loxodon/domain"
	"github.com/deemkeen/loxodon/util"
	"github.com/google/uuid"
	"log"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
	"time"
)

// DB is the database struct. It backs the profile, post and key store
// interfaces consumed by the federation engine.
type DB struct {
	db *sql.DB
}

const (
	//Accounts
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts(
                        id uuid NOT NULL PRIMARY KEY,
                        username varchar(100) UNIQUE NOT NULL,
                        display_name varchar(255),
                        summary text,
                        avatar_url text,
                        did varchar(255),
                        followers_count integer default 0,
                        suspended integer default 0,
                        created_at timestamp default current_timestamp,
                        web_public_key text,
                        web_private_key text
                        )`
	sqlInsertAccount = `INSERT INTO accounts(id, username, display_name, summary, avatar_url, did, web_public_key, web_private_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectAccount           = `SELECT id, username, display_name, summary, avatar_url, did, followers_count, suspended, created_at, web_public_key, web_private_key FROM accounts`
	sqlSelectAccountByUsername = sqlSelectAccount + ` WHERE username = ?`
	sqlSelectAccountById       = sqlSelectAccount + ` WHERE id = ?`

	sqlIncrementFollowers = `UPDATE accounts SET followers_count = followers_count + 1 WHERE id = ?`
	sqlDecrementFollowers = `UPDATE accounts SET followers_count = MAX(0, followers_count - 1) WHERE id = ?`

	sqlSelectPrivateKey = `SELECT web_private_key FROM accounts WHERE username = ?`

	//Notes
	sqlCreateNotesTable = `CREATE TABLE IF NOT EXISTS notes(
                        id uuid NOT NULL PRIMARY KEY,
                        user_id uuid NOT NULL,
                        message varchar(1000),
                        created_at timestamp default current_timestamp,
                        like_count integer default 0,
                        repost_count integer default 0
                        )`
	sqlInsertNote     = `INSERT INTO notes(id, user_id, message, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectNoteById = `SELECT notes.id, accounts.username, notes.message, notes.created_at, notes.like_count, notes.repost_count FROM notes
    														INNER JOIN accounts ON accounts.id = notes.user_id 
                                                            WHERE notes.id = ?`
	sqlSelectNotesByUsername = `SELECT notes.id, accounts.username, notes.message, notes.created_at, notes.like_count, notes.repost_count FROM notes
    														INNER JOIN accounts ON accounts.id = notes.user_id 
                                                            WHERE accounts.username = ?
                                                            ORDER BY notes.created_at DESC`
	sqlSelectAllNotes = `SELECT notes.id, accounts.username, notes.message, notes.created_at, notes.like_count, notes.repost_count FROM notes
    														INNER JOIN accounts ON accounts.id = notes.user_id 
                                                            ORDER BY notes.created_at DESC`

	sqlIncrementNoteLikes   = `UPDATE notes SET like_count = like_count + 1 WHERE id = ?`
	sqlIncrementNoteReposts = `UPDATE notes SET repost_count = repost_count + 1 WHERE id = ?`
)

// NewDB opens (or creates) the database at the given path and runs the
// schema setup. Use ":memory:" for tests.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access. An in-memory
	// database exists per connection, so it must stay on a single one.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	// Try to enable WAL mode for the concurrent federation workload
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	db.Exec("PRAGMA synchronous = NORMAL")
	db.Exec("PRAGMA temp_store = MEMORY")
	db.Exec("PRAGMA busy_timeout = 5000")
	db.Exec("PRAGMA foreign_keys = ON")

	instance := &DB{db: db}

	if err := instance.CreateDB(); err != nil {
		db.Close()
		return nil, err
	}

	return instance, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// CreateDB creates the base schema.
func (db *DB) CreateDB() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlCreateAccountsTable); err != nil {
			return err
		}
		if _, err := tx.Exec(sqlCreateNotesTable); err != nil {
			return err
		}
		return nil
	})
}

// CreateAccount registers a local account: generates the federation
// keypair, derives the portable identifier and stores everything.
func (db *DB) CreateAccount(username string) (error, *domain.Account) {
	err, existing := db.ReadAccByUsername(username)
	if err == nil && existing != nil {
		return nil, existing
	}

	keypair := util.GeneratePemKeypair()
	acc := &domain.Account{
		Id:            uuid.New(),
		Username:      username,
		Did:           util.DeriveDID(keypair.Public),
		CreatedAt:     time.Now(),
		WebPublicKey:  keypair.Public,
		WebPrivateKey: keypair.Private,
	}

	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount, acc.Id.String(), acc.Username, acc.DisplayName, acc.Summary, acc.AvatarURL, acc.Did, acc.WebPublicKey, acc.WebPrivateKey, acc.CreatedAt)
		return err
	})
	if err != nil {
		log.Println("Creating new account failed: ", err)
		return err, nil
	}
	return nil, acc
}

func (db *DB) scanAccount(row *sql.Row) (error, *domain.Account) {
	var acc domain.Account
	var idStr string
	err := row.Scan(&idStr, &acc.Username, &acc.DisplayName, &acc.Summary, &acc.AvatarURL, &acc.Did, &acc.FollowersCount, &acc.Suspended, &acc.CreatedAt, &acc.WebPublicKey, &acc.WebPrivateKey)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

func (db *DB) ReadAccByUsername(username string) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountByUsername, username))
}

func (db *DB) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountById, id.String()))
}

func (db *DB) IncrementFollowerCount(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlIncrementFollowers, id.String())
		return err
	})
}

// DecrementFollowerCount floors at zero, duplicate Undo deliveries must
// not drive the count negative.
func (db *DB) DecrementFollowerCount(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDecrementFollowers, id.String())
		return err
	})
}

// GetPrivateKey returns the signing key PEM for a local account.
func (db *DB) GetPrivateKey(username string) (error, string) {
	var pem string
	err := db.db.QueryRow(sqlSelectPrivateKey, username).Scan(&pem)
	if err != nil {
		return err, ""
	}
	return nil, pem
}

func (db *DB) CreateNote(userId uuid.UUID, message string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNote, uuid.New().String(), userId.String(), message, time.Now())
		return err
	})
}

func (db *DB) ReadNoteId(id uuid.UUID) (error, *domain.Note) {
	row := db.db.QueryRow(sqlSelectNoteById, id.String())
	var note domain.Note
	err := row.Scan(&note.Id, &note.CreatedBy, &note.Message, &note.CreatedAt, &note.LikeCount, &note.RepostCount)
	if err == sql.ErrNoRows {
		return err, nil
	}
	return err, &note
}

func (db *DB) readNotes(query string, args ...interface{}) (error, *[]domain.Note) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var notes []domain.Note

	for rows.Next() {
		var note domain.Note
		if err := rows.Scan(&note.Id, &note.CreatedBy, &note.Message, &note.CreatedAt, &note.LikeCount, &note.RepostCount); err != nil {
			return err, &notes
		}
		notes = append(notes, note)
	}
	if err = rows.Err(); err != nil {
		return err, &notes
	}

	return nil, &notes
}

func (db *DB) ReadNotesByUsername(username string) (error, *[]domain.Note) {
	return db.readNotes(sqlSelectNotesByUsername, username)
}

func (db *DB) ReadAllNotes() (error, *[]domain.Note) {
	return db.readNotes(sqlSelectAllNotes)
}

func (db *DB) IncrementNoteLikeCount(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlIncrementNoteLikes, id.String())
		return err
	})
}

func (db *DB) IncrementNoteRepostCount(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlIncrementNoteReposts, id.String())
		return err
	})
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

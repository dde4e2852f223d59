package db

import (
	"strings"
	"testing"
	"time"

	"github.com/deemkeen/loxodon/domain"
	"github.com/google/uuid"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	database, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestCreateAccount(t *testing.T) {
	database := testDB(t)

	err, acc := database.CreateAccount("alice")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if acc == nil {
		t.Fatal("Expected account, got nil")
	}
	if acc.Username != "alice" {
		t.Errorf("Expected username 'alice', got '%s'", acc.Username)
	}
	if !strings.HasPrefix(acc.Did, "did:lox:") {
		t.Errorf("Expected derived DID, got '%s'", acc.Did)
	}
	if !strings.Contains(acc.WebPublicKey, "PUBLIC KEY") {
		t.Error("Account should carry a public key PEM")
	}
	if !strings.Contains(acc.WebPrivateKey, "RSA PRIVATE KEY") {
		t.Error("Account should carry a private key PEM")
	}
}

func TestCreateAccountIdempotent(t *testing.T) {
	database := testDB(t)

	err, first := database.CreateAccount("alice")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	err, second := database.CreateAccount("alice")
	if err != nil {
		t.Fatalf("Second CreateAccount failed: %v", err)
	}
	if first.Id != second.Id {
		t.Error("Creating an existing account should return the existing row")
	}
}

func TestReadAccByUsernameAndId(t *testing.T) {
	database := testDB(t)
	_, acc := database.CreateAccount("alice")

	err, byName := database.ReadAccByUsername("alice")
	if err != nil {
		t.Fatalf("ReadAccByUsername failed: %v", err)
	}
	if byName.Id != acc.Id {
		t.Error("ReadAccByUsername returned the wrong account")
	}

	err, byId := database.ReadAccById(acc.Id)
	if err != nil {
		t.Fatalf("ReadAccById failed: %v", err)
	}
	if byId.Username != "alice" {
		t.Error("ReadAccById returned the wrong account")
	}

	err, missing := database.ReadAccByUsername("nobody")
	if err == nil || missing != nil {
		t.Error("Expected error for unknown username")
	}
}

func TestFollowerCountFloorsAtZero(t *testing.T) {
	database := testDB(t)
	_, acc := database.CreateAccount("alice")

	if err := database.IncrementFollowerCount(acc.Id); err != nil {
		t.Fatalf("IncrementFollowerCount failed: %v", err)
	}
	if err := database.IncrementFollowerCount(acc.Id); err != nil {
		t.Fatalf("IncrementFollowerCount failed: %v", err)
	}

	_, acc = database.ReadAccById(acc.Id)
	if acc.FollowersCount != 2 {
		t.Errorf("Expected 2 followers, got %d", acc.FollowersCount)
	}

	for i := 0; i < 5; i++ {
		if err := database.DecrementFollowerCount(acc.Id); err != nil {
			t.Fatalf("DecrementFollowerCount failed: %v", err)
		}
	}

	_, acc = database.ReadAccById(acc.Id)
	if acc.FollowersCount != 0 {
		t.Errorf("Follower count should floor at zero, got %d", acc.FollowersCount)
	}
}

func TestGetPrivateKey(t *testing.T) {
	database := testDB(t)
	_, acc := database.CreateAccount("alice")

	err, pem := database.GetPrivateKey("alice")
	if err != nil {
		t.Fatalf("GetPrivateKey failed: %v", err)
	}
	if pem != acc.WebPrivateKey {
		t.Error("GetPrivateKey should return the stored PEM")
	}

	err, pem = database.GetPrivateKey("nobody")
	if err == nil || pem != "" {
		t.Error("Expected error for unknown username")
	}
}

func TestNotes(t *testing.T) {
	database := testDB(t)
	_, acc := database.CreateAccount("alice")

	if err := database.CreateNote(acc.Id, "first note"); err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}
	if err := database.CreateNote(acc.Id, "second note"); err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}

	err, notes := database.ReadNotesByUsername("alice")
	if err != nil {
		t.Fatalf("ReadNotesByUsername failed: %v", err)
	}
	if len(*notes) != 2 {
		t.Fatalf("Expected 2 notes, got %d", len(*notes))
	}

	note := (*notes)[0]
	err, byId := database.ReadNoteId(note.Id)
	if err != nil {
		t.Fatalf("ReadNoteId failed: %v", err)
	}
	if byId.CreatedBy != "alice" {
		t.Errorf("Expected author 'alice', got '%s'", byId.CreatedBy)
	}

	if err := database.IncrementNoteLikeCount(note.Id); err != nil {
		t.Fatalf("IncrementNoteLikeCount failed: %v", err)
	}
	if err := database.IncrementNoteRepostCount(note.Id); err != nil {
		t.Fatalf("IncrementNoteRepostCount failed: %v", err)
	}
	if err := database.IncrementNoteRepostCount(note.Id); err != nil {
		t.Fatalf("IncrementNoteRepostCount failed: %v", err)
	}

	_, byId = database.ReadNoteId(note.Id)
	if byId.LikeCount != 1 {
		t.Errorf("Expected 1 like, got %d", byId.LikeCount)
	}
	if byId.RepostCount != 2 {
		t.Errorf("Expected 2 reposts, got %d", byId.RepostCount)
	}
}

func TestRemoteAccountLifecycle(t *testing.T) {
	database := testDB(t)

	remote := &domain.RemoteAccount{
		Id:             uuid.New(),
		Username:       "bob",
		Domain:         "remote.example",
		ActorURI:       "https://remote.example/users/bob",
		InboxURI:       "https://remote.example/users/bob/inbox",
		SharedInboxURI: "https://remote.example/inbox",
		PublicKeyPem:   "pem",
		LastFetchedAt:  time.Now(),
	}

	if err := database.CreateRemoteAccount(remote); err != nil {
		t.Fatalf("CreateRemoteAccount failed: %v", err)
	}

	err, read := database.ReadRemoteAccountByURI(remote.ActorURI)
	if err != nil {
		t.Fatalf("ReadRemoteAccountByURI failed: %v", err)
	}
	if read.Username != "bob" || read.SharedInboxURI != "https://remote.example/inbox" {
		t.Error("Remote account did not round-trip")
	}

	read.DisplayName = "Bob"
	read.InboxURI = "https://remote.example/users/bob/inbox2"
	if err := database.UpdateRemoteAccount(read); err != nil {
		t.Fatalf("UpdateRemoteAccount failed: %v", err)
	}

	_, read = database.ReadRemoteAccountByURI(remote.ActorURI)
	if read.DisplayName != "Bob" || read.InboxURI != "https://remote.example/users/bob/inbox2" {
		t.Error("UpdateRemoteAccount did not persist")
	}

	if err := database.UpdateRemoteAccountMovedTo(remote.ActorURI, "https://new.example/users/bob"); err != nil {
		t.Fatalf("UpdateRemoteAccountMovedTo failed: %v", err)
	}
	_, read = database.ReadRemoteAccountByURI(remote.ActorURI)
	if read.MovedToURI != "https://new.example/users/bob" {
		t.Error("MovedTo pointer did not persist")
	}
}

func TestRemoteFollowUniqueEdge(t *testing.T) {
	database := testDB(t)
	_, acc := database.CreateAccount("alice")

	follow := &domain.RemoteFollow{
		Id:             uuid.New(),
		LocalAccountId: acc.Id,
		ActorURI:       "https://remote.example/users/bob",
		InboxURI:       "https://remote.example/users/bob/inbox",
		ActivityURI:    "https://remote.example/activities/1",
		CreatedAt:      time.Now(),
	}

	if err := database.CreateRemoteFollow(follow); err != nil {
		t.Fatalf("CreateRemoteFollow failed: %v", err)
	}

	// Same edge again, different row id: the unique constraint swallows it
	dup := *follow
	dup.Id = uuid.New()
	if err := database.CreateRemoteFollow(&dup); err != nil {
		t.Fatalf("Duplicate CreateRemoteFollow should be a no-op, got: %v", err)
	}

	err, follows := database.ReadRemoteFollowsByAccountId(acc.Id)
	if err != nil {
		t.Fatalf("ReadRemoteFollowsByAccountId failed: %v", err)
	}
	if len(*follows) != 1 {
		t.Errorf("Expected 1 follow edge, got %d", len(*follows))
	}

	if err := database.DeleteRemoteFollow(acc.Id, follow.ActorURI); err != nil {
		t.Fatalf("DeleteRemoteFollow failed: %v", err)
	}
	err, _ = database.ReadRemoteFollow(acc.Id, follow.ActorURI)
	if err == nil {
		t.Error("Expected error reading deleted follow edge")
	}
}

func TestFollowingTargetRewrite(t *testing.T) {
	database := testDB(t)
	_, acc := database.CreateAccount("alice")

	edge := &domain.Following{
		Id:             uuid.New(),
		LocalAccountId: acc.Id,
		TargetActorURI: "https://old.example/users/bob",
		TargetHandle:   "bob@old.example",
		TargetInboxURI: "https://old.example/users/bob/inbox",
		ActivityURI:    "https://local.example/activities/1",
		CreatedAt:      time.Now(),
	}

	if err := database.CreateFollowing(edge); err != nil {
		t.Fatalf("CreateFollowing failed: %v", err)
	}

	if err := database.AcceptFollowingByURI(edge.ActivityURI); err != nil {
		t.Fatalf("AcceptFollowingByURI failed: %v", err)
	}
	err, read := database.ReadFollowing(acc.Id, edge.TargetActorURI)
	if err != nil {
		t.Fatalf("ReadFollowing failed: %v", err)
	}
	if !read.Accepted {
		t.Error("Edge should be accepted after AcceptFollowingByURI")
	}

	// The move rewrite keeps the row but flips it back to pending
	if err := database.UpdateFollowingTarget(edge.Id, "https://new.example/users/bob", "bob@new.example", "https://new.example/users/bob/inbox", "https://local.example/activities/2"); err != nil {
		t.Fatalf("UpdateFollowingTarget failed: %v", err)
	}

	err, edges := database.ReadFollowingByTarget("https://new.example/users/bob")
	if err != nil {
		t.Fatalf("ReadFollowingByTarget failed: %v", err)
	}
	if len(*edges) != 1 {
		t.Fatalf("Expected 1 rewritten edge, got %d", len(*edges))
	}
	rewritten := (*edges)[0]
	if rewritten.Id != edge.Id {
		t.Error("Rewrite should preserve the edge id")
	}
	if rewritten.Accepted {
		t.Error("Rewritten edge should be pending again")
	}
	if rewritten.TargetInboxURI != "https://new.example/users/bob/inbox" {
		t.Error("Rewrite should update the inbox")
	}

	err, count := database.CountFollowing(acc.Id)
	if err != nil {
		t.Fatalf("CountFollowing failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 following edge, got %d", count)
	}

	if err := database.DeleteFollowing(edge.Id); err != nil {
		t.Fatalf("DeleteFollowing failed: %v", err)
	}
	_, count = database.CountFollowing(acc.Id)
	if count != 0 {
		t.Errorf("Expected 0 following edges after delete, got %d", count)
	}
}

func TestRemotePostIdempotentByApID(t *testing.T) {
	database := testDB(t)

	post := &domain.RemotePost{
		Id:        uuid.New(),
		ApID:      "https://remote.example/notes/1",
		AuthorURI: "https://remote.example/users/bob",
		Content:   "hello",
		Published: time.Now(),
		CreatedAt: time.Now(),
	}

	if err := database.CreateRemotePost(post); err != nil {
		t.Fatalf("CreateRemotePost failed: %v", err)
	}

	dup := *post
	dup.Id = uuid.New()
	dup.Content = "changed"
	if err := database.CreateRemotePost(&dup); err != nil {
		t.Fatalf("Duplicate CreateRemotePost should be a no-op, got: %v", err)
	}

	err, read := database.ReadRemotePostByApID(post.ApID)
	if err != nil {
		t.Fatalf("ReadRemotePostByApID failed: %v", err)
	}
	if read.Content != "hello" {
		t.Error("Cached content must not change on duplicate delivery")
	}

	if err := database.DeleteRemotePostByApID(post.ApID); err != nil {
		t.Fatalf("DeleteRemotePostByApID failed: %v", err)
	}
	err, _ = database.ReadRemotePostByApID(post.ApID)
	if err == nil {
		t.Error("Expected error reading deleted remote post")
	}
}

package activitypub

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deemkeen/loxodon/domain"
	"github.com/deemkeen/loxodon/util"
	"github.com/google/uuid"
)

func TestDeliverOne(t *testing.T) {
	keys := util.GeneratePemKeypair()
	keyID := "https://local.example/users/alice#main-key"

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		if r.Header.Get("Content-Type") != "application/activity+json" {
			t.Errorf("Unexpected content type %s", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Digest") == "" {
			t.Error("Delivery should carry a digest header")
		}
		if r.Header.Get("Signature") == "" {
			t.Error("Delivery should be signed")
		}
		if r.Header.Get("Date") == "" {
			t.Error("Delivery should carry a date header")
		}
		w.WriteHeader(202)
	}))
	defer server.Close()

	deliverer := NewDeliverer()
	env := NewLike("https://local.example/users/alice", "https://remote.example/notes/1", "https://local.example/activities/1")

	if err := deliverer.DeliverOne(env, server.URL+"/inbox", keys.Private, keyID); err != nil {
		t.Fatalf("DeliverOne failed: %v", err)
	}
	if received.Load() != 1 {
		t.Errorf("Expected 1 delivery, got %d", received.Load())
	}
}

func TestDeliverOneNon2xxIsError(t *testing.T) {
	keys := util.GeneratePemKeypair()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(403)
		fmt.Fprint(w, "go away")
	}))
	defer server.Close()

	deliverer := NewDeliverer()
	env := NewLike("a", "b", "c")

	err := deliverer.DeliverOne(env, server.URL+"/inbox", keys.Private, "key")
	if err == nil {
		t.Fatal("Expected error for 403 response")
	}
	if got := err.Error(); !strings.Contains(got, "403") || !strings.Contains(got, "go away") {
		t.Errorf("Error should carry status and body, got: %v", err)
	}
}

func TestDeliverOneBadKey(t *testing.T) {
	deliverer := NewDeliverer()
	env := NewLike("a", "b", "c")

	if err := deliverer.DeliverOne(env, "https://remote.example/inbox", "not a pem", "key"); err == nil {
		t.Error("Expected error for unparsable private key")
	}
}

func TestDeliverToFollowersDedupesAndCounts(t *testing.T) {
	keys := util.GeneratePemKeypair()

	var good atomic.Int32
	goodServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		good.Add(1)
		w.WriteHeader(202)
	}))
	defer goodServer.Close()

	badServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer badServer.Close()

	deliverer := NewDeliverer()
	env := NewLike("a", "b", "c")

	// Three distinct targets, one of them listed twice, one empty
	inboxes := []string{
		goodServer.URL + "/inbox/1",
		goodServer.URL + "/inbox/2",
		goodServer.URL + "/inbox/1",
		"",
		badServer.URL + "/inbox",
	}

	delivered, failed := deliverer.DeliverToFollowers(env, inboxes, keys.Private, "key")

	if delivered != 2 {
		t.Errorf("Expected 2 delivered, got %d", delivered)
	}
	if failed != 1 {
		t.Errorf("Expected 1 failed, got %d", failed)
	}
	if good.Load() != 2 {
		t.Errorf("Shared inbox should receive exactly one copy, got %d POSTs", good.Load())
	}
}

func TestDeliverToFollowersEmpty(t *testing.T) {
	deliverer := NewDeliverer()
	env := NewLike("a", "b", "c")

	delivered, failed := deliverer.DeliverToFollowers(env, nil, "irrelevant", "key")
	if delivered != 0 || failed != 0 {
		t.Errorf("Empty fan-out should do nothing, got %d/%d", delivered, failed)
	}
}

func TestDedupeInboxes(t *testing.T) {
	got := dedupeInboxes([]string{"a", "b", "a", "", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d inboxes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s (order must be preserved)", want[i], i, got[i])
		}
	}
}

func TestFollowerInboxesPrefersSharedInbox(t *testing.T) {
	svc, database := newTestService(t)
	_, alice := database.CreateAccount("alice")

	// Two followers on the same remote node sharing an inbox, one without
	edges := []*domain.RemoteFollow{
		{
			Id: uuid.New(), LocalAccountId: alice.Id,
			ActorURI:       "https://remote.example/users/bob",
			InboxURI:       "https://remote.example/users/bob/inbox",
			SharedInboxURI: "https://remote.example/inbox",
			ActivityURI:    "https://remote.example/activities/1",
			CreatedAt:      time.Now(),
		},
		{
			Id: uuid.New(), LocalAccountId: alice.Id,
			ActorURI:       "https://remote.example/users/carol",
			InboxURI:       "https://remote.example/users/carol/inbox",
			SharedInboxURI: "https://remote.example/inbox",
			ActivityURI:    "https://remote.example/activities/2",
			CreatedAt:      time.Now(),
		},
		{
			Id: uuid.New(), LocalAccountId: alice.Id,
			ActorURI:    "https://other.example/users/dave",
			InboxURI:    "https://other.example/users/dave/inbox",
			ActivityURI: "https://other.example/activities/3",
			CreatedAt:   time.Now(),
		},
	}
	for _, edge := range edges {
		if err := database.CreateRemoteFollow(edge); err != nil {
			t.Fatalf("Failed to seed follow edge: %v", err)
		}
	}

	inboxes, err := svc.FollowerInboxes(alice.Id)
	if err != nil {
		t.Fatalf("FollowerInboxes failed: %v", err)
	}

	if len(inboxes) != 2 {
		t.Fatalf("Expected 2 inboxes (one shared, one personal), got %d: %v", len(inboxes), inboxes)
	}
	seen := map[string]bool{}
	for _, inbox := range inboxes {
		seen[inbox] = true
	}
	if !seen["https://remote.example/inbox"] {
		t.Error("Shared inbox should be preferred")
	}
	if !seen["https://other.example/users/dave/inbox"] {
		t.Error("Follower without shared inbox keeps the personal one")
	}
}

func TestSendCreateFansOutToFollowers(t *testing.T) {
	svc, database := newTestService(t)
	_, alice := database.CreateAccount("alice")

	capture := newInboxCapture(t)
	for i := 0; i < 3; i++ {
		err := database.CreateRemoteFollow(&domain.RemoteFollow{
			Id:             uuid.New(),
			LocalAccountId: alice.Id,
			ActorURI:       fmt.Sprintf("https://remote.example/users/f%d", i),
			InboxURI:       fmt.Sprintf("%s/inbox/%d", capture.server.URL, i),
			ActivityURI:    fmt.Sprintf("https://remote.example/activities/%d", i),
			CreatedAt:      time.Now(),
		})
		if err != nil {
			t.Fatalf("Failed to seed follower: %v", err)
		}
	}

	database.CreateNote(alice.Id, "hello <everyone>")
	_, notes := database.ReadNotesByUsername("alice")
	note := (*notes)[0]

	if err := svc.SendCreate(&note, alice); err != nil {
		t.Fatalf("SendCreate failed: %v", err)
	}

	if capture.count() != 3 {
		t.Fatalf("Expected 3 deliveries, got %d", capture.count())
	}
	activity := capture.last()
	if activity["type"] != "Create" {
		t.Errorf("Expected Create, got %v", activity["type"])
	}
	obj, _ := activity["object"].(map[string]interface{})
	if obj == nil {
		t.Fatal("Create should embed the note object")
	}
	if content, _ := obj["content"].(string); content != "hello &lt;everyone&gt;" {
		t.Errorf("Content should arrive escaped, got %q", content)
	}
}

func TestSendFollowStoresPendingEdge(t *testing.T) {
	svc, database := newTestService(t)
	_, alice := database.CreateAccount("alice")

	capture := newInboxCapture(t)
	bobURI := "https://remote.example/users/bob"
	cacheRemoteActor(t, database, bobURI, capture.server.URL+"/inbox")

	if err := svc.SendFollow(alice, bobURI); err != nil {
		t.Fatalf("SendFollow failed: %v", err)
	}

	err, edge := database.ReadFollowing(alice.Id, bobURI)
	if err != nil || edge == nil {
		t.Fatal("SendFollow should store a following edge")
	}
	if edge.Accepted {
		t.Error("Edge should start pending")
	}

	if capture.count() != 1 {
		t.Fatalf("Expected 1 Follow delivery, got %d", capture.count())
	}
	follow := capture.last()
	if follow["type"] != "Follow" {
		t.Errorf("Expected Follow, got %v", follow["type"])
	}
	if follow["id"] != edge.ActivityURI {
		t.Error("Delivered follow id should match the stored edge for Accept correlation")
	}
}

func TestSendUndoFollowRemovesEdge(t *testing.T) {
	svc, database := newTestService(t)
	_, alice := database.CreateAccount("alice")

	capture := newInboxCapture(t)
	bobURI := "https://remote.example/users/bob"
	cacheRemoteActor(t, database, bobURI, capture.server.URL+"/inbox")

	if err := svc.SendFollow(alice, bobURI); err != nil {
		t.Fatalf("SendFollow failed: %v", err)
	}
	err, edge := database.ReadFollowing(alice.Id, bobURI)
	if err != nil {
		t.Fatalf("ReadFollowing failed: %v", err)
	}

	if err := svc.SendUndoFollow(alice, bobURI); err != nil {
		t.Fatalf("SendUndoFollow failed: %v", err)
	}

	if capture.count() != 2 {
		t.Fatalf("Expected Follow then Undo, got %d deliveries", capture.count())
	}
	undo := capture.last()
	if undo["type"] != "Undo" {
		t.Errorf("Expected Undo, got %v", undo["type"])
	}
	inner, _ := undo["object"].(map[string]interface{})
	if inner == nil || inner["id"] != edge.ActivityURI {
		t.Error("Undo must embed the original Follow by value")
	}

	err, _ = database.ReadFollowing(alice.Id, bobURI)
	if err == nil {
		t.Error("Edge should be gone after SendUndoFollow")
	}

	// Undoing again fails cleanly
	if err := svc.SendUndoFollow(alice, bobURI); err == nil {
		t.Error("Expected error undoing a follow that no longer exists")
	}
}

func TestSendMoveCarriesDid(t *testing.T) {
	svc, database := newTestService(t)
	_, alice := database.CreateAccount("alice")

	capture := newInboxCapture(t)
	database.CreateRemoteFollow(&domain.RemoteFollow{
		Id:             uuid.New(),
		LocalAccountId: alice.Id,
		ActorURI:       "https://remote.example/users/bob",
		InboxURI:       capture.server.URL + "/inbox",
		ActivityURI:    "https://remote.example/activities/1",
		CreatedAt:      time.Now(),
	})

	if err := svc.SendMove(alice, "https://new.example/users/alice"); err != nil {
		t.Fatalf("SendMove failed: %v", err)
	}

	if capture.count() != 1 {
		t.Fatalf("Expected 1 Move delivery, got %d", capture.count())
	}
	move := capture.last()
	if move["type"] != "Move" {
		t.Errorf("Expected Move, got %v", move["type"])
	}
	if move["target"] != "https://new.example/users/alice" {
		t.Errorf("Unexpected target %v", move["target"])
	}
	if move["lox:movedWithDid"] != alice.Did {
		t.Error("Outbound Move should carry the account's DID")
	}
}

package models

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"vanish/internal/db"
	"vanish/internal/expiry"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func mustUser(t *testing.T, database *sql.DB, username string) *User {
	t.Helper()
	if err := CreateUser(database, username, username+"@example.com", "hash"); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	u, err := GetUserByUsername(database, username)
	if err != nil {
		t.Fatalf("get user %s: %v", username, err)
	}
	return u
}

func mustPost(t *testing.T, database *sql.DB, userID int, content, kind string, createdAt time.Time, parentID *int) *Post {
	t.Helper()
	p := &Post{Content: content, CreatedAt: createdAt, UserID: userID, Kind: kind, ParentID: parentID}
	if _, err := CreatePost(database, p); err != nil {
		t.Fatalf("create post %q: %v", content, err)
	}
	return p
}

func TestCreateUserDuplicates(t *testing.T) {
	database := newTestDB(t)
	mustUser(t, database, "alice")

	if err := CreateUser(database, "alice", "other@example.com", "hash"); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
	if err := CreateUser(database, "bob", "alice@example.com", "hash"); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestCreatePostValidation(t *testing.T) {
	database := newTestDB(t)
	alice := mustUser(t, database, "alice")

	_, err := CreatePost(database, &Post{Content: "  ", CreatedAt: time.Now(), UserID: alice.ID})
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	_, err = CreatePost(database, &Post{Content: "hi", UserID: alice.ID})
	if !errors.Is(err, expiry.ErrZeroTime) {
		t.Fatalf("expected ErrZeroTime, got %v", err)
	}
}

func TestGetPostNotFound(t *testing.T) {
	database := newTestDB(t)
	if _, err := GetPost(database, 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGlobalFeedLiveWindow(t *testing.T) {
	database := newTestDB(t)
	alice := mustUser(t, database, "alice")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mustPost(t, database, alice.ID, "human fresh", expiry.KindHuman, now.Add(-2*time.Hour-59*time.Minute), nil)
	mustPost(t, database, alice.ID, "human stale", expiry.KindHuman, now.Add(-3*time.Hour-1*time.Minute), nil)
	mustPost(t, database, alice.ID, "bot fresh", expiry.KindBot, now.Add(-14*time.Minute), nil)
	mustPost(t, database, alice.ID, "bot stale", expiry.KindBot, now.Add(-16*time.Minute), nil)

	posts, err := GlobalFeed(database, now)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, p := range posts {
		got[p.Content] = true
	}
	if !got["human fresh"] || !got["bot fresh"] {
		t.Fatalf("fresh posts missing from feed: %v", got)
	}
	if got["human stale"] || got["bot stale"] {
		t.Fatalf("stale posts leaked into feed: %v", got)
	}
	// newest first
	if len(posts) != 2 || posts[0].Content != "bot fresh" {
		t.Fatalf("unexpected order: %+v", posts)
	}
}

func TestExpiredPostInvisibleBeforeSweep(t *testing.T) {
	database := newTestDB(t)
	alice := mustUser(t, database, "alice")
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := mustPost(t, database, alice.ID, "vanishing", expiry.KindHuman, created, nil)

	visible, err := GlobalFeed(database, created.Add(2*time.Hour+59*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 {
		t.Fatalf("post should be visible at T+2h59m, got %d posts", len(visible))
	}

	// Not swept, but past its window: must be read-invisible.
	gone, err := GlobalFeed(database, created.Add(3*time.Hour+1*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(gone) != 0 {
		t.Fatalf("post should be invisible at T+3h01m, got %d posts", len(gone))
	}
	if _, err := GetPost(database, p.ID); err != nil {
		t.Fatalf("post should still physically exist: %v", err)
	}
}

func TestRepliesSinceCutoff(t *testing.T) {
	database := newTestDB(t)
	alice := mustUser(t, database, "alice")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	parent := mustPost(t, database, alice.ID, "parent", expiry.KindHuman, now.Add(-time.Hour), nil)

	mustPost(t, database, alice.ID, "old reply", expiry.KindHuman, now.Add(-4*time.Hour), &parent.ID)
	mustPost(t, database, alice.ID, "second", expiry.KindHuman, now.Add(-10*time.Minute), &parent.ID)
	mustPost(t, database, alice.ID, "first", expiry.KindHuman, now.Add(-30*time.Minute), &parent.ID)

	replies, err := Replies(database, parent.ID, now.Add(-3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected 2 live replies, got %d", len(replies))
	}
	if replies[0].Content != "first" || replies[1].Content != "second" {
		t.Fatalf("replies not in ascending order: %+v", replies)
	}
}

func TestFollowedFeedIncludesSelf(t *testing.T) {
	database := newTestDB(t)
	alice := mustUser(t, database, "alice")
	bob := mustUser(t, database, "bob")
	carol := mustUser(t, database, "carol")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mustPost(t, database, alice.ID, "mine", expiry.KindHuman, now.Add(-time.Minute), nil)
	mustPost(t, database, bob.ID, "followed", expiry.KindHuman, now.Add(-2*time.Minute), nil)
	mustPost(t, database, carol.ID, "stranger", expiry.KindHuman, now.Add(-3*time.Minute), nil)

	// No follows at all: own posts still show.
	posts, err := FollowedFeed(database, alice.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 1 || posts[0].Content != "mine" {
		t.Fatalf("expected only own post, got %+v", posts)
	}

	if err := Follow(database, alice.ID, bob.ID); err != nil {
		t.Fatal(err)
	}
	posts, err = FollowedFeed(database, alice.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 || posts[0].Content != "mine" || posts[1].Content != "followed" {
		t.Fatalf("unexpected followed feed: %+v", posts)
	}
}

func TestFollowIdempotentAndCounts(t *testing.T) {
	database := newTestDB(t)
	alice := mustUser(t, database, "alice")
	bob := mustUser(t, database, "bob")

	if err := Follow(database, alice.ID, bob.ID); err != nil {
		t.Fatal(err)
	}
	if err := Follow(database, alice.ID, bob.ID); err != nil {
		t.Fatalf("duplicate follow should be a no-op: %v", err)
	}
	followers, following, err := FollowCounts(database, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if followers != 1 || following != 0 {
		t.Fatalf("counts %d/%d, want 1/0", followers, following)
	}
	ok, err := IsFollowing(database, alice.ID, bob.ID)
	if err != nil || !ok {
		t.Fatalf("IsFollowing = %v, %v", ok, err)
	}
	if err := Unfollow(database, alice.ID, bob.ID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := IsFollowing(database, alice.ID, bob.ID); ok {
		t.Fatal("still following after unfollow")
	}
}

func TestSearchCaps(t *testing.T) {
	database := newTestDB(t)
	alice := mustUser(t, database, "alice")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < SearchPostLimit+5; i++ {
		mustPost(t, database, alice.ID, fmt.Sprintf("needle post %d", i), expiry.KindHuman, now.Add(-time.Duration(i)*time.Second), nil)
	}
	posts, err := SearchPosts(database, "needle", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != SearchPostLimit {
		t.Fatalf("post search returned %d, want cap %d", len(posts), SearchPostLimit)
	}

	for i := 0; i < SearchUserLimit+3; i++ {
		mustUser(t, database, fmt.Sprintf("searchable%02d", i))
	}
	users, err := SearchUsers(database, "searchable")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != SearchUserLimit {
		t.Fatalf("user search returned %d, want cap %d", len(users), SearchUserLimit)
	}
}

func TestSearchEscapesWildcards(t *testing.T) {
	database := newTestDB(t)
	alice := mustUser(t, database, "alice")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mustPost(t, database, alice.ID, "shares up 100% today", expiry.KindHuman, now.Add(-time.Minute), nil)
	mustPost(t, database, alice.ID, "shares up 100 points", expiry.KindHuman, now.Add(-time.Minute), nil)

	posts, err := SearchPosts(database, "100%", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 1 || posts[0].Content != "shares up 100% today" {
		t.Fatalf("wildcard not treated literally: %+v", posts)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	database := newTestDB(t)
	alice := mustUser(t, database, "alice")
	bob := mustUser(t, database, "bob")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	parent := mustPost(t, database, alice.ID, "parent", expiry.KindHuman, now, nil)
	reply := mustPost(t, database, bob.ID, "bob reply", expiry.KindHuman, now, &parent.ID)
	if err := Follow(database, bob.ID, alice.ID); err != nil {
		t.Fatal(err)
	}
	if err := Follow(database, alice.ID, bob.ID); err != nil {
		t.Fatal(err)
	}

	if err := DeleteUser(database, alice.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := GetPost(database, parent.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("parent post survived: %v", err)
	}
	// Bob's reply hung off Alice's post; it goes too.
	if _, err := GetPost(database, reply.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reply survived: %v", err)
	}
	followers, following, err := FollowCounts(database, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if followers != 0 || following != 0 {
		t.Fatalf("follow edges survived: %d/%d", followers, following)
	}
}

func TestDeleteExpiredCascadesReplies(t *testing.T) {
	database := newTestDB(t)
	alice := mustUser(t, database, "alice")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	old := mustPost(t, database, alice.ID, "old parent", expiry.KindHuman, now.Add(-4*time.Hour), nil)
	freshReply := mustPost(t, database, alice.ID, "fresh reply to old", expiry.KindHuman, now.Add(-time.Minute), &old.ID)
	fresh := mustPost(t, database, alice.ID, "fresh", expiry.KindHuman, now.Add(-time.Minute), nil)

	n, err := DeleteExpired(database, now.Add(-3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d rows directly, want 1", n)
	}
	if _, err := GetPost(database, old.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("expired parent survived sweep")
	}
	// A reply without its parent is meaningless; the cascade takes it.
	if _, err := GetPost(database, freshReply.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("orphan reply survived sweep")
	}
	if _, err := GetPost(database, fresh.ID); err != nil {
		t.Fatalf("fresh post swept: %v", err)
	}
}

func TestBotSupportQueries(t *testing.T) {
	database := newTestDB(t)
	bot := mustUser(t, database, "news_bot")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-15 * time.Minute)

	mustPost(t, database, bot.ID, "headline one", expiry.KindBot, now.Add(-10*time.Minute), nil)
	mustPost(t, database, bot.ID, "headline two", expiry.KindBot, now.Add(-5*time.Minute), nil)
	mustPost(t, database, bot.ID, "ancient headline", expiry.KindBot, now.Add(-20*time.Minute), nil)
	mustPost(t, database, bot.ID, "human aside", expiry.KindHuman, now.Add(-5*time.Minute), nil)

	count, err := CountRecentBotPosts(database, bot.ID, since)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("count %d, want 2", count)
	}

	oldest, err := OldestRecentBotPost(database, bot.ID, since)
	if err != nil {
		t.Fatal(err)
	}
	if oldest.Content != "headline one" {
		t.Fatalf("oldest = %q", oldest.Content)
	}

	dup, err := HasRecentBotPostContaining(database, bot.ID, since, "headline two")
	if err != nil || !dup {
		t.Fatalf("dup = %v, %v", dup, err)
	}
	dup, err = HasRecentBotPostContaining(database, bot.ID, since, "never posted")
	if err != nil || dup {
		t.Fatalf("unexpected dup = %v, %v", dup, err)
	}
}

func TestCreatePostNormalizesToUTC(t *testing.T) {
	database := newTestDB(t)
	alice := mustUser(t, database, "alice")
	loc := time.FixedZone("UTC+3", 3*3600)
	created := time.Date(2025, 6, 1, 15, 0, 0, 0, loc) // 12:00 UTC

	p := mustPost(t, database, alice.ID, "tz check", expiry.KindHuman, created, nil)
	got, err := GetPost(database, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !got.CreatedAt.UTC().Equal(want) {
		t.Fatalf("stored %v, want %v", got.CreatedAt, want)
	}
}

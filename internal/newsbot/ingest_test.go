package newsbot

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vanish/internal/expiry"
	"vanish/internal/models"
)

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func feedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func rssWith(items ...string) string {
	return `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>` +
		strings.Join(items, "") + `</channel></rss>`
}

func rssItemXML(title, link, summary string, published time.Time) string {
	return fmt.Sprintf(`<item><title>%s</title><link>%s</link><description><![CDATA[%s]]></description><pubDate>%s</pubDate></item>`,
		title, link, summary, published.Format(time.RFC1123Z))
}

func newService(t *testing.T, database *sql.DB, feedURL string) *Service {
	t.Helper()
	svc := New(database, NewFetcher(5*time.Second), map[string][]Source{
		"general": {{Name: "Test Source", URL: feedURL}},
	})
	svc.Now = func() time.Time { return testNow }
	return svc
}

func botPosts(t *testing.T, database *sql.DB) []models.Post {
	t.Helper()
	bot, err := models.GetUserByUsername(database, "news_bot")
	if err != nil {
		t.Fatal(err)
	}
	posts, err := models.PostsByAuthor(database, bot.ID, testNow)
	if err != nil {
		t.Fatal(err)
	}
	return posts
}

func TestIngestCreatesBotPost(t *testing.T) {
	database := newTestDB(t)
	ts := feedServer(t, rssWith(rssItemXML("Markets rally", "https://example.com/rally", "<p>Stocks climbed.</p>", testNow.Add(-2*time.Hour))))
	svc := newService(t, database, ts.URL)

	if err := svc.IngestCategory(context.Background(), "general"); err != nil {
		t.Fatal(err)
	}
	posts := botPosts(t, database)
	if len(posts) != 1 {
		t.Fatalf("got %d bot posts, want 1", len(posts))
	}
	p := posts[0]
	if p.Kind != expiry.KindBot {
		t.Fatalf("kind %q", p.Kind)
	}
	if p.SourceURL != "https://example.com/rally" {
		t.Fatalf("source_url %q", p.SourceURL)
	}
	for _, want := range []string{"📰", "Markets rally", "Stocks climbed.", "Source: Test Source"} {
		if !strings.Contains(p.Content, want) {
			t.Fatalf("content %q missing %q", p.Content, want)
		}
	}
	if strings.Contains(p.Content, "<p>") {
		t.Fatal("summary markup not stripped")
	}
}

func TestIngestDeduplicatesHeadline(t *testing.T) {
	database := newTestDB(t)
	ts := feedServer(t, rssWith(rssItemXML("Same headline twice", "https://example.com/x", "sum", testNow.Add(-time.Hour))))
	svc := newService(t, database, ts.URL)

	for i := 0; i < 2; i++ {
		if err := svc.IngestCategory(context.Background(), "general"); err != nil {
			t.Fatal(err)
		}
	}
	if posts := botPosts(t, database); len(posts) != 1 {
		t.Fatalf("dedup failed: %d posts", len(posts))
	}
}

func TestIngestCapacityGuard(t *testing.T) {
	database := newTestDB(t)
	ts := feedServer(t, rssWith(rssItemXML("A brand new story", "https://example.com/new", "sum", testNow.Add(-time.Hour))))
	svc := newService(t, database, ts.URL)

	bot, err := EnsureBot(database, "general")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < maxLivePosts; i++ {
		_, err := models.CreatePost(database, &models.Post{
			Content:   fmt.Sprintf("old story %d", i),
			CreatedAt: testNow.Add(-time.Duration(10-i) * time.Minute),
			UserID:    bot.ID,
			Kind:      expiry.KindBot,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if err := svc.IngestCategory(context.Background(), "general"); err != nil {
		t.Fatal(err)
	}
	count, err := models.CountRecentBotPosts(database, bot.ID, expiry.Cutoff(testNow, expiry.KindBot))
	if err != nil {
		t.Fatal(err)
	}
	if count > maxLivePosts {
		t.Fatalf("bot holds %d live posts, cap is %d", count, maxLivePosts)
	}
	// The oldest pre-existing post made room for the new one.
	posts := botPosts(t, database)
	for _, p := range posts {
		if p.Content == "old story 0" {
			t.Fatal("oldest post not evicted")
		}
	}
	found := false
	for _, p := range posts {
		if strings.Contains(p.Content, "A brand new story") {
			found = true
		}
	}
	if !found {
		t.Fatal("new post not inserted")
	}
}

func TestIngestEmptyFeed(t *testing.T) {
	database := newTestDB(t)
	ts := feedServer(t, rssWith())
	svc := newService(t, database, ts.URL)

	if err := svc.IngestCategory(context.Background(), "general"); err != nil {
		t.Fatalf("empty feed must not error: %v", err)
	}
	if posts := botPosts(t, database); len(posts) != 0 {
		t.Fatalf("empty feed produced %d posts", len(posts))
	}
}

func TestIngestSkipsStaleArticles(t *testing.T) {
	database := newTestDB(t)
	ts := feedServer(t, rssWith(
		rssItemXML("Last week's news", "https://example.com/old", "sum", testNow.Add(-5*24*time.Hour)),
	))
	svc := newService(t, database, ts.URL)

	if err := svc.IngestCategory(context.Background(), "general"); err != nil {
		t.Fatal(err)
	}
	if posts := botPosts(t, database); len(posts) != 0 {
		t.Fatalf("stale article posted: %d posts", len(posts))
	}
}

func TestIngestDropsUndatedEntries(t *testing.T) {
	database := newTestDB(t)
	ts := feedServer(t, rssWith(`<item><title>No date</title><link>https://example.com/u</link></item>`))
	svc := newService(t, database, ts.URL)

	if err := svc.IngestCategory(context.Background(), "general"); err != nil {
		t.Fatal(err)
	}
	if posts := botPosts(t, database); len(posts) != 0 {
		t.Fatalf("undated article posted: %d posts", len(posts))
	}
}

func TestRunSwallowsFetchFailure(t *testing.T) {
	database := newTestDB(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer ts.Close()
	svc := New(database, NewFetcher(5*time.Second), map[string][]Source{
		"general":   {{Name: "Down", URL: ts.URL}},
		"financial": {{Name: "Down", URL: ts.URL}},
		"political": {{Name: "Down", URL: ts.URL}},
	})
	svc.Now = func() time.Time { return testNow }

	// Must not panic or propagate; the store stays untouched.
	svc.Run(context.Background())
	if posts := botPosts(t, database); len(posts) != 0 {
		t.Fatalf("failed fetch produced %d posts", len(posts))
	}
}

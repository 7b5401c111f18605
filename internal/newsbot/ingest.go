package newsbot

import (
	"context"
	"database/sql"
	"log"
	"math/rand"
	"time"

	"vanish/internal/expiry"
	"vanish/internal/models"
)

const (
	maxEntries   = 30
	recentWindow = 72 * time.Hour
	dedupWindow  = time.Hour
	dedupPrefix  = 50
	maxLivePosts = 5
)

// Service runs the news ingestion job: one tick produces at most one bot
// post from one randomly chosen source.
type Service struct {
	db      *sql.DB
	fetcher *Fetcher
	sources map[string][]Source

	// Now is stubbed in tests; everything else uses the wall clock.
	Now func() time.Time
}

func New(db *sql.DB, fetcher *Fetcher, sources map[string][]Source) *Service {
	return &Service{db: db, fetcher: fetcher, sources: sources, Now: time.Now}
}

// Ingest runs one tick for a uniformly random category.
func (s *Service) Ingest(ctx context.Context) error {
	if _, err := EnsureAll(s.db); err != nil {
		return err
	}
	category := Categories[rand.Intn(len(Categories))]
	return s.IngestCategory(ctx, category)
}

// IngestCategory runs one tick for a specific category. A nil return covers
// both "posted" and the silent skips (empty feed, nothing recent, duplicate
// headline); only infrastructure faults come back as errors, and the
// scheduler wrapper swallows those too.
func (s *Service) IngestCategory(ctx context.Context, category string) error {
	bot, err := EnsureBot(s.db, category)
	if err != nil {
		return err
	}
	sources := s.sources[category]
	if len(sources) == 0 {
		return nil
	}
	source := sources[rand.Intn(len(sources))]

	items, err := s.fetcher.Fetch(ctx, source.URL)
	if err != nil || len(items) == 0 {
		return err
	}

	now := s.Now().UTC()
	cutoff := now.Add(-recentWindow)
	if len(items) > maxEntries {
		items = items[:maxEntries]
	}
	var recent []Item
	for _, it := range items {
		if !it.Published.IsZero() && !it.Published.Before(cutoff) {
			recent = append(recent, it)
		}
	}
	if len(recent) == 0 {
		return nil
	}
	article := recent[rand.Intn(len(recent))]

	cfg := botConfigs[category]
	content := buildContent(cfg.Emoji, article.Title, article.Summary, source.Name)

	// Repost guard: same headline from the same bot within the hour.
	needle := truncateRunes(article.Title, dedupPrefix)
	dup, err := models.HasRecentBotPostContaining(s.db, bot.ID, now.Add(-dedupWindow), needle)
	if err != nil || dup {
		return err
	}

	if err := s.enforceCapacity(bot.ID, now); err != nil {
		return err
	}

	_, err = models.CreatePost(s.db, &models.Post{
		Content:   content,
		CreatedAt: now,
		UserID:    bot.ID,
		Kind:      expiry.KindBot,
		SourceURL: article.Link,
	})
	return err
}

// enforceCapacity keeps a bot's live footprint bounded: once it holds
// maxLivePosts posts inside its own TTL window, the oldest one is deleted to
// make room for the incoming post.
func (s *Service) enforceCapacity(botID int, now time.Time) error {
	since := expiry.Cutoff(now, expiry.KindBot)
	count, err := models.CountRecentBotPosts(s.db, botID, since)
	if err != nil {
		return err
	}
	if count < maxLivePosts {
		return nil
	}
	oldest, err := models.OldestRecentBotPost(s.db, botID, since)
	if err != nil {
		return err
	}
	return models.DeletePost(s.db, oldest.ID)
}

// Run is the scheduler entry point. Ingestion failures end the tick and
// nothing more; the next tick starts clean.
func (s *Service) Run(ctx context.Context) {
	if err := s.Ingest(ctx); err != nil {
		log.Printf("news ingestion tick failed: %v", err)
	}
}

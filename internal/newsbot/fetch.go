package newsbot

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Item is one article pulled out of a feed. Published is zero when no date
// field could be parsed; such items are dropped by the recency filter.
type Item struct {
	Title     string
	Link      string
	Summary   string
	Published time.Time
}

type Fetcher struct{ client *http.Client }

// NewFetcher builds a fetcher with a hard request timeout. Feeds are
// untrusted and occasionally hang; a tick must never wait on one forever.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads and parses one feed, RSS 2.0 or Atom.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed %s: status %d", feedURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseFeed(body)
}

func parseFeed(body []byte) ([]Item, error) {
	var rf rssFeed
	if err := xml.Unmarshal(body, &rf); err == nil && len(rf.Channel.Item) > 0 {
		items := make([]Item, 0, len(rf.Channel.Item))
		for _, it := range rf.Channel.Item {
			items = append(items, Item{
				Title:     it.Title,
				Link:      it.Link,
				Summary:   it.Description,
				Published: parseDate(it.PubDate, it.Updated, it.Date),
			})
		}
		return items, nil
	}
	var af atomFeed
	if err := xml.Unmarshal(body, &af); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(af.Entry))
	for _, e := range af.Entry {
		summary := e.Summary
		if summary == "" {
			summary = e.Content
		}
		items = append(items, Item{
			Title:     e.Title,
			Link:      e.link(),
			Summary:   summary,
			Published: parseDate(e.Published, e.Updated),
		})
	}
	return items, nil
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02 15:04:05",
}

// parseDate tries each candidate field in order against the known feed date
// layouts. The first field that parses wins; a zero time means none did.
func parseDate(candidates ...string) time.Time {
	for _, raw := range candidates {
		if raw == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

type rssFeed struct {
	Channel struct {
		Title string    `xml:"title"`
		Item  []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Updated     string `xml:"updated"`
	Date        string `xml:"date"` // dc:date
}

type atomFeed struct {
	Entry []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	Links     []atomLink `xml:"link"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

func (e atomEntry) link() string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(e.Links) > 0 {
		return e.Links[0].Href
	}
	return ""
}

package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/elonfeng/intelhub/pkg/event"
)

// maxEntries is how many entries of a feed are considered per poll.
const maxEntries = 20

// RSS fetches an RSS or Atom feed.
type RSS struct {
	id     string
	url    string
	client *http.Client
	parser *gofeed.Parser
}

// NewRSS creates an RSS/Atom fetcher.
func NewRSS(id, url string) *RSS {
	return &RSS{
		id:     id,
		url:    url,
		client: newClient(),
		parser: gofeed.NewParser(),
	}
}

func (r *RSS) ID() string { return r.id }

func (r *RSS) Fetch(ctx context.Context) ([]event.RawItem, error) {
	resp, err := get(ctx, r.client, r.id, r.url, "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	feed, err := r.parser.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", r.id, err)
	}
	return feedItems(feed, r.id), nil
}

func feedItems(feed *gofeed.Feed, sourceID string) []event.RawItem {
	entries := feed.Items
	if len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}

	items := make([]event.RawItem, 0, len(entries))
	for _, entry := range entries {
		headline := strings.TrimSpace(entry.Title)
		if headline == "" {
			continue
		}
		// Entries without any link keep an empty one; their id then derives
		// from headline and publish time.
		link := strings.TrimSpace(entry.Link)
		if link == "" && len(entry.Links) > 0 {
			link = strings.TrimSpace(entry.Links[0])
		}
		if link == "" {
			link = strings.TrimSpace(entry.GUID)
		}

		var published int64
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UnixMilli()
		} else if entry.UpdatedParsed != nil {
			published = entry.UpdatedParsed.UnixMilli()
		}

		items = append(items, event.RawItem{
			Headline:    headline,
			Link:        link,
			PublishedAt: published,
			SourceID:    sourceID,
			Raw: map[string]any{
				"title":     entry.Title,
				"link":      entry.Link,
				"published": entry.Published,
				"guid":      entry.GUID,
			},
		})
	}
	return items
}

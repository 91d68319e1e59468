package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/elonfeng/intelhub/pkg/event"
)

// JSONFeed fetches a JSON endpoint shaped as {"items": [...]},
// {"data": [...]} or a bare array of objects.
type JSONFeed struct {
	id     string
	url    string
	client *http.Client
}

// NewJSONFeed creates a JSON feed fetcher.
func NewJSONFeed(id, url string) *JSONFeed {
	return &JSONFeed{id: id, url: url, client: newClient()}
}

func (j *JSONFeed) ID() string { return j.id }

func (j *JSONFeed) Fetch(ctx context.Context) ([]event.RawItem, error) {
	resp, err := get(ctx, j.client, j.id, j.url, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var doc any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", j.id, err)
	}
	return ParseJSON(doc, j.id), nil
}

// ParseJSON maps a decoded JSON document to raw items. Entries without a
// headline or a link are skipped.
func ParseJSON(doc any, sourceID string) []event.RawItem {
	var list []any
	switch v := doc.(type) {
	case []any:
		list = v
	case map[string]any:
		if items, ok := v["items"].([]any); ok {
			list = items
		} else if data, ok := v["data"].([]any); ok {
			list = data
		}
	}

	items := make([]event.RawItem, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		headline := firstString(m, "title", "headline", "subject")
		link := firstString(m, "url", "link", "href")
		if headline == "" || link == "" {
			continue
		}
		items = append(items, event.RawItem{
			Headline:    headline,
			Link:        link,
			PublishedAt: publishedMs(m),
			SourceID:    sourceID,
			Raw:         m,
		})
	}
	return items
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// publishedMs reads "timestamp" as epoch ms, or "time" as epoch seconds or
// an RFC 3339 string. 0 means unknown.
func publishedMs(m map[string]any) int64 {
	if v, ok := m["timestamp"]; ok {
		switch ts := v.(type) {
		case float64:
			return int64(ts)
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64); err == nil {
				return n
			}
		}
		return 0
	}
	switch ts := m["time"].(type) {
	case float64:
		return int64(ts * 1000)
	case string:
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(ts)); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

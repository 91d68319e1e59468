package event

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
)

// RawItem is what collectors hand to the ingest pipeline.
type RawItem struct {
	Headline    string
	Link        string
	PublishedAt int64 // epoch ms, 0 when the feed did not say
	SourceID    string
	Raw         map[string]any
}

// Event is the scored, persisted record derived from one RawItem.
type Event struct {
	ID          string   `json:"id" db:"id"`
	DetectedAt  int64    `json:"ts_detected" db:"ts_detected"`
	PublishedAt int64    `json:"ts_published" db:"ts_published"`
	Headline    string   `json:"headline" db:"headline"`
	Source      string   `json:"source" db:"source"`
	Link        string   `json:"link" db:"link"`
	Market      string   `json:"market" db:"market"`
	Symbols     []string `json:"symbols" db:"-"`
	Categories  []string `json:"categories" db:"-"`
	Tags        []string `json:"tags" db:"-"`
	Score       float64  `json:"score" db:"score"`
	Pushed      bool     `json:"pushed" db:"pushed"`
	ExpiresAt   int64    `json:"expires_at" db:"expires_at"`
	ThreadKey   string   `json:"thread_key" db:"thread_key"`

	SymbolsJoined    string `json:"-" db:"symbols"`
	CategoriesJoined string `json:"-" db:"categories"`
	TagsJoined       string `json:"-" db:"tags"`
}

// Flatten fills the joined storage columns from the slice fields.
func (e *Event) Flatten() {
	e.SymbolsJoined = Join(e.Symbols)
	e.CategoriesJoined = Join(e.Categories)
	e.TagsJoined = Join(e.Tags)
}

// Expand is the inverse of Flatten.
func (e *Event) Expand() {
	e.Symbols = Split(e.SymbolsJoined)
	e.Categories = Split(e.CategoriesJoined)
	e.Tags = Split(e.TagsJoined)
}

// Join encodes a multi-valued field the way it is stored: semicolon separated.
func Join(vals []string) string {
	return strings.Join(vals, ";")
}

// Split decodes a semicolon separated column, dropping empty parts.
func Split(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ID derives the stable event id. Items with a link hash source and link;
// items without one fall back to headline and publish time.
func ID(sourceID, link, headline string, publishedMs int64) string {
	var base string
	if link != "" {
		base = sourceID + "|" + link
	} else {
		base = headline + "|" + strconv.FormatInt(publishedMs, 10)
	}
	sum := sha1.Sum([]byte(base))
	return hex.EncodeToString(sum[:])
}

// ThreadKey builds the throttling partition key.
func ThreadKey(primary, category string) string {
	return primary + "|" + category
}

// NormalizeLink strips tracking parameters (utm_*, ref, ref_src) and the
// fragment so the same article reached through different links hashes alike.
// Unparseable input is returned unchanged.
func NormalizeLink(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			lk := strings.ToLower(k)
			if strings.HasPrefix(lk, "utm_") || lk == "ref" || lk == "ref_src" {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

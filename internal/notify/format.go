package notify

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/elonfeng/intelhub/pkg/event"
)

// DefaultMaxMessageLen is the truncation limit when none is configured.
const DefaultMaxMessageLen = 3500

// FormatOptions control message rendering.
type FormatOptions struct {
	Important float64
	Critical  float64
	Translate bool
	MaxLen    int
	Location  *time.Location

	Muted  bool
	Merged int
}

// Level returns the severity marker for a score.
func Level(score, important, critical float64) string {
	switch {
	case score >= critical:
		return "🔴 Critical"
	case score >= important:
		return "🟢 Important"
	default:
		return "✅ Notice"
	}
}

// Format renders an event as a plain-text notification.
func Format(ev event.Event, opts FormatOptions) string {
	var b strings.Builder

	b.WriteString(Level(ev.Score, opts.Important, opts.Critical))
	if tags := hashtags(ev.Tags); tags != "" {
		b.WriteString(" ")
		b.WriteString(tags)
	}
	b.WriteString("\n")
	b.WriteString(ev.Headline)

	if opts.Translate {
		if zh, ok := Translate(ev.Headline); ok {
			b.WriteString("\n【中译】")
			b.WriteString(zh)
		}
	}
	if opts.Merged > 1 {
		fmt.Fprintf(&b, "\n(merged %d updates)", opts.Merged)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	fmt.Fprintf(&b, "\nSource: %s | Score: %.1f", orDash(ev.Source), ev.Score)
	fmt.Fprintf(&b, "\nCats: %s", orDash(strings.Join(ev.Categories, ", ")))
	fmt.Fprintf(&b, "\nTicker: %s", orDash(strings.Join(ev.Symbols, ", ")))
	fmt.Fprintf(&b, "\nLink: %s", orDash(ev.Link))
	fmt.Fprintf(&b, "\nPublished: %s | Detected: %s", stamp(ev.PublishedAt, loc), stamp(ev.DetectedAt, loc))

	if opts.Muted {
		b.WriteString("\n(quiet hours, muted)")
	}

	limit := opts.MaxLen
	if limit <= 0 {
		limit = DefaultMaxMessageLen
	}
	return Truncate(b.String(), limit)
}

// Truncate shortens s to at most limit runes, ending in "...".
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 3 {
		return strings.Repeat(".", limit)
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}

func hashtags(tags []string) string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		out = append(out, t)
	}
	return strings.Join(out, " ")
}

func stamp(ms int64, loc *time.Location) string {
	if ms <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d (%s)", ms, time.UnixMilli(ms).In(loc).Format("2006-01-02 15:04 MST"))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// glossary is ordered longest term first so "investment" wins over "invest".
var glossary = []struct{ en, zh string }{
	{"management change", "管理层变更"},
	{"breakthrough", "技术突破"},
	{"acquisition", "收购"},
	{"partnership", "战略合作"},
	{"investment", "投资"},
	{"milestone", "里程碑"},
	{"spot etf", "现货ETF"},
	{"contract", "合同"},
	{"guidance", "指引"},
	{"appoint", "任命"},
	{"acquire", "收购"},
	{"buyback", "回购"},
	{"upgrade", "升级"},
	{"invest", "投资"},
	{"resign", "辞任"},
	{"order", "订单"},
	{"ipo", "IPO"},
	{"rwa", "RWA"},
}

// Translate substitutes known finance terms with Chinese labels on the
// lowercased headline. ok is false when no term matched.
func Translate(headline string) (string, bool) {
	out := strings.ReplaceAll(strings.ToLower(headline), "ray-ban", "RayBan")
	hit := false
	for _, g := range glossary {
		if strings.Contains(out, g.en) {
			out = strings.ReplaceAll(out, g.en, g.zh)
			hit = true
		}
	}
	return out, hit
}

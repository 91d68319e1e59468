package score

import (
	"strings"
	"sync/atomic"

	"github.com/elonfeng/intelhub/pkg/event"
)

// GeneralCategory labels events that matched no tier keyword.
const GeneralCategory = "general"

// Result is the outcome of scoring one headline.
type Result struct {
	Score      float64
	Categories []string
	Tags       []string
	Symbols    []string
	Tier1      []string
	Tier2      []string
	Negatives  int
}

// PrimaryCategory is the first tier1 keyword, else the first tier2 keyword,
// else "general".
func (r Result) PrimaryCategory() string {
	if len(r.Tier1) > 0 {
		return r.Tier1[0]
	}
	if len(r.Tier2) > 0 {
		return r.Tier2[0]
	}
	return GeneralCategory
}

// ThreadKey returns "primary_symbol|primary_category", using sourceID when
// no watchlist symbol matched.
func (r *Rules) ThreadKey(res Result, sourceID string) string {
	primary := sourceID
	if len(res.Symbols) > 0 {
		primary = res.Symbols[0]
	}
	return event.ThreadKey(primary, res.PrimaryCategory())
}

// Blacklisted reports whether an item must be rejected before scoring, and
// which rule rejected it.
func (r *Rules) Blacklisted(sourceID, headline string) (string, bool) {
	if _, ok := r.sourceBlacklist[sourceID]; ok {
		return "source:" + sourceID, true
	}
	lower := normalize(headline)
	for _, term := range r.keywordBlacklist {
		if isASCII(term) {
			if strings.Contains(lower, strings.ToLower(term)) {
				return "keyword:" + term, true
			}
		} else if strings.Contains(headline, term) {
			return "keyword:" + term, true
		}
	}
	return "", false
}

// Score computes score, categories, tags and symbols for a headline. The
// output depends only on the headline and the receiver.
func (r *Rules) Score(headline string) Result {
	lower := normalize(headline)
	var res Result

	for _, m := range r.tier1 {
		if m.match(lower, headline) {
			res.Tier1 = append(res.Tier1, m.keyword)
		}
	}
	for _, m := range r.tier2 {
		if m.match(lower, headline) {
			res.Tier2 = append(res.Tier2, m.keyword)
		}
	}
	for _, m := range r.negatives {
		if m.match(lower, headline) {
			res.Negatives++
		}
	}

	for _, tp := range r.topics {
		if tp.Hashtag == "" {
			continue
		}
		for _, tag := range tp.Tags {
			if tag != "" && strings.Contains(headline, tag) {
				if !contains(res.Tags, tp.Hashtag) {
					res.Tags = append(res.Tags, tp.Hashtag)
				}
				break
			}
		}
	}

	for _, sm := range r.symbols {
		if sm.re.MatchString(headline) {
			res.Symbols = append(res.Symbols, sm.symbol)
		}
	}

	res.Categories = append(append([]string(nil), res.Tier1...), res.Tier2...)
	if len(res.Categories) == 0 {
		res.Categories = []string{GeneralCategory}
	}

	w := r.weights
	res.Score = w.Base +
		float64(len(res.Tier1))*w.Tier1 +
		float64(len(res.Tier2))*w.Tier2 +
		float64(res.Negatives)*w.Negative
	if len(res.Symbols) > 0 {
		res.Score += w.WatchlistBonus
	}
	return res
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Engine holds the current Rules snapshot. Readers get one consistent
// snapshot per Load; reloads replace the pointer atomically.
type Engine struct {
	rules atomic.Pointer[Rules]
}

// NewEngine creates an engine serving r.
func NewEngine(r *Rules) *Engine {
	e := &Engine{}
	e.rules.Store(r)
	return e
}

// Load returns the current snapshot.
func (e *Engine) Load() *Rules { return e.rules.Load() }

// Version returns the version label of the current snapshot.
func (e *Engine) Version() string {
	if r := e.rules.Load(); r != nil {
		return r.version
	}
	return ""
}

// Swap installs a new snapshot.
func (e *Engine) Swap(r *Rules) {
	if r != nil {
		e.rules.Store(r)
	}
}

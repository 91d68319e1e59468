package score

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default weights applied when the rule file leaves a weight out.
const (
	DefaultBase           = 20.0
	DefaultTier1          = 50.0
	DefaultTier2          = 25.0
	DefaultNegative       = -30.0
	DefaultWatchlistBonus = 10.0
)

// RuleSet is the on-disk shape of the scoring rules.
type RuleSet struct {
	Version          string     `yaml:"version"`
	Tiers            Tiers      `yaml:"tiers"`
	Negatives        []string   `yaml:"negatives"`
	Topics           Topics     `yaml:"topics"`
	Watchlist        []string   `yaml:"watchlist"`
	SourceBlacklist  []string   `yaml:"source_blacklist"`
	KeywordBlacklist []string   `yaml:"keyword_blacklist"`
	Weights          WeightSpec `yaml:"weights"`
}

// Tiers holds the keyword lists, tier1 weighing more than tier2.
type Tiers struct {
	Tier1 []string `yaml:"tier1"`
	Tier2 []string `yaml:"tier2"`
}

// WeightSpec uses pointers so an explicit 0 is distinguishable from absent.
type WeightSpec struct {
	Base           *float64 `yaml:"base"`
	Tier1          *float64 `yaml:"tier1"`
	Tier2          *float64 `yaml:"tier2"`
	Negative       *float64 `yaml:"negative"`
	WatchlistBonus *float64 `yaml:"watchlist_bonus"`
}

// Weights are the resolved scoring weights.
type Weights struct {
	Base           float64
	Tier1          float64
	Tier2          float64
	Negative       float64
	WatchlistBonus float64
}

// Resolve fills absent weights with defaults.
func (w WeightSpec) Resolve() Weights {
	pick := func(p *float64, def float64) float64 {
		if p == nil {
			return def
		}
		return *p
	}
	return Weights{
		Base:           pick(w.Base, DefaultBase),
		Tier1:          pick(w.Tier1, DefaultTier1),
		Tier2:          pick(w.Tier2, DefaultTier2),
		Negative:       pick(w.Negative, DefaultNegative),
		WatchlistBonus: pick(w.WatchlistBonus, DefaultWatchlistBonus),
	}
}

// Topic maps tag phrases to a single hashtag.
type Topic struct {
	Name    string   `yaml:"name"`
	Hashtag string   `yaml:"hashtag"`
	Tags    []string `yaml:"tags"`
}

// Topics keeps file order so topic matching stays deterministic. It accepts
// either a mapping (name: {hashtag, tags}) or a list of topics.
type Topics []Topic

func (t *Topics) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.MappingNode:
		out := make(Topics, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			var tp Topic
			if err := n.Content[i+1].Decode(&tp); err != nil {
				return fmt.Errorf("topic %s: %w", n.Content[i].Value, err)
			}
			tp.Name = n.Content[i].Value
			out = append(out, tp)
		}
		*t = out
	case yaml.SequenceNode:
		var list []Topic
		if err := n.Decode(&list); err != nil {
			return err
		}
		*t = list
	default:
		return fmt.Errorf("topics: expected mapping or sequence, got %v", n.Tag)
	}
	return nil
}

// Rules is a compiled, immutable RuleSet snapshot. It is safe for
// concurrent use.
type Rules struct {
	version          string
	tier1            []matcher
	tier2            []matcher
	negatives        []matcher
	topics           []Topic
	symbols          []symbolMatcher
	sourceBlacklist  map[string]struct{}
	keywordBlacklist []string
	weights          Weights
}

// Compile validates and compiles a RuleSet.
func Compile(rs RuleSet) (*Rules, error) {
	r := &Rules{
		version:          rs.Version,
		topics:           append([]Topic(nil), rs.Topics...),
		sourceBlacklist:  make(map[string]struct{}, len(rs.SourceBlacklist)),
		keywordBlacklist: nonEmpty(rs.KeywordBlacklist),
		weights:          rs.Weights.Resolve(),
	}

	var err error
	if r.tier1, err = compileMatchers(rs.Tiers.Tier1); err != nil {
		return nil, fmt.Errorf("tier1: %w", err)
	}
	if r.tier2, err = compileMatchers(rs.Tiers.Tier2); err != nil {
		return nil, fmt.Errorf("tier2: %w", err)
	}
	if r.negatives, err = compileMatchers(rs.Negatives); err != nil {
		return nil, fmt.Errorf("negatives: %w", err)
	}

	seen := make(map[string]bool)
	for _, sym := range rs.Watchlist {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		re, err := regexp.Compile(`(?i)(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(sym) + `(?:[^\p{L}\p{N}]|$)`)
		if err != nil {
			return nil, fmt.Errorf("watchlist %q: %w", sym, err)
		}
		r.symbols = append(r.symbols, symbolMatcher{symbol: sym, re: re})
	}

	for _, src := range rs.SourceBlacklist {
		if src = strings.TrimSpace(src); src != "" {
			r.sourceBlacklist[src] = struct{}{}
		}
	}

	return r, nil
}

// LoadFile reads and compiles a rules YAML file.
func LoadFile(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	r, err := Compile(rs)
	if err != nil {
		return nil, fmt.Errorf("compile rules %s: %w", path, err)
	}
	return r, nil
}

// Version returns the rule set version label.
func (r *Rules) Version() string { return r.version }

// Weights returns the resolved weights.
func (r *Rules) Weights() Weights { return r.weights }

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

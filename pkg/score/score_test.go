package score

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"
)

const testRules = `
version: "2026-03-01"
tiers:
  tier1: [contract, acquisition, buyback]
  tier2: [partnership, upgrade, "订单"]
negatives: [ban, lawsuit]
topics:
  ai:
    hashtag: "#AI"
    tags: ["AI", "人工智能"]
  chips:
    hashtag: "#Semis"
    tags: ["GPU", "chip"]
watchlist: [NVDA, amd, "BRK.B"]
source_blacklist: [spam-feed]
keyword_blacklist: [sponsored, "广告"]
weights:
  base: 20
  tier1: 50
  tier2: 25
`

func mustRules(t *testing.T, src string) *Rules {
	t.Helper()
	var rs RuleSet
	if err := yaml.Unmarshal([]byte(src), &rs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	r, err := Compile(rs)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return r
}

func TestScoreEndToEndHeadline(t *testing.T) {
	r := mustRules(t, testRules)
	res := r.Score("NVDA secures $2B government AI contract")

	if res.Score != 80 {
		t.Errorf("score = %v, want 80", res.Score)
	}
	if !reflect.DeepEqual(res.Categories, []string{"contract"}) {
		t.Errorf("categories = %v", res.Categories)
	}
	if !reflect.DeepEqual(res.Symbols, []string{"NVDA"}) {
		t.Errorf("symbols = %v", res.Symbols)
	}
	if !reflect.DeepEqual(res.Tags, []string{"#AI"}) {
		t.Errorf("tags = %v", res.Tags)
	}
	if got := r.ThreadKey(res, "feedA"); got != "NVDA|contract" {
		t.Errorf("thread key = %q", got)
	}
}

func TestScoreDeterministic(t *testing.T) {
	r := mustRules(t, testRules)
	headline := "AMD and NVDA announce GPU partnership after contract upgrade"
	first := r.Score(headline)
	for i := 0; i < 50; i++ {
		if got := r.Score(headline); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestScoreKeywordMatching(t *testing.T) {
	r := mustRules(t, testRules)

	tests := []struct {
		name     string
		headline string
		wantCats []string
		wantNeg  int
	}{
		{"plural stem", "Company wins two contracts", []string{"contract"}, 0},
		{"s stem", "Analyst upgrades outlook", []string{"upgrade"}, 0},
		{"ing stem", "Firm contracting more suppliers", []string{"contract"}, 0},
		{"negative plural", "Lawsuits pile up", []string{GeneralCategory}, 1},
		{"case insensitive", "CONTRACT signed", []string{"contract"}, 0},
		{"word boundary", "Subcontractor news", []string{GeneralCategory}, 0},
		{"non-ascii substring", "公司获得大额订单", []string{"订单"}, 0},
		{"ray-ban is not ban", "Meta unveils new Ray-Ban glasses", []string{GeneralCategory}, 0},
		{"negative", "Regulator issues ban on product", []string{GeneralCategory}, 1},
		{"tier1 before tier2", "Partnership follows acquisition", []string{"acquisition", "partnership"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Score(tt.headline)
			if !reflect.DeepEqual(res.Categories, tt.wantCats) {
				t.Errorf("categories = %v, want %v", res.Categories, tt.wantCats)
			}
			if res.Negatives != tt.wantNeg {
				t.Errorf("negatives = %d, want %d", res.Negatives, tt.wantNeg)
			}
		})
	}
}

func TestScoreFormula(t *testing.T) {
	r := mustRules(t, testRules)
	// base 20 + tier1 50 + tier2 25 + negative -30
	res := r.Score("Lawsuit follows acquisition partnership")
	if res.Score != 65 {
		t.Errorf("score = %v, want 65", res.Score)
	}

	res = r.Score("Quiet day on the markets")
	if res.Score != 20 {
		t.Errorf("score = %v, want base 20", res.Score)
	}
}

func TestScoreNotClamped(t *testing.T) {
	r := mustRules(t, `
tiers:
  tier1: []
negatives: [ban, lawsuit, fraud]
weights:
  base: 0
`)
	res := r.Score("Fraud lawsuit leads to ban")
	if res.Score != -90 {
		t.Errorf("score = %v, want -90", res.Score)
	}
}

func TestDefaultWeights(t *testing.T) {
	r := mustRules(t, `
weights:
  tier2: 0
`)
	w := r.Weights()
	want := Weights{Base: 20, Tier1: 50, Tier2: 0, Negative: -30, WatchlistBonus: 10}
	if w != want {
		t.Errorf("weights = %+v, want %+v", w, want)
	}
}

func TestTopicsOrdered(t *testing.T) {
	r := mustRules(t, testRules)
	res := r.Score("GPU maker bets on AI")
	if !reflect.DeepEqual(res.Tags, []string{"#AI", "#Semis"}) {
		t.Errorf("tags = %v, want configured order", res.Tags)
	}

	res = r.Score("人工智能 AI 芯片")
	if !reflect.DeepEqual(res.Tags, []string{"#AI"}) {
		t.Errorf("hashtag must be added once, got %v", res.Tags)
	}
}

func TestTopicsSequenceForm(t *testing.T) {
	r := mustRules(t, `
topics:
  - name: crypto
    hashtag: "#Crypto"
    tags: [Bitcoin]
`)
	res := r.Score("Bitcoin rallies")
	if !reflect.DeepEqual(res.Tags, []string{"#Crypto"}) {
		t.Errorf("tags = %v", res.Tags)
	}
}

func TestSymbols(t *testing.T) {
	r := mustRules(t, testRules)

	tests := []struct {
		headline string
		want     []string
	}{
		{"nvda and Amd rally", []string{"NVDA", "AMD"}},
		{"AMDX is unrelated", nil},
		{"Berkshire (BRK.B) files", []string{"BRK.B"}},
		{"NVDA, NVDA, NVDA", []string{"NVDA"}},
	}
	for _, tt := range tests {
		res := r.Score(tt.headline)
		if !reflect.DeepEqual(res.Symbols, tt.want) {
			t.Errorf("%q: symbols = %v, want %v", tt.headline, res.Symbols, tt.want)
		}
	}
}

func TestBlacklisted(t *testing.T) {
	r := mustRules(t, testRules)

	tests := []struct {
		source   string
		headline string
		want     bool
	}{
		{"spam-feed", "NVDA contract", true},
		{"feedA", "SPONSORED: buy now", true},
		{"feedA", "今日广告合作", true},
		{"feedA", "NVDA contract", false},
	}
	for _, tt := range tests {
		reason, hit := r.Blacklisted(tt.source, tt.headline)
		if hit != tt.want {
			t.Errorf("Blacklisted(%q, %q) = %v (%s), want %v", tt.source, tt.headline, hit, reason, tt.want)
		}
	}
}

func TestThreadKeyFallbacks(t *testing.T) {
	r := mustRules(t, testRules)

	tests := []struct {
		headline string
		want     string
	}{
		{"Partnership news", "feedA|partnership"},
		{"Nothing to see", "feedA|general"},
		{"AMD buyback and upgrade", "AMD|buyback"},
	}
	for _, tt := range tests {
		if got := r.ThreadKey(r.Score(tt.headline), "feedA"); got != tt.want {
			t.Errorf("%q: thread key = %q, want %q", tt.headline, got, tt.want)
		}
	}
}

func TestLoadFileAndEngineSwap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(testRules), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	e := NewEngine(r)
	if e.Version() != "2026-03-01" {
		t.Errorf("version = %q", e.Version())
	}

	next := mustRules(t, `version: "v2"`)
	snap := e.Load()
	e.Swap(next)
	if e.Version() != "v2" {
		t.Errorf("version after swap = %q", e.Version())
	}
	if snap.Version() != "2026-03-01" {
		t.Error("an already loaded snapshot must not change")
	}

	e.Swap(nil)
	if e.Load() != next {
		t.Error("nil swap must keep the current snapshot")
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("topics: 3\n"), 0o644)
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for scalar topics")
	}
}

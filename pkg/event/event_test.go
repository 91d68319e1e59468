package event

import "testing"

func TestIDStable(t *testing.T) {
	a := ID("feedA", "https://x/1", "headline one", 100)
	b := ID("feedA", "https://x/1", "headline changed", 200)
	if a != b {
		t.Errorf("id with link should ignore headline/time: %s != %s", a, b)
	}
	if len(a) != 40 {
		t.Errorf("len(id) = %d, want 40", len(a))
	}

	c := ID("feedB", "https://x/1", "headline one", 100)
	if a == c {
		t.Error("different sources must produce different ids")
	}
}

func TestIDWithoutLink(t *testing.T) {
	a := ID("feedA", "", "headline", 100)
	b := ID("feedB", "", "headline", 100)
	if a != b {
		t.Error("linkless id should depend on headline and publish time only")
	}
	if a == ID("feedA", "", "headline", 101) {
		t.Error("publish time must change the linkless id")
	}
}

func TestNormalizeLink(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"https://x.com/a?utm_source=tw&id=3#frag", "https://x.com/a?id=3"},
		{"https://x.com/a?ref=home&ref_src=abc", "https://x.com/a"},
		{"https://x.com/a?UTM_Medium=1&q=go", "https://x.com/a?q=go"},
		{"https://x.com/plain", "https://x.com/plain"},
	}
	for _, tt := range tests {
		if got := NormalizeLink(tt.in); got != tt.want {
			t.Errorf("NormalizeLink(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFlattenExpand(t *testing.T) {
	ev := Event{
		Symbols:    []string{"NVDA", "AMD"},
		Categories: []string{"contract"},
	}
	ev.Flatten()
	if ev.SymbolsJoined != "NVDA;AMD" {
		t.Errorf("SymbolsJoined = %q", ev.SymbolsJoined)
	}
	if ev.TagsJoined != "" {
		t.Errorf("TagsJoined = %q, want empty", ev.TagsJoined)
	}

	var back Event
	back.SymbolsJoined = "NVDA; AMD;;"
	back.Expand()
	if len(back.Symbols) != 2 || back.Symbols[1] != "AMD" {
		t.Errorf("Expand symbols = %v", back.Symbols)
	}
	if back.Tags != nil {
		t.Errorf("Expand tags = %v, want nil", back.Tags)
	}
}

package score

import (
	"regexp"
	"strings"
)

// matcher matches one keyword. ASCII lowercase keywords match their stem
// plus s/es/ed/ing at a word boundary against the normalized text; anything
// else is a plain substring test against the original text.
type matcher struct {
	keyword string
	re      *regexp.Regexp
}

type symbolMatcher struct {
	symbol string
	re     *regexp.Regexp
}

func compileMatchers(keywords []string) ([]matcher, error) {
	out := make([]matcher, 0, len(keywords))
	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true

		m := matcher{keyword: kw}
		if isASCIILower(kw) {
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `(?:s|es|ed|ing)?\b`)
			if err != nil {
				return nil, err
			}
			m.re = re
		}
		out = append(out, m)
	}
	return out, nil
}

func (m matcher) match(lower, original string) bool {
	if m.re != nil {
		return m.re.MatchString(lower)
	}
	return strings.Contains(original, m.keyword)
}

// normalize lowercases text and folds "ray-ban" so the brand never hits "ban".
func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "ray-ban", "rayban")
}

// isASCIILower reports whether s is pure ASCII with at least one letter and
// no uppercase letters.
func isASCIILower(s string) bool {
	hasLetter := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 {
			return false
		}
		if c >= 'A' && c <= 'Z' {
			return false
		}
		if c >= 'a' && c <= 'z' {
			hasLetter = true
		}
	}
	return hasLetter
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

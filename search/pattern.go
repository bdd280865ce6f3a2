package search

import (
	"regexp"
	"strings"
)

// pattern types that carry no searchable keyword
const (
	PatternTypeCustom      = "Custom Pattern"
	PatternTypeCustomEmpty = "Custom (Empty)"
)

var patternStopWords = map[string]bool{"token": true, "key": true, "pattern": true, "api": true}

var servicePrefixes = []struct {
	service  string
	prefixes []string
}{
	{"github", []string{"github", "gho_", "ghu_", "ghp_", "ghr_", "github_pat_"}},
	{"aws", []string{"AKIA", "ASIA", "AROA", "AIPA", "ANPA", "ANVA", "amzn"}},
	{"groq", []string{"gsk_"}},
	{"google", []string{"AIza"}},
}

var (
	groupNameRe  = regexp.MustCompile(`\(([a-zA-Z0-9_\-]+)[a-z0-9_ \.,\-]{0,25}\)`)
	quotedRe     = regexp.MustCompile(`['"][^'"\s]{3,}['"]`)
	identifierRe = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_-]{2,}`)
)

// QueryFromPattern derives a code-search keyword from a token pattern type
// (e.g. "GitHub Personal Access Token") or, failing that, from the token
// regex itself. An empty result means nothing searchable was found.
func QueryFromPattern(pattern, patternType string) string {
	if patternType != "" && patternType != PatternTypeCustom && patternType != PatternTypeCustomEmpty {
		for _, w := range strings.Fields(strings.ToLower(patternType)) {
			if !patternStopWords[w] {
				return w
			}
		}
	}

	if pattern == "" || strings.EqualFold(pattern, "custom") || patternType == PatternTypeCustomEmpty {
		return ""
	}

	// the last service whose prefix appears wins
	lower := strings.ToLower(pattern)
	var service string
	for _, sp := range servicePrefixes {
		for _, p := range sp.prefixes {
			if strings.Contains(lower, strings.ToLower(p)) {
				service = sp.service
				break
			}
		}
	}
	if service != "" {
		return service
	}

	if m := groupNameRe.FindStringSubmatch(pattern); m != nil {
		return m[1]
	}
	if m := quotedRe.FindString(pattern); m != "" {
		return strings.Trim(m, `'"`)
	}
	return identifierRe.FindString(pattern)
}

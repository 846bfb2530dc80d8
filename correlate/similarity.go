package correlate

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

// normalizeUsername prepares a username for matching: lower-case, trim,
// strip a trailing @domain part and drop the common separators so that
// "J.Doe" and "j_doe" compare equal.
func normalizeUsername(username string) string {
	username = strings.ToLower(strings.TrimSpace(username))
	if at := strings.IndexByte(username, '@'); at >= 0 {
		username = username[:at]
	}
	return stripSeparators(username)
}

// patternForm prepares a username for the structural pattern tests: lower,
// trim and strip a trailing @domain, but keep the separators the patterns
// are anchored on.
func patternForm(username string) string {
	username = strings.ToLower(strings.TrimSpace(username))
	if at := strings.IndexByte(username, '@'); at >= 0 {
		username = username[:at]
	}
	return username
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '_', '-':
			return -1
		}
		return r
	}, s)
}

// stringSimilarity returns an edit-distance ratio in [0,1] between two
// strings, boosted to at least 0.7 when one is a substring of the other.
func stringSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1
	}

	distance := levenshtein.ComputeDistance(a, b)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	similarity := 1 - float64(distance)/float64(longest)

	if strings.Contains(a, b) || strings.Contains(b, a) {
		if similarity < 0.7 {
			similarity = 0.7
		}
	}
	return similarity
}

// usernamePatterns is the fixed ordered list of structural username shapes
// tested during pattern matching. Order matters: the first pattern both
// usernames match decides the extracted groups.
var usernamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^([a-z]+)\.([a-z]+)$`),   // first.last
	regexp.MustCompile(`^([a-z])([a-z]+)$`),      // flast
	regexp.MustCompile(`^([a-z]+)_([a-z]+)$`),    // first_last
	regexp.MustCompile(`^([a-z]+)([0-9]+)$`),     // name123
	regexp.MustCompile(`^([a-z]{2,3})([0-9]+)$`), // ab123
}

// patternSimilarity tests both usernames against the structural pattern
// list. When both match the same pattern, the similarity of each extracted
// group is averaged; the best score across all patterns wins. Usernames are
// compared in their separator-preserving form so the structural shapes stay
// distinguishable.
func patternSimilarity(username1, username2 string) float64 {
	best := 0.0
	for _, pattern := range usernamePatterns {
		groups1 := pattern.FindStringSubmatch(username1)
		groups2 := pattern.FindStringSubmatch(username2)
		if groups1 == nil || groups2 == nil || len(groups1) != len(groups2) {
			continue
		}

		total := 0.0
		for i := 1; i < len(groups1); i++ {
			total += stringSimilarity(groups1[i], groups2[i])
		}
		score := total / float64(len(groups1)-1)
		if score > best {
			best = score
		}
	}
	return best
}

// jaccard returns the Jaccard similarity of two role-name sets.
func jaccard(roles1, roles2 []string) float64 {
	if len(roles1) == 0 || len(roles2) == 0 {
		return 0
	}

	set1 := make(map[string]struct{}, len(roles1))
	for _, role := range roles1 {
		set1[strings.ToLower(role)] = struct{}{}
	}
	set2 := make(map[string]struct{}, len(roles2))
	for _, role := range roles2 {
		set2[strings.ToLower(role)] = struct{}{}
	}

	intersection := 0
	for role := range set1 {
		if _, ok := set2[role]; ok {
			intersection++
		}
	}
	union := len(set1) + len(set2) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

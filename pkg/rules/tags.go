package rules

import "strings"

// MatchTag selects the TagActionPair a judge response fires. Precedence
// tiers, strongest first: empty tag (unconditional), case-insensitive exact
// match, case-insensitive prefix match, case-insensitive substring match.
// Declaration order breaks ties within a tier. Returns nil when no pair
// matches.
func MatchTag(pairs []TagActionPair, judgeText string) *TagActionPair {
	text := strings.ToLower(strings.TrimSpace(judgeText))

	// Tier 1: wildcard pairs match any judge output.
	for i := range pairs {
		if pairs[i].Tag == "" {
			return &pairs[i]
		}
	}
	// Tiers 2-4 only consider non-empty tags.
	tiers := []func(tag string) bool{
		func(tag string) bool { return text == tag },
		func(tag string) bool { return strings.HasPrefix(text, tag) },
		func(tag string) bool { return strings.Contains(text, tag) },
	}
	for _, match := range tiers {
		for i := range pairs {
			tag := strings.ToLower(strings.TrimSpace(pairs[i].Tag))
			if tag == "" {
				continue
			}
			if match(tag) {
				return &pairs[i]
			}
		}
	}
	return nil
}

// Package normalize derives stable merchant keys from raw transaction
// descriptions. Normalization is a pure function of the raw string and a static
// rule table, so it is idempotent and reproducible across recompute runs.
package normalize

import (
	"regexp"
	"strings"

	"subsentry/internal/store"
)

var (
	multispaceRe = regexp.MustCompile(`\s+`)
	// Processor tags that prefix the merchant name on card statements.
	processorPrefixRe = regexp.MustCompile(`^(?:pos|ach|tst\*|sq \*|sq\*|pp\*|paypal \*|paypal\*|dd \*|chkcard|debit card purchase|card purchase|visa|mastercard)\s*`)
	// Masked card numbers and short reference codes trailing the description.
	cardSuffixRe = regexp.MustCompile(`\s*(?:\*+\d{2,6}|card\s*\d{2,6})$`)
	noiseRe      = regexp.MustCompile(`[^a-z0-9\s&.\-]`)
)

// builtinAliases canonicalize well-known merchants whose statement strings vary
// wildly between processors. Order matters: the first matching rule wins, which
// keeps normalization deterministic.
var builtinAliases = []store.AliasRule{
	{Pattern: "netflix", Match: "contains", Key: "netflix"},
	{Pattern: "nflx", Match: "contains", Key: "netflix"},
	{Pattern: "spotify", Match: "contains", Key: "spotify"},
	{Pattern: "amazon prime", Match: "contains", Key: "amazon prime"},
	{Pattern: "amzn mktp", Match: "contains", Key: "amazon"},
	{Pattern: "amazon", Match: "contains", Key: "amazon"},
	{Pattern: "amzn", Match: "contains", Key: "amazon"},
	{Pattern: "apple.com bill", Match: "contains", Key: "apple"},
	{Pattern: "itunes", Match: "contains", Key: "apple"},
	{Pattern: "google storage", Match: "contains", Key: "google one"},
	{Pattern: "google one", Match: "contains", Key: "google one"},
	{Pattern: "youtubepremium", Match: "contains", Key: "youtube premium"},
	{Pattern: "youtube premium", Match: "contains", Key: "youtube premium"},
	{Pattern: "disney plus", Match: "contains", Key: "disney plus"},
	{Pattern: "disneyplus", Match: "contains", Key: "disney plus"},
	{Pattern: "hulu", Match: "contains", Key: "hulu"},
	{Pattern: "audible", Match: "contains", Key: "audible"},
	{Pattern: "dropbox", Match: "contains", Key: "dropbox"},
}

// Normalizer canonicalizes raw description strings into merchant keys.
// User-supplied alias rules take precedence over the built-in table.
type Normalizer struct {
	aliases []store.AliasRule
}

// New creates a Normalizer. The rules slice may be nil or empty; the built-in
// alias table always applies after user rules.
func New(aliases []store.AliasRule) *Normalizer {
	return &Normalizer{aliases: aliases}
}

// Normalize derives the merchant key for a raw description. It is total: when
// no alias rule matches it falls back to the cleaned copy of the input.
func (n *Normalizer) Normalize(rawDescription string) string {
	cleaned := Clean(rawDescription)

	if key, ok := applyAliases(n.aliases, cleaned); ok {
		return key
	}
	if key, ok := applyAliases(builtinAliases, cleaned); ok {
		return key
	}
	return cleaned
}

// Clean runs the deterministic cleanup pipeline: lower-case, strip processor
// prefixes and masked-card suffixes, drop punctuation noise, and remove
// reference-number digit runs (>= 4 digits) at the string boundaries.
func Clean(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = multispaceRe.ReplaceAllString(s, " ")

	for {
		stripped := processorPrefixRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}

	s = cardSuffixRe.ReplaceAllString(s, "")
	s = noiseRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, ".com", "")
	s = multispaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = stripBoundaryDigitRuns(s)

	return s
}

// stripBoundaryDigitRuns removes leading and trailing tokens that are pure
// digit runs of four or more characters. Digits inside the name ("7-eleven",
// "365 market") are left alone.
func stripBoundaryDigitRuns(s string) string {
	tokens := strings.Fields(s)

	for len(tokens) > 0 && isDigitRun(tokens[0]) {
		tokens = tokens[1:]
	}
	for len(tokens) > 0 && isDigitRun(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}

	return strings.Join(tokens, " ")
}

func isDigitRun(token string) bool {
	if len(token) < 4 {
		return false
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func applyAliases(rules []store.AliasRule, cleaned string) (string, bool) {
	for _, r := range rules {
		switch r.Match {
		case "exact":
			if cleaned == r.Pattern {
				return r.Key, true
			}
		case "prefix":
			if strings.HasPrefix(cleaned, r.Pattern) {
				return r.Key, true
			}
		default: // contains
			if strings.Contains(cleaned, r.Pattern) {
				return r.Key, true
			}
		}
	}
	return "", false
}

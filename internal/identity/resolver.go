// Package identity resolves fuzzy, inconsistently formatted product names
// into stable canonical identity keys.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/width"
)

// keyCacheSize bounds the digest memoization on the hot insert path.
const keyCacheSize = 10000

var (
	spaceRe      = regexp.MustCompile(`\s+`)
	charRe       = regexp.MustCompile(`[^\p{Han}a-zA-Z0-9\s()（）\-.]`)
	mulRe        = regexp.MustCompile(`[×xX*]`)
	freeShipRe   = regexp.MustCompile(`^\d+免邮\s*`)
	bracketTagRe = regexp.MustCompile(`^\[.*?\]\s*`)
	leadJunkRe   = regexp.MustCompile(`^[\d\s\-.]+`)
	hanRunRe     = regexp.MustCompile(`\p{Han}+`)
)

type unitRule struct {
	re        *regexp.Regexp
	canonical string
}

// Resolver derives canonical identities from raw product data. All methods
// are pure with respect to external state and safe for concurrent use.
type Resolver struct {
	rules          *RuleTables
	brandPrefixes  []string // longest first
	dosageForms    []string // longest first
	unitRules      []unitRule
	aliasToGeneric map[string]string
	keyCache       *lru.Cache[string, string]
}

// NewResolver builds a resolver over the given rule tables.
func NewResolver(rules *RuleTables) *Resolver {
	r := &Resolver{rules: rules}

	r.brandPrefixes = append(r.brandPrefixes, rules.BrandPrefixes...)
	sort.SliceStable(r.brandPrefixes, func(i, j int) bool {
		return len(r.brandPrefixes[i]) > len(r.brandPrefixes[j])
	})

	r.dosageForms = append(r.dosageForms, rules.DosageForms...)
	sort.SliceStable(r.dosageForms, func(i, j int) bool {
		return len(r.dosageForms[i]) > len(r.dosageForms[j])
	})

	type variantPair struct {
		variant   string
		canonical string
	}
	var pairs []variantPair
	for canonical, variants := range rules.UnitSynonyms {
		for _, v := range variants {
			pairs = append(pairs, variantPair{v, canonical})
		}
	}
	// Longer variants first so "毫升" is rewritten before "升".
	sort.SliceStable(pairs, func(i, j int) bool {
		return len(pairs[i].variant) > len(pairs[j].variant)
	})
	for _, p := range pairs {
		r.unitRules = append(r.unitRules, unitRule{
			re:        regexp.MustCompile(`(?i)` + regexp.QuoteMeta(p.variant)),
			canonical: p.canonical,
		})
	}

	r.aliasToGeneric = make(map[string]string)
	for generic, aliases := range rules.Aliases {
		for _, a := range aliases {
			r.aliasToGeneric[strings.ToLower(a)] = generic
		}
		r.aliasToGeneric[strings.ToLower(generic)] = generic
	}

	r.keyCache, _ = lru.New[string, string](keyCacheSize)
	return r
}

// Normalize cleans a raw product or manufacturer name: trims, converts
// full-width characters to half-width, collapses whitespace, drops anything
// outside the letter/digit/ideograph/paren/hyphen whitelist and unifies
// bracket variants.
func (r *Resolver) Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	s := strings.TrimSpace(raw)
	s = width.Narrow.String(s)
	s = spaceRe.ReplaceAllString(s, " ")
	s = charRe.ReplaceAllString(s, "")
	s = strings.NewReplacer("（", "(", "）", ")").Replace(s)
	return strings.TrimSpace(s)
}

// CleanRawName strips marketing prefixes upstream listings prepend to
// product names, e.g. "1盒包邮 片仔癀3g*1粒" -> "片仔癀3g*1粒".
func (r *Resolver) CleanRawName(name string) string {
	if i := strings.Index(name, "包邮"); i >= 0 {
		name = name[i+len("包邮"):]
	}
	name = freeShipRe.ReplaceAllString(strings.TrimSpace(name), "")
	name = bracketTagRe.ReplaceAllString(name, "")
	for _, p := range r.rules.PromoPrefixes {
		if strings.HasPrefix(name, p) {
			name = strings.TrimPrefix(name, p)
			break
		}
	}
	return strings.TrimSpace(name)
}

// ExtractGeneric splits a normalized name into (generic, brand). The brand
// is the longest matching known prefix; the remainder is the generic name.
// Brand is empty when no prefix matches.
func (r *Resolver) ExtractGeneric(name string) (generic, brand string) {
	normalized := r.Normalize(name)
	for _, prefix := range r.brandPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return strings.TrimSpace(normalized[len(prefix):]), prefix
		}
	}
	return normalized, ""
}

// CommonName extracts the core product name by locating the longest known
// dosage-form suffix, then scanning backward to the nearest non-ideograph
// boundary. Falls back to the longest contiguous ideograph run, then to the
// input unchanged.
func (r *Resolver) CommonName(name string) string {
	runes := []rune(name)
	for _, form := range r.dosageForms {
		formRunes := []rune(form)
		idx := runeIndex(runes, formRunes)
		if idx < 0 {
			continue
		}
		end := idx + len(formRunes)
		start := idx
		for start > 0 {
			prev := runes[start-1]
			if unicode.Is(unicode.Han, prev) {
				start--
				continue
			}
			break
		}
		candidate := strings.TrimSpace(string(runes[start:end]))
		candidate = leadJunkRe.ReplaceAllString(candidate, "")
		if len([]rune(candidate)) >= 2 {
			return candidate
		}
	}
	runs := hanRunRe.FindAllString(name, -1)
	if len(runs) > 0 {
		longest := runs[0]
		for _, run := range runs[1:] {
			if len(run) > len(longest) {
				longest = run
			}
		}
		return longest
	}
	return name
}

// NormalizeSpec canonicalizes a specification string: unit synonyms to one
// spelling, multiplication symbols to "*", whitespace removed.
func (r *Resolver) NormalizeSpec(raw string) string {
	if raw == "" {
		return ""
	}
	s := width.Narrow.String(strings.TrimSpace(raw))
	for _, u := range r.unitRules {
		s = u.re.ReplaceAllString(s, u.canonical)
	}
	s = mulRe.ReplaceAllString(s, "*")
	s = spaceRe.ReplaceAllString(s, "")
	return s
}

// FullKey returns the 16-hex-char identity digest over the normalized
// (name, spec, manufacturer) tuple. Deterministic across calls and restarts.
func (r *Resolver) FullKey(name, spec, manufacturer string) string {
	cacheKey := "f\x00" + name + "\x00" + spec + "\x00" + manufacturer
	if v, ok := r.keyCache.Get(cacheKey); ok {
		return v
	}
	generic, _ := r.ExtractGeneric(name)
	key := digest(generic+"|"+r.NormalizeSpec(spec)+"|"+r.Normalize(manufacturer), 16)
	r.keyCache.Add(cacheKey, key)
	return key
}

// SimpleKey returns the 12-hex-char digest over (name, spec) only; rows
// representing the same product under different manufacturers share it.
func (r *Resolver) SimpleKey(name, spec string) string {
	cacheKey := "s\x00" + name + "\x00" + spec
	if v, ok := r.keyCache.Get(cacheKey); ok {
		return v
	}
	generic, _ := r.ExtractGeneric(name)
	key := digest(generic+"|"+r.NormalizeSpec(spec), 12)
	r.keyCache.Add(cacheKey, key)
	return key
}

// ResolveGeneric maps brand/trade names onto one generic name using the
// alias table: exact match first, then substring containment in either
// direction. Unknown names resolve to their own generic form.
func (r *Resolver) ResolveGeneric(name string) string {
	generic, _ := r.ExtractGeneric(name)
	lower := strings.ToLower(generic)
	if g, ok := r.aliasToGeneric[lower]; ok {
		return g
	}
	for alias, g := range r.aliasToGeneric {
		if strings.Contains(lower, alias) || strings.Contains(alias, lower) {
			return g
		}
	}
	return generic
}

// similarityThreshold is the Jaccard acceptance bound for advisory
// "possibly same product" suggestions. Never used for automatic merges.
const similarityThreshold = 0.7

// Similarity returns the Jaccard similarity of the two names' rune sets.
func (r *Resolver) Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	setA := runeSet(a)
	setB := runeSet(b)
	inter := 0
	for ch := range setA {
		if setB[ch] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// PossiblySame reports whether two names are similar enough to suggest the
// same underlying product, after alias resolution.
func (r *Resolver) PossiblySame(a, b string) bool {
	ga, gb := r.ResolveGeneric(a), r.ResolveGeneric(b)
	if ga == gb {
		return true
	}
	return r.Similarity(ga, gb) > similarityThreshold
}

func digest(s string, n int) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}

func runeSet(s string) map[rune]bool {
	set := make(map[rune]bool, len(s))
	for _, ch := range s {
		set[ch] = true
	}
	return set
}

func runeIndex(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

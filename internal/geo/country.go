package geo

import (
	"strings"

	"github.com/biter777/countries"
)

// Normalizer canonicalizes country names so that synonyms compare equal:
// "usa", "US" and "United States" all normalize to the same token. The
// configured alias table is consulted first, then the ISO country registry;
// an unrecognized name falls back to its cleaned spelling so two identical
// unknown values still match each other.
type Normalizer struct {
	aliases map[string]string // cleaned synonym -> canonical name
}

// NewNormalizer builds a normalizer from a canonical-name -> synonyms table.
func NewNormalizer(aliasTable map[string][]string) *Normalizer {
	aliases := make(map[string]string)
	for canonical, synonyms := range aliasTable {
		aliases[clean(canonical)] = canonical
		for _, synonym := range synonyms {
			aliases[clean(synonym)] = canonical
		}
	}
	return &Normalizer{aliases: aliases}
}

func clean(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Normalize returns the canonical token for a country name, or "" for an
// empty input. Recognized countries normalize to their ISO alpha-2 code.
func (n *Normalizer) Normalize(name string) string {
	s := clean(name)
	if s == "" {
		return ""
	}

	if canonical, ok := n.aliases[s]; ok {
		s = clean(canonical)
	}

	if code := countries.ByName(s); code != countries.Unknown {
		return code.Alpha2()
	}

	return s
}

// Match reports whether two country names refer to the same canonical
// country. Either side being empty is "unknown" and never matches; callers
// decide the fail-open policy before calling.
func (n *Normalizer) Match(a, b string) bool {
	na, nb := n.Normalize(a), n.Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb
}

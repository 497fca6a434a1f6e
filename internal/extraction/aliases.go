package extraction

import (
	"sort"
	"strings"
)

// Canonicalizer resolves product nicknames to canonical names
type Canonicalizer struct {
	exact map[string]string
	lower map[string]string
}

// NewCanonicalizer builds a canonicalizer from alias -> canonical pairs.
func NewCanonicalizer(aliases map[string]string) *Canonicalizer {
	c := &Canonicalizer{
		exact: make(map[string]string, len(aliases)),
		lower: make(map[string]string, len(aliases)),
	}
	keys := make([]string, 0, len(aliases))
	for alias := range aliases {
		keys = append(keys, alias)
	}
	sort.Strings(keys)

	// Aliases that differ only in case share a lower-case key. An alias already in lower
	// case owns that key, otherwise the first alias in sorted order does.
	for _, key := range keys {
		alias, canonical := strings.TrimSpace(key), aliases[key]
		if alias == "" || canonical == "" {
			continue
		}
		if _, taken := c.exact[alias]; !taken {
			c.exact[alias] = canonical
		}
		folded := strings.ToLower(alias)
		if _, taken := c.lower[folded]; !taken || alias == folded {
			c.lower[folded] = canonical
		}
	}
	return c
}

// Canonical returns the canonical name for a product, or the trimmed input when unknown.
func (c *Canonicalizer) Canonical(name string) string {
	name = strings.TrimSpace(name)
	if c == nil || name == "" {
		return name
	}
	if v, ok := c.exact[name]; ok {
		return v
	}
	if v, ok := c.lower[strings.ToLower(name)]; ok {
		return v
	}
	return name
}

// Groups returns canonical name -> sorted aliases, canonical names sorted, for prompt rendering.
func (c *Canonicalizer) Groups() ([]string, map[string][]string) {
	groups := make(map[string][]string)
	for alias, canonical := range c.exact {
		groups[canonical] = append(groups[canonical], alias)
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
		sort.Strings(groups[name])
	}
	sort.Strings(names)
	return names, groups
}

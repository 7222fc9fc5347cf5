package ratelimit

import (
	"encoding/json"
	"sort"
)

// Discriminator is the closed, append-only tag set used to serialize scope
// key components. New members must be appended at the end of this block,
// never reordered or renumbered, or previously-issued keys stop matching
// their buckets across a deploy.
type Discriminator string

const (
	TagConcrete            Discriminator = "tag_concrete"
	TagAny                 Discriminator = "tag_any"
	TagEach                Discriminator = "tag_each"
	ApiKeyPublicIDEach     Discriminator = "api_key_public_id_each"
	ApiKeyPublicIDConcrete Discriminator = "api_key_public_id_concrete"
)

// ValueScope selects how a ScopePredicate's matched value participates in
// the bucket key. "total" aggregates across all distinct values (the value
// itself is dropped from the key, so every match shares one bucket); "each"
// partitions the limit per distinct value (the value is folded into the
// key); a literal requires an exact match and always contributes its value.
type ValueScope string

const (
	ScopeLiteral ValueScope = "literal"
	ScopeEach    ValueScope = "each"
	ScopeTotal   ValueScope = "total"
)

// ScopePredicate matches one dimension of a request: either a tag name or
// the caller's API-key public id.
type ScopePredicate struct {
	// Tag is the tag name to match, or "" to match api_key_public_id instead.
	Tag   string
	Scope ValueScope
	// Literal is required when Scope == ScopeLiteral: the value must equal
	// this exactly for the predicate to match.
	Literal string
}

// ScopeInfo is the per-request context scope predicates are matched against.
type ScopeInfo struct {
	Tags           map[string]string
	APIKeyPublicID string
}

// component is one resolved, matched piece of a scope key.
type component struct {
	Type  Discriminator `json:"type"`
	Name  string        `json:"name,omitempty"`
	Value string        `json:"value,omitempty"`
}

// Match evaluates p against info. ok is false if the predicate's dimension
// isn't present in info (e.g. a tag predicate when the tag is unset) or a
// literal predicate doesn't equal-match. comp is the key component to fold
// into the scope key when ok is true.
func (p ScopePredicate) Match(info ScopeInfo) (comp component, ok bool) {
	isAPIKey := p.Tag == ""
	var value string
	if isAPIKey {
		value = info.APIKeyPublicID
		if value == "" {
			return component{}, false
		}
	} else {
		v, present := info.Tags[p.Tag]
		if !present {
			return component{}, false
		}
		value = v
	}

	switch p.Scope {
	case ScopeLiteral:
		if value != p.Literal {
			return component{}, false
		}
		disc := TagConcrete
		if isAPIKey {
			disc = ApiKeyPublicIDConcrete
		}
		return component{Type: disc, Name: p.Tag, Value: value}, true
	case ScopeEach:
		disc := TagEach
		if isAPIKey {
			disc = ApiKeyPublicIDEach
		}
		return component{Type: disc, Name: p.Tag, Value: value}, true
	case ScopeTotal:
		// "total" aggregates across values: the component carries no value,
		// so every match for this predicate folds into the same bucket.
		return component{Type: TagAny, Name: p.Tag}, true
	default:
		return component{}, false
	}
}

// Key is the canonical, stable serialization of a matched scope: a JSON
// array of components sorted by (type, name, value) so byte-identical
// inputs always produce a byte-identical key, independent of predicate
// declaration order in config.
type Key string

// BuildKey matches every predicate against info; returns ok=false if any
// predicate fails to match (the rule itself doesn't apply to this request).
func BuildKey(predicates []ScopePredicate, info ScopeInfo) (Key, bool) {
	comps := make([]component, 0, len(predicates))
	for _, p := range predicates {
		c, ok := p.Match(info)
		if !ok {
			return "", false
		}
		comps = append(comps, c)
	}
	sort.Slice(comps, func(i, j int) bool {
		if comps[i].Type != comps[j].Type {
			return comps[i].Type < comps[j].Type
		}
		if comps[i].Name != comps[j].Name {
			return comps[i].Name < comps[j].Name
		}
		return comps[i].Value < comps[j].Value
	})
	b, err := json.Marshal(comps)
	if err != nil {
		// comps is always JSON-marshalable; this path is unreachable in
		// practice but kept so BuildKey never panics.
		return "", false
	}
	return Key(b), true
}

// Package policy maps user queries to a cache topic and time-to-live.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoFallback is returned when a table has no fallback policy.
	ErrNoFallback = errors.New("policy: table has no fallback policy")
	// ErrMultipleFallbacks is returned when a table declares more than one fallback.
	ErrMultipleFallbacks = errors.New("policy: table has more than one fallback policy")
)

// Policy is one row of a cache policy table.
type Policy struct {
	Topic    string
	Keywords []string
	TTL      time.Duration
	Fallback bool
}

// TTLMillis returns the TTL in milliseconds.
func (p Policy) TTLMillis() int64 {
	return p.TTL.Milliseconds()
}

// Table is an ordered list of policies. The first non-fallback policy with
// a keyword contained in the query wins; otherwise the fallback applies.
//
// A Table is immutable after construction and safe for concurrent use.
type Table struct {
	ordered  []Policy
	fallback Policy
}

// NewTable validates policies and returns a Table. Keywords are lower-cased
// and trimmed; empty keywords are dropped.
func NewTable(policies []Policy) (*Table, error) {
	t := &Table{}
	seenFallback := false
	for _, p := range policies {
		if p.Topic == "" {
			return nil, errors.New("policy: topic is required")
		}
		if p.TTL <= 0 {
			return nil, fmt.Errorf("policy: topic %q has non-positive ttl %s", p.Topic, p.TTL)
		}
		p.Keywords = normalizeKeywords(p.Keywords)
		if p.Fallback {
			if seenFallback {
				return nil, ErrMultipleFallbacks
			}
			seenFallback = true
			t.fallback = p
			continue
		}
		t.ordered = append(t.ordered, p)
	}
	if !seenFallback {
		return nil, ErrNoFallback
	}
	return t, nil
}

// MustTable is NewTable for static tables; it panics on error.
func MustTable(policies []Policy) *Table {
	t, err := NewTable(policies)
	if err != nil {
		panic(err)
	}
	return t
}

// Classify returns the policy for query. It is pure and deterministic.
func (t *Table) Classify(query string) Policy {
	q := strings.ToLower(query)
	for _, p := range t.ordered {
		for _, kw := range p.Keywords {
			if strings.Contains(q, kw) {
				return p
			}
		}
	}
	return t.fallback
}

// Policies returns the table rows in evaluation order with the fallback last.
func (t *Table) Policies() []Policy {
	out := make([]Policy, 0, len(t.ordered)+1)
	out = append(out, t.ordered...)
	return append(out, t.fallback)
}

// Fallback returns the fallback policy.
func (t *Table) Fallback() Policy {
	return t.fallback
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

var cartKeywords = []string{"cart", "add to", "remove"}

// SkipCaching reports whether query looks like a cart operation. Such turns
// depend on per-session state and are never written to the semantic cache.
func SkipCaching(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range cartKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

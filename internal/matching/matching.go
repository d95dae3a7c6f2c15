// Package matching implements the matcher contract and resolution policy
// shared by every per-source preprocessor: an ordered list of pure
// predicate matchers run strongest-signal-first, with common tie-breaking
// and per-preprocessor claim tracking so no metadata record is consumed
// twice except through a matcher marked Shared.
package matching

import "sync"

// Candidate is the minimal shape a matcher needs from either side of a
// match: a stable key for claim tracking, a duplicate index (0 if none)
// parsed out of a "(N)" suffix, and the original item for the caller to
// retrieve after a match resolves.
type Candidate struct {
	Key      string
	DupIndex int
	Item     any
}

// Matcher is a pure predicate over one media candidate and one metadata
// candidate. Implementations must not mutate either candidate or retain
// state between calls.
type Matcher func(media, metadata Candidate) bool

// Named pairs a matcher with a label, used only for diagnostics (e.g. in
// triage output or logs) — never for tie-breaking, which is purely
// structural per the policy below.
//
// Shared marks a matcher whose metadata candidate may legitimately
// describe more than one media file (a live photo's still and motion
// components sharing one JSON sidecar): a Shared matcher also considers
// candidates already claimed by an earlier match, so one metadata
// candidate can be matched to several media candidates through it.
type Named struct {
	Name    string
	Matcher Matcher
	Shared  bool
}

// Resolver runs an ordered matcher list against a pool of metadata
// candidates, enforcing single-claim semantics: each metadata candidate
// may be matched to at most one media candidate, except through a
// Shared matcher.
type Resolver struct {
	matchers []Named

	mu      sync.Mutex
	claimed map[string]bool
}

// NewResolver builds a resolver from matchers in strongest-signal-first
// order.
func NewResolver(matchers ...Named) *Resolver {
	return &Resolver{matchers: matchers, claimed: map[string]bool{}}
}

// Match finds the best metadata candidate for one media candidate among
// pool, applying the common tie-break policy:
//  1. an exact-equality match (media.Key == metadata.Key) always wins;
//  2. otherwise, prefer a candidate whose DupIndex equals the media's;
//  3. otherwise, take the first matcher's first candidate in enumeration
//     order.
//
// Already-claimed candidates are skipped, except by Shared matchers. A
// match, once returned, is recorded as claimed; Match returns the same
// metadata candidate a second time only through a Shared matcher. The
// boolean result reports whether any candidate matched.
func (r *Resolver) Match(media Candidate, pool []Candidate) (Candidate, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found []struct {
		cand   Candidate
		named  string
		shared bool
	}
	for _, named := range r.matchers {
		for _, meta := range pool {
			if r.claimed[meta.Key] && !named.Shared {
				continue
			}
			if named.Matcher(media, meta) {
				found = append(found, struct {
					cand   Candidate
					named  string
					shared bool
				}{meta, named.Name, named.Shared})
			}
		}
	}
	if len(found) == 0 {
		return Candidate{}, "", false
	}

	for _, f := range found {
		if f.cand.Key == media.Key {
			r.claimed[f.cand.Key] = true
			return f.cand, f.named, true
		}
	}
	for _, f := range found {
		if media.DupIndex != 0 && f.cand.DupIndex == media.DupIndex {
			r.claimed[f.cand.Key] = true
			return f.cand, f.named, true
		}
	}
	chosen := found[0]
	r.claimed[chosen.cand.Key] = true
	return chosen.cand, chosen.named, true
}

// Unclaimed returns every candidate in pool that was never claimed by a
// successful Match call, in their original order — the orphaned-metadata
// set a preprocessor feeds to its failure tracker.
func (r *Resolver) Unclaimed(pool []Candidate) []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Candidate
	for _, c := range pool {
		if !r.claimed[c.Key] {
			out = append(out, c)
		}
	}
	return out
}

// UsedFiles reports how many distinct metadata candidates have been
// claimed so far.
func (r *Resolver) UsedFiles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claimed)
}

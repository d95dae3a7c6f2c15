// Package hashregistry implements the content-addressed dedup map shared
// by every preprocessor's parallel-copy stage: the first writer under a
// content hash becomes canonical, and every later writer under the same
// hash appends its own context instead of producing a second file.
package hashregistry

import "sync"

// Record is the registry entry for one content hash: the filename and
// source path of the file that first claimed the hash, plus every
// source-specific context (album name, (channel_id, message_id), etc.)
// that has since referenced the same bytes.
type Record struct {
	FirstFilename   string
	FirstSourcePath string
	Contexts        []any
}

// Registry is a single-writer-per-hash map with mutual exclusion on
// insert, per the concurrency model: the hash registry requires mutual
// exclusion on its read-modify-write map access.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Claim resolves contentHash against the registry. If this is the first
// claim for the hash, filename/sourcePath become canonical and isNew is
// true. Otherwise the existing canonical filename is returned, context is
// appended to the record, and isNew is false — callers use this to skip
// the physical copy and still record the duplicate context.
func (r *Registry) Claim(contentHash, filename, sourcePath string, context any) (canonicalFilename string, isNew bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[contentHash]
	if !ok {
		rec = &Record{FirstFilename: filename, FirstSourcePath: sourcePath}
		r.records[contentHash] = rec
		isNew = true
	}
	if context != nil {
		rec.Contexts = append(rec.Contexts, context)
	}
	return rec.FirstFilename, isNew
}

// ClaimFunc resolves contentHash like Claim, but only invokes namer (to
// decide the canonical filename — typically a collision-free reservation)
// when this call is the first claim for the hash. The naming decision and
// the insert happen under the same lock, so no two callers can reserve
// different canonical names for the same hash.
func (r *Registry) ClaimFunc(contentHash, sourcePath string, context any, namer func() string) (canonicalFilename string, isNew bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[contentHash]
	if !ok {
		rec = &Record{FirstFilename: namer(), FirstSourcePath: sourcePath}
		r.records[contentHash] = rec
		isNew = true
	}
	if context != nil {
		rec.Contexts = append(rec.Contexts, context)
	}
	return rec.FirstFilename, isNew
}

// Lookup returns the record for contentHash, if any.
func (r *Registry) Lookup(contentHash string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[contentHash]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of distinct content hashes claimed so far —
// the "unique_files" statistic most preprocessors report.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// DuplicateCount returns, summed over every hash, the number of recorded
// claim contexts beyond the first — the "duplicate_files" statistic.
// A claim made with a nil context records no context and is not counted.
func (r *Registry) DuplicateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, rec := range r.records {
		if len(rec.Contexts) > 1 {
			total += len(rec.Contexts) - 1
		}
	}
	return total
}

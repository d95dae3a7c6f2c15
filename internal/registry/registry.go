// Package registry implements the processor capability set and
// priority-ordered dispatch described for the core: each supported source
// format registers a Processor, and one run polls every registered
// processor against an input root to decide which ones apply.
package registry

import (
	"context"
	"sort"
	"sync"
)

// Options carries the per-run knobs a processor's pipeline needs, beyond
// the input/output roots it receives directly.
type Options struct {
	Workers      int
	SkipUpload   bool
	Verbose      bool
	ExifToolPath string
}

// Processor is the narrow contract the registry needs from each per-source
// ingestion pipeline: detection, the full preprocess+finalize run, and the
// metadata a caller needs to report and to decide consolidation behavior.
type Processor interface {
	Name() string
	Priority() int
	Detect(inputDir string) bool
	Process(ctx context.Context, inputDir, outputDir string, opts Options) error
	SupportsConsolidation() bool
}

// Registry holds every known Processor and dispatches against it.
type Registry struct {
	mu         sync.RWMutex
	processors []Processor
}

// New builds an empty registry; processors are added with Register.
func New() *Registry {
	return &Registry{}
}

// Register adds a processor. DetectAll sorts matches by descending
// priority, so registration order only decides between equal priorities.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors = append(r.processors, p)
}

// All returns every registered processor, in registration order.
func (r *Registry) All() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Processor, len(r.processors))
	copy(out, r.processors)
	return out
}

// ByName returns the processor registered under name, if any.
func (r *Registry) ByName(name string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.processors {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// DetectAll returns every processor whose Detect(inputDir) returns true,
// sorted by priority descending; ties preserve registration order.
func (r *Registry) DetectAll(inputDir string) []Processor {
	r.mu.RLock()
	candidates := make([]Processor, len(r.processors))
	copy(candidates, r.processors)
	r.mu.RUnlock()

	var matched []Processor
	for _, p := range candidates {
		if p.Detect(inputDir) {
			matched = append(matched, p)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() > matched[j].Priority()
	})
	return matched
}

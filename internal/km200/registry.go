package km200

import (
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Rejection reasons reported on acknowledgements, metrics and the audit trail.
const (
	ReasonNotWritable  = "not writable"
	ReasonOutOfRange   = "out of range"
	ReasonNotAllowed   = "not an allowed value"
	ReasonNotANumber   = "not a number"
	ReasonUnknownTopic = "unknown topic"
	ReasonQueueFull    = "queue full"
)

// WritableSpec is the admission-control record for one writable id. It is
// created from the first writable reading and never changes afterwards.
type WritableSpec struct {
	ID        string
	ValueType ValueType
	Min       float64 // Numeric only
	Max       float64 // Numeric only
	Allowed   []string
}

// newWritableSpec returns false when v carries no usable constraints.
func newWritableSpec(v DecodedValue) (WritableSpec, bool) {
	if !v.Writable || v.Constraints == nil {
		return WritableSpec{}, false
	}
	c := v.Constraints
	switch v.ValueType {
	case Numeric:
		if c.Min == nil || c.Max == nil {
			return WritableSpec{}, false
		}
		return WritableSpec{ID: v.ID, ValueType: Numeric, Min: *c.Min, Max: *c.Max}, true
	case EnumeratedString:
		if len(c.Allowed) == 0 {
			return WritableSpec{}, false
		}
		return WritableSpec{ID: v.ID, ValueType: EnumeratedString, Allowed: slices.Clone(c.Allowed)}, true
	default:
		return WritableSpec{}, false
	}
}

// Validate coerces a raw write payload to the value sent to the device:
// float64 for Numeric, string for EnumeratedString. The numeric range is
// inclusive. Enumerated values must match exactly.
func (s WritableSpec) Validate(raw string) (any, error) {
	switch s.ValueType {
	case Numeric:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &ValidationError{Reason: ReasonNotANumber}
		}
		if f < s.Min || f > s.Max {
			return nil, &ValidationError{Reason: ReasonOutOfRange}
		}
		return f, nil
	case EnumeratedString:
		if !slices.Contains(s.Allowed, raw) {
			return nil, &ValidationError{Reason: ReasonNotAllowed}
		}
		return raw, nil
	default:
		return nil, &ValidationError{Reason: ReasonNotWritable}
	}
}

// Registry caches writable constraints and which ids have had metadata
// published. Entries are never removed; it is rebuilt on every start.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	writables map[string]WritableSpec
	emitted   map[string]struct{}

	// claimed holds ids whose metadata publish is in flight.
	claimed map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		writables: make(map[string]WritableSpec),
		emitted:   make(map[string]struct{}),
		claimed:   make(map[string]struct{}),
	}
}

// RecordIfWritable stores a WritableSpec for v.ID if v is writable with
// usable constraints and none is stored yet. It reports whether a new spec
// was stored.
func (r *Registry) RecordIfWritable(v DecodedValue) bool {
	spec, ok := newWritableSpec(v)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.writables[spec.ID]; exists {
		return false
	}
	r.writables[spec.ID] = spec
	return true
}

// LookupWritable returns the cached spec for id.
func (r *Registry) LookupWritable(id string) (WritableSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec, ok := r.writables[id]
	if ok {
		spec.Allowed = slices.Clone(spec.Allowed)
	}
	return spec, ok
}

// IsEmitted reports whether metadata for id has been published.
func (r *Registry) IsEmitted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.emitted[id]
	return ok
}

// MarkEmitted records that metadata for id has been published.
func (r *Registry) MarkEmitted(id string) {
	r.mu.Lock()
	r.emitted[id] = struct{}{}
	r.mu.Unlock()
}

// ClaimEmit reserves the metadata publish for id. It returns false when
// the metadata was already published or another caller holds the claim.
// A successful claim must be settled with ReleaseEmit.
func (r *Registry) ClaimEmit(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.emitted[id]; ok {
		return false
	}
	if _, ok := r.claimed[id]; ok {
		return false
	}
	r.claimed[id] = struct{}{}
	return true
}

// ReleaseEmit settles a claim taken by ClaimEmit. When published is false
// the id stays unemitted and can be claimed again.
func (r *Registry) ReleaseEmit(id string, published bool) {
	r.mu.Lock()
	delete(r.claimed, id)
	if published {
		r.emitted[id] = struct{}{}
	}
	r.mu.Unlock()
}

// Writables returns a copy of every cached spec, sorted by id.
func (r *Registry) Writables() []WritableSpec {
	r.mu.Lock()
	out := make([]WritableSpec, 0, len(r.writables))
	for _, spec := range r.writables {
		spec.Allowed = slices.Clone(spec.Allowed)
		out = append(out, spec)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts returns the number of writable specs and emitted ids.
func (r *Registry) Counts() (writables, emitted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writables), len(r.emitted)
}

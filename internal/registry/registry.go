package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/usercheck/internal/identity"
	"github.com/isometry/usercheck/internal/registry/metrics"
)

const subsystem = "registry"

// Stats provides counters describing cache usage.
type Stats struct {
	Hits              int64
	Misses            int64
	DirectoryCalls    int64
	DirectoryErrors   int64
	Evictions         int64
	SkippedAdmissions int64
	Entries           int
}

// HitRate returns the percentage of lookups served from the cache.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock used to stamp and expire results.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithMetrics records cache activity to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// Registry caches directory verdicts for identifiers. A single mutex guards
// both the entries and the source, so at most one directory query is in
// flight at any time.
type Registry struct {
	mu      sync.Mutex
	entries map[identity.Identifier]*Result
	source  DirectorySource
	policy  CachePolicy
	labels  ClassLabels
	stats   Stats

	now        func() time.Time
	metrics    *metrics.Metrics
	logContext context.Context // Context with configured subsystems for logging
}

// New creates a Registry that resolves misses through source.
func New(ctx context.Context, source DirectorySource, policy CachePolicy, labels ClassLabels, opts ...Option) (*Registry, error) {
	if source == nil {
		return nil, NewConfigurationError("source", "a directory source is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := labels.Validate(); err != nil {
		return nil, err
	}

	ctx = tflog.NewSubsystem(ctx, subsystem, tflog.WithLevelFromEnv("USERCHECK_LOG_REGISTRY"))

	r := &Registry{
		entries:    make(map[identity.Identifier]*Result),
		source:     source,
		policy:     policy,
		labels:     labels,
		now:        time.Now,
		logContext: ctx,
	}
	for _, opt := range opts {
		opt(r)
	}

	tflog.SubsystemDebug(ctx, subsystem, "Registry created", map[string]any{
		"positive_ttl": policy.PositiveTTL.String(),
		"negative_ttl": policy.NegativeTTL.String(),
		"max_entries":  policy.MaxEntries,
	})

	return r, nil
}

// Resolve returns the user registered for id, or nil if the directory does
// not know it. Fresh cached verdicts are returned without consulting the
// directory. Open and lookup failures are returned unchanged and nothing is
// cached for them.
func (r *Registry) Resolve(ctx context.Context, id identity.Identifier) (*identity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.entries[id]; ok && !res.Expired(r.now()) {
		r.stats.Hits++
		r.metrics.IncrementHit()
		tflog.SubsystemTrace(r.logContext, subsystem, "Cache hit", map[string]any{
			"id":             id.String(),
			"classification": res.Classification().String(),
		})
		return res.User(), nil
	}

	r.stats.Misses++
	r.metrics.IncrementMiss()

	user, err := r.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	res := NewResult(user, r.now(), r.policy)
	r.cache(id, res)
	return res.User(), nil
}

// Classify resolves id and maps the verdict to its configured class label.
// On error the label is empty and the caller decides how to treat the client.
func (r *Registry) Classify(ctx context.Context, id identity.Identifier) (string, *identity.User, error) {
	user, err := r.Resolve(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if user != nil {
		return r.LabelFor(Registered), user, nil
	}
	return r.LabelFor(NotRegistered), nil, nil
}

// fetch consults the directory, opening it first if needed. Must be called
// with r.mu held.
func (r *Registry) fetch(ctx context.Context, id identity.Identifier) (*identity.User, error) {
	start := time.Now()
	defer func() {
		r.metrics.ObserveDirectoryLatency(time.Since(start))
	}()

	r.stats.DirectoryCalls++

	if !r.source.IsOpen() {
		if err := r.source.Open(ctx); err != nil {
			r.stats.DirectoryErrors++
			r.metrics.IncrementDirectoryError("open")
			tflog.SubsystemError(r.logContext, subsystem, "Failed to open directory source", map[string]any{
				"id":    id.String(),
				"error": err.Error(),
			})
			return nil, err
		}
	}

	user, err := r.source.LookupByIdentifier(ctx, id)
	if err != nil {
		r.stats.DirectoryErrors++
		r.metrics.IncrementDirectoryError("lookup")
		tflog.SubsystemError(r.logContext, subsystem, "Directory lookup failed", map[string]any{
			"id":    id.String(),
			"error": err.Error(),
		})
		return nil, err
	}

	return user, nil
}

// cache admits res under id. A full cache is swept of expired entries first;
// live entries are never evicted, so a fresh result is dropped when no room
// can be made. Must be called with r.mu held.
func (r *Registry) cache(id identity.Identifier, res *Result) {
	delete(r.entries, id)

	if len(r.entries) >= r.policy.MaxEntries {
		r.evictExpired()
	}

	if len(r.entries) < r.policy.MaxEntries {
		r.entries[id] = res
	} else {
		r.stats.SkippedAdmissions++
		r.metrics.IncrementSkippedAdmission()
		tflog.SubsystemDebug(r.logContext, subsystem, "Cache full, result not cached", map[string]any{
			"id":          id.String(),
			"max_entries": r.policy.MaxEntries,
		})
	}

	r.metrics.SetEntries(len(r.entries))
}

// evictExpired purges every expired entry. Must be called with r.mu held.
func (r *Registry) evictExpired() {
	now := r.now()
	evicted := 0
	for id, res := range r.entries {
		if res.Expired(now) {
			delete(r.entries, id)
			evicted++
		}
	}

	r.stats.Evictions += int64(evicted)
	r.metrics.AddEvictions(evicted)

	tflog.SubsystemDebug(r.logContext, subsystem, "Swept expired entries", map[string]any{
		"evicted":   evicted,
		"remaining": len(r.entries),
	})
}

// Remove deletes any cached result for id.
func (r *Registry) Remove(id identity.Identifier) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, id)
	r.metrics.SetEntries(len(r.entries))
}

// LabelFor returns the class label configured for c. It panics on a value
// outside the Classification enumeration.
func (r *Registry) LabelFor(c Classification) string {
	switch c {
	case Registered:
		return r.labels.Positive
	case NotRegistered:
		return r.labels.Negative
	default:
		panic(fmt.Errorf("%w: unknown classification %d", ErrInternalInconsistency, int(c)))
	}
}

// Len returns the number of cached results, expired ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stats returns a snapshot of the cache counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.stats
	stats.Entries = len(r.entries)
	return stats
}

// Close releases the directory source. Cached results are kept.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.source.Close()

	stats := r.stats
	tflog.SubsystemInfo(r.logContext, subsystem, "Registry closed", map[string]any{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"hit_rate": stats.HitRate(),
		"entries":  len(r.entries),
	})
}

package breaker

import (
	"sort"
	"sync"
)

// Registry owns every breaker of the process, keyed by operation name
type Registry struct {
	mu       sync.RWMutex
	defaults Settings
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry. Zero fields of registered settings
// are taken from defaults, except MaxConcurrentRequests where 0 means unbounded.
func NewRegistry(defaults Settings) *Registry {
	return &Registry{
		defaults: defaults,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Register returns the breaker for settings.Name, creating it on first use.
// An existing breaker keeps the settings it was created with.
func (r *Registry) Register(settings Settings) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[settings.Name]; ok {
		return cb
	}
	cb := newCircuitBreaker(r.withDefaults(settings))
	r.breakers[settings.Name] = cb
	return cb
}

// Get returns the named breaker, creating it with default settings if needed
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}
	settings := r.defaults
	settings.Name = name
	return r.Register(settings)
}

// Snapshots returns a view of every breaker sorted by name
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		snapshots = append(snapshots, cb.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name < snapshots[j].Name
	})
	return snapshots
}

func (r *Registry) withDefaults(s Settings) Settings {
	if s.ErrorThresholdPercentage <= 0 {
		s.ErrorThresholdPercentage = r.defaults.ErrorThresholdPercentage
	}
	if s.RequestVolumeThreshold <= 0 {
		s.RequestVolumeThreshold = r.defaults.RequestVolumeThreshold
	}
	if s.SleepWindow <= 0 {
		s.SleepWindow = r.defaults.SleepWindow
	}
	if s.Timeout <= 0 {
		s.Timeout = r.defaults.Timeout
	}
	if s.MaxConcurrentRequests < 0 {
		s.MaxConcurrentRequests = 0
	}
	if s.RollingWindow <= 0 {
		s.RollingWindow = r.defaults.RollingWindow
	}
	if s.Buckets <= 0 {
		s.Buckets = r.defaults.Buckets
	}
	return s
}

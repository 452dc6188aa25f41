package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	logger "github.com/sirupsen/logrus"
)

// Config is the per-collector configuration blob, decoded from the JSON
// stored on the collector row. Values are kept as strings; strategies parse
// what they need.
type Config map[string]string

// ParseConfig decodes the collector row's JSON blob. An empty blob is a
// valid empty config.
func ParseConfig(raw string) (Config, error) {
	if raw == "" {
		return Config{}, nil
	}

	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("invalid collector config: %w", err)
	}
	return cfg, nil
}

// Get returns the value for key, or fallback when absent or empty.
func (c Config) Get(key, fallback string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Record is one normalized row produced by a strategy. The concrete types
// are the persistence models; the runner dispatches them to the matching
// repository by type.
type Record interface {
	TableName() string
}

// Strategy is one pluggable data source.
type Strategy interface {
	Name() string
	Description() string

	// ConfigSchema maps config key -> human description, for operator docs.
	ConfigSchema() map[string]string

	ValidateConfig(cfg Config) error
	TestConnection(ctx context.Context, cfg Config) error
	Collect(ctx context.Context, cfg Config) ([]Record, error)
}

// Validator is optionally implemented by strategies that repair or drop
// rows after collection. Strategies without it keep every record.
type Validator interface {
	ValidateData(recs []Record) []Record
}

// Registry maps strategy keys to strategies. Registration happens during
// startup; Freeze makes it immutable before the scheduler starts.
type Registry struct {
	mu     sync.RWMutex
	byKey  map[string]Strategy
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Strategy)}
}

// Register adds a strategy under its own name. Registering after Freeze or
// under a duplicate key is a programming error and panics.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		panic("collector: Register called after Freeze")
	}
	key := s.Name()
	if _, exists := r.byKey[key]; exists {
		panic(fmt.Sprintf("collector: duplicate strategy %q", key))
	}
	r.byKey[key] = s

	logger.WithField("strategy", key).Debug("Registered collector strategy")
}

// Freeze seals the registry.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Resolve returns the strategy for key, or an error if unknown.
func (r *Registry) Resolve(key string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byKey[key]
	if !ok {
		return nil, fmt.Errorf("unknown collector strategy %q", key)
	}
	return s, nil
}

// Keys returns every registered strategy key, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

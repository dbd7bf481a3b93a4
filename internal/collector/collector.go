package collector

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/config"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/normalize"
)

// Collector produces zero or more raw observations per invocation. One
// implementation exists per external site or event source family.
type Collector interface {
	Source() config.Source
	Collect(ctx context.Context) ([]normalize.RawObservation, error)
}

// Constructor builds a collector for one configured source.
type Constructor func(src config.Source, logger zerolog.Logger) (Collector, error)

// Registry maps parser keys to collector constructors. Adding a source is a
// config edit as long as a registered parser key covers it.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry builds a registry with the built-in collectors registered.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register("jsonfeed", newJSONFeed)
	r.Register("static", newStatic)
	return r
}

// Register adds a constructor under a parser key, replacing any existing one.
func (r *Registry) Register(parserKey string, ctor Constructor) {
	r.constructors[parserKey] = ctor
}

// Keys lists the registered parser keys, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// New builds the collector for one source, failing on unknown parser keys.
func (r *Registry) New(src config.Source, logger zerolog.Logger) (Collector, error) {
	ctor, ok := r.constructors[src.ParserKey]
	if !ok {
		return nil, fmt.Errorf("no collector registered for parser key %q (source %q)", src.ParserKey, src.Name)
	}
	return ctor(src, logger)
}

package store

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultFactory is the default store factory
type DefaultFactory struct {
	builders map[string]Builder
	mu       sync.RWMutex
}

// Builder is a function that creates a store from config
type Builder func(config Config) (Store, error)

var (
	// Global factory instance
	globalFactory = &DefaultFactory{
		builders: make(map[string]Builder),
	}
)

func init() {
	RegisterStoreType("file", func(config Config) (Store, error) {
		return NewFileStore(config.Path)
	})
	RegisterStoreType("sqlite", func(config Config) (Store, error) {
		return NewSQLStore(DialectSQLite, config)
	})
	RegisterStoreType("postgres", func(config Config) (Store, error) {
		return NewSQLStore(DialectPostgres, config)
	})
	RegisterStoreType("postgresql", func(config Config) (Store, error) {
		return NewSQLStore(DialectPostgres, config)
	})
}

// RegisterStoreType registers a new store type with the global factory
func RegisterStoreType(storeType string, builder Builder) {
	globalFactory.RegisterStoreType(storeType, builder)
}

// Open creates a store using the global factory. An empty type selects "file".
func Open(config Config) (Store, error) {
	return globalFactory.Open(config)
}

// SupportedTypes returns supported store types from the global factory
func SupportedTypes() []string {
	return globalFactory.SupportedTypes()
}

// RegisterStoreType registers a new store type
func (f *DefaultFactory) RegisterStoreType(storeType string, builder Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[storeType] = builder
}

// Open creates a store based on the configuration
func (f *DefaultFactory) Open(config Config) (Store, error) {
	if config.Type == "" {
		config.Type = "file"
	}
	f.mu.RLock()
	builder, exists := f.builders[config.Type]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported store type: %s (supported: %v)", config.Type, f.SupportedTypes())
	}

	return builder(config)
}

// SupportedTypes returns a sorted list of supported store types
func (f *DefaultFactory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.builders))
	for storeType := range f.builders {
		types = append(types, storeType)
	}
	sort.Strings(types)
	return types
}

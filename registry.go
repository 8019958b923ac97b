package json2ubl

import (
	"errors"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds one compiled SchemaCache per document type for the
// lifetime of the process. A cache is taken from memory, then from the
// cache directory, then compiled from XSD and persisted.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry

	compiler *Compiler
	cacheDir string
	persist  bool
	logger   *slog.Logger
}

// registryEntry fills at most once per document type
type registryEntry struct {
	once  sync.Once
	cache *SchemaCache
	err   error
}

// NewRegistry creates a registry. cacheDir may be empty to disable the
// disk layer.
func NewRegistry(compiler *Compiler, cacheDir string, persist bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:  make(map[string]*registryEntry),
		compiler: compiler,
		cacheDir: cacheDir,
		persist:  persist,
		logger:   logger,
	}
}

// Get returns the SchemaCache for docType, building it on first use
func (r *Registry) Get(docType string) (*SchemaCache, error) {
	r.mu.RLock()
	entry, exists := r.entries[docType]
	r.mu.RUnlock()

	if !exists {
		r.mu.Lock()
		entry, exists = r.entries[docType]
		if !exists {
			entry = &registryEntry{}
			r.entries[docType] = entry
		}
		r.mu.Unlock()
	}

	entry.once.Do(func() {
		entry.cache, entry.err = r.load(docType)
	})

	if entry.err != nil {
		// Let a later call retry, e.g. after the schema files are fixed
		r.mu.Lock()
		if r.entries[docType] == entry {
			delete(r.entries, docType)
		}
		r.mu.Unlock()
	}
	return entry.cache, entry.err
}

// Put stores a prebuilt cache, replacing any existing entry
func (r *Registry) Put(docType string, cache *SchemaCache) {
	entry := &registryEntry{cache: cache}
	entry.once.Do(func() {})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[docType] = entry
}

// Clear removes all cached schemas from memory
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*registryEntry)
}

// Remove removes a specific document type from memory
func (r *Registry) Remove(docType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, docType)
}

// Loaded lists the document types currently held in memory
func (r *Registry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for docType := range r.entries {
		types = append(types, docType)
	}
	sort.Strings(types)
	return types
}

// BuildAll compiles and persists every document type found under the
// schema root, returning the types that were built
func (r *Registry) BuildAll() ([]string, error) {
	types, err := r.compiler.DocumentTypes()
	if err != nil {
		return nil, NewError(CodeSchema, "failed to list document types", err)
	}

	var built []string
	for _, docType := range types {
		cache, err := r.compiler.Compile(docType)
		if err != nil {
			r.logger.Warn("failed to compile schema", "document_type", docType, "error", err)
			continue
		}
		if err := r.save(docType, cache); err != nil {
			r.logger.Warn("failed to persist schema cache", "document_type", docType, "error", err)
		}
		r.Put(docType, cache)
		built = append(built, docType)
	}
	return built, nil
}

func (r *Registry) load(docType string) (*SchemaCache, error) {
	if r.cacheDir != "" {
		path := CacheFilePath(r.cacheDir, docType)
		cache, err := LoadSchemaCacheFile(path)
		switch {
		case err == nil && cache.Elements.Len() > 0:
			r.logger.Debug("loaded schema cache", "document_type", docType, "path", path)
			return cache, nil
		case err == nil:
			r.logger.Warn("schema cache has no elements, regenerating", "document_type", docType, "path", path)
		case errors.Is(err, fs.ErrNotExist):
			r.logger.Debug("schema cache not found, compiling", "document_type", docType)
		default:
			r.logger.Warn("schema cache unreadable, regenerating", "document_type", docType, "path", path, "error", err)
		}
	}

	cache, err := r.compiler.Compile(docType)
	if err != nil {
		return nil, err
	}
	if err := r.save(docType, cache); err != nil {
		r.logger.Warn("failed to persist schema cache", "document_type", docType, "error", err)
	}
	return cache, nil
}

func (r *Registry) save(docType string, cache *SchemaCache) error {
	if r.cacheDir == "" || !r.persist {
		return nil
	}
	if err := cache.SaveFile(CacheFilePath(r.cacheDir, docType)); err != nil {
		return NewError(CodeCache, "failed to save schema cache", err).WithDetail("document_type", docType)
	}
	return nil
}

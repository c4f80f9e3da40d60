package rules

import (
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

type cachedProgram struct {
	prog     cel.Program
	cachedAt time.Time
}

// InMemoryProgramCache is a simple in-memory implementation of ProgramCache
// Thread-safe for concurrent access
type InMemoryProgramCache struct {
	programs map[string]cachedProgram
	config   CacheConfig
	mu       sync.RWMutex
}

// NewInMemoryProgramCache creates a new in-memory program cache
func NewInMemoryProgramCache(config CacheConfig) *InMemoryProgramCache {
	return &InMemoryProgramCache{
		programs: make(map[string]cachedProgram),
		config:   config,
	}
}

// Get retrieves a cached program
func (c *InMemoryProgramCache) Get(expression string) (cel.Program, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.programs[expression]
	if !ok {
		return nil, false
	}

	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil, false
	}

	return entry.prog, true
}

// Set stores a program in the cache
func (c *InMemoryProgramCache) Set(expression string, prog cel.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.MaxEntries > 0 && len(c.programs) >= c.config.MaxEntries {
		c.programs = make(map[string]cachedProgram)
	}

	c.programs[expression] = cachedProgram{prog: prog, cachedAt: time.Now()}
}

// Invalidate clears the cache
func (c *InMemoryProgramCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.programs = make(map[string]cachedProgram)
}

// Len returns the number of cached programs, expired ones included
func (c *InMemoryProgramCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.programs)
}

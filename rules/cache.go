package rules

import (
	"time"

	"github.com/google/cel-go/cel"
)

// ProgramCache provides an abstraction for caching compiled predicate programs.
// Rendered predicates repeat across events, so compiling each distinct
// expression once keeps evaluation cheap.
type ProgramCache interface {
	// Get retrieves a compiled program, returns false on a miss or expired entry
	Get(expression string) (cel.Program, bool)

	// Set stores a compiled program
	Set(expression string, prog cel.Program)

	// Invalidate clears the cache, forcing recompilation on next Get
	Invalidate()

	// Len returns the number of cached programs
	Len() int
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration
	TTL time.Duration

	// MaxEntries bounds the cache; reaching it drops every entry
	MaxEntries int
}

// DefaultCacheConfig returns sensible defaults for program caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        0,
		MaxEntries: 4096,
	}
}

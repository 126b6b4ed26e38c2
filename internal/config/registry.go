// Package config keeps a registry of documented configuration keys and the
// helpers used to load them into koanf.
package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// KeyInfo documents a known configuration key.
type KeyInfo struct {
	Key         string // Full dotted path, e.g. "auth.google.clientId"
	Description string
	Type        string // "string", "int", "bool", "duration", "[]string"
	Default     any    // Optional default value, nil for none
	Secret      bool   // Redacted when dumping configuration
}

var (
	registry   = make(map[string]KeyInfo)
	registryMu sync.RWMutex
)

// Register adds keys to the registry. Later registrations of the same key
// replace earlier ones.
func Register(infos ...KeyInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, info := range infos {
		registry[info.Key] = info
	}
}

// Lookup returns the metadata for a registered key.
func Lookup(key string) (KeyInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[key]
	return info, ok
}

// Keys returns all registered keys, sorted.
func Keys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Defaults returns the registered default values keyed by path.
func Defaults() map[string]any {
	registryMu.RLock()
	defer registryMu.RUnlock()
	defaults := make(map[string]any)
	for key, info := range registry {
		if info.Default != nil {
			defaults[key] = info.Default
		}
	}
	return defaults
}

// SimilarKeys returns up to max registered keys within a small edit distance
// of key, most similar first. Keys in the same namespace get a one point bonus.
func SimilarKeys(key string, max int) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	type scored struct {
		key   string
		score int
	}
	var candidates []scored
	prefix := namespace(key)
	for registered := range registry {
		d := levenshtein.ComputeDistance(key, registered)
		if prefix != "" && prefix == namespace(registered) && d > 0 {
			d--
		}
		if d <= 3 {
			candidates = append(candidates, scored{registered, d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].score < candidates[j].score
	})

	out := make([]string, 0, max)
	for i := 0; i < len(candidates) && i < max; i++ {
		out = append(out, candidates[i].key)
	}
	return out
}

func namespace(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 {
		return key[:i]
	}
	return ""
}

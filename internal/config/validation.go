package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/v2"
)

// Warning flags a loaded key that is not registered.
type Warning struct {
	Key         string
	Suggestions []string
}

func (w Warning) String() string {
	msg := fmt.Sprintf("'%s' is not a known config key", w.Key)
	switch len(w.Suggestions) {
	case 0:
	case 1:
		msg += fmt.Sprintf(", did you mean '%s'?", w.Suggestions[0])
	default:
		msg += ", did you mean one of: " + strings.Join(w.Suggestions, ", ")
	}
	return msg
}

// Validate compares every loaded key against the registry.
func Validate(k *koanf.Koanf) []Warning {
	var warnings []Warning
	for _, key := range k.Keys() {
		if _, ok := Lookup(key); ok || underRegisteredKey(key) {
			continue
		}
		warnings = append(warnings, Warning{Key: key, Suggestions: SimilarKeys(key, 3)})
	}
	return warnings
}

// underRegisteredKey allows free-form children of a registered key, for
// example map valued settings.
func underRegisteredKey(key string) bool {
	parts := strings.Split(key, ".")
	for i := len(parts) - 1; i > 0; i-- {
		if _, ok := Lookup(strings.Join(parts[:i], ".")); ok {
			return true
		}
	}
	return false
}

// IsPlaceholder reports whether a configured value is empty or one of the
// sample values shipped in example configuration files.
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	return strings.HasPrefix(v, "YOUR_") || strings.HasPrefix(v, "<") || strings.EqualFold(v, "changeme")
}

// Redacted returns the loaded configuration with secret keys masked.
func Redacted(k *koanf.Koanf) map[string]any {
	out := make(map[string]any)
	for _, key := range k.Keys() {
		if info, ok := Lookup(key); ok && info.Secret && k.String(key) != "" {
			out[key] = "****"
			continue
		}
		out[key] = k.Get(key)
	}
	return out
}

package medtracker

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Bounds for auth.sessionTtl. Credentials shorter than a minute make the
// client refresh constantly, longer than a day defeats the refresh cookie.
const (
	minSessionTTL = time.Minute
	maxSessionTTL = 24 * time.Hour
)

// ValidationError describes a configuration value that cannot be used.
type ValidationError struct {
	Key     string
	Message string
}

func (e ValidationError) Error() string {
	return e.Key + ": " + e.Message
}

// ValidateIntRange checks that value is within [minVal, maxVal].
func ValidateIntRange(value, minVal, maxVal int) error {
	if value < minVal || value > maxVal {
		return fmt.Errorf("must be between %d and %d, got: %d", minVal, maxVal, value)
	}
	return nil
}

// ValidateDurationRange checks that value is within [minVal, maxVal].
func ValidateDurationRange(value, minVal, maxVal time.Duration) error {
	if value < minVal || value > maxVal {
		return fmt.Errorf("must be between %s and %s, got: %s", minVal, maxVal, value)
	}
	return nil
}

// ValidatePort checks for a usable TCP port.
func ValidatePort(port int) error {
	return ValidateIntRange(port, 1, 65535)
}

func ValidatePositiveDuration(value time.Duration) error {
	if value <= 0 {
		return fmt.Errorf("must be positive, got: %s", value)
	}
	return nil
}

func ValidateNonNegativeDuration(value time.Duration) error {
	if value < 0 {
		return fmt.Errorf("must be non-negative, got: %s", value)
	}
	return nil
}

// ValidateOrigin checks that s is an absolute http(s) URL with no query or
// fragment, the shape expected of the frontend and public addresses.
func ValidateOrigin(s string) error {
	if s == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must start with http:// or https://, got: %q", s)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host, got: %q", s)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("URL must not have a query or fragment, got: %q", s)
	}
	return nil
}

type check struct {
	key      string
	optional bool
	validate func(key string) error
}

var configChecks = []check{
	{key: "server.port", validate: func(k string) error { return ValidatePort(Config.Int(k)) }},
	{key: "server.host", validate: func(k string) error {
		if strings.TrimSpace(Config.String(k)) == "" {
			return fmt.Errorf("cannot be empty")
		}
		return nil
	}},
	{key: "server.publicAddress", optional: true, validate: func(k string) error { return ValidateOrigin(Config.String(k)) }},
	{key: "server.shutdownTimeout", validate: func(k string) error { return ValidateNonNegativeDuration(Config.Duration(k)) }},
	{key: "server.security.hstsExpiration", optional: true, validate: func(k string) error { return ValidateNonNegativeDuration(Config.Duration(k)) }},
	{key: "server.security.corsMaxAge", validate: func(k string) error { return ValidateNonNegativeDuration(Config.Duration(k)) }},
	{key: "frontendUrl", validate: func(k string) error { return ValidateOrigin(Config.String(k)) }},
	{key: "auth.sessionTtl", validate: func(k string) error {
		return ValidateDurationRange(Config.Duration(k), minSessionTTL, maxSessionTTL)
	}},
	{key: "auth.google.timeout", validate: func(k string) error { return ValidatePositiveDuration(Config.Duration(k)) }},
}

// ValidateConfig checks the server, frontend and auth settings in Config and
// returns every problem found. Keys that are not set are skipped; a key marked
// optional is also skipped when set to the empty string.
func ValidateConfig() []ValidationError {
	var errs []ValidationError
	for _, c := range configChecks {
		if !Config.Exists(c.key) {
			continue
		}
		if c.optional && Config.String(c.key) == "" {
			continue
		}
		if err := c.validate(c.key); err != nil {
			errs = append(errs, ValidationError{Key: c.key, Message: err.Error()})
		}
	}
	return errs
}

// FormatValidationErrors renders errs for a startup failure message.
func FormatValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range errs {
		sb.WriteString("  - " + err.Error() + "\n")
	}
	sb.WriteString("\nFix these errors in " + ConfigFile + " or MT__ environment variables and try again.")
	return sb.String()
}

package medtracker

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/medtracker/medtracker/internal/config"
)

// Filename of the standard configuration file.
const ConfigFile = "medtracker.yaml"

// ConfigKeyInfo documents a configuration key.
type ConfigKeyInfo = config.KeyInfo

// Config is the global koanf instance holding application configuration.
//
// Sources, later overriding earlier:
//  1. Defaults registered through RegisterConfigKeys
//  2. medtracker.yaml, searched for from the working directory upwards
//  3. MT__ prefixed environment variables
//  4. Files and maps loaded via LoadConfigFile and LoadConfigDefaults
//
// Environment variables map as MT__AUTH__GOOGLE__CLIENT_ID → auth.google.clientId.
var Config = koanf.New(".")

func init() {
	RegisterConfigKeys(
		ConfigKeyInfo{Key: "server.host", Description: "Interface to bind", Type: "string", Default: "localhost"},
		ConfigKeyInfo{Key: "server.port", Description: "Port to listen on", Type: "int", Default: 8000},
		ConfigKeyInfo{Key: "server.publicAddress", Description: "Externally visible base URL, derived from requests when empty", Type: "string"},
		ConfigKeyInfo{Key: "server.shutdownTimeout", Description: "Grace period for in-flight requests on shutdown", Type: "duration", Default: "10s"},
		ConfigKeyInfo{Key: "server.tls.certFile", Description: "TLS certificate", Type: "string"},
		ConfigKeyInfo{Key: "server.tls.keyFile", Description: "TLS private key", Type: "string"},
		ConfigKeyInfo{Key: "server.security.xFramesOptions", Type: "string", Default: "DENY"},
		ConfigKeyInfo{Key: "server.security.hstsExpiration", Type: "duration"},
		ConfigKeyInfo{Key: "server.security.corsOrigins", Description: "Origins allowed to call the API from a browser", Type: "[]string"},
		ConfigKeyInfo{Key: "server.security.corsAllowMethods", Type: "[]string", Default: []string{"GET", "POST", "PUT", "DELETE"}},
		ConfigKeyInfo{Key: "server.security.corsAllowHeaders", Type: "[]string", Default: []string{"Authorization", "Content-Type"}},
		ConfigKeyInfo{Key: "server.security.corsAllowCredentials", Type: "bool", Default: true},
		ConfigKeyInfo{Key: "server.security.corsMaxAge", Type: "duration", Default: "1h"},
		ConfigKeyInfo{Key: "logging.format", Description: "console or json", Type: "string", Default: "console"},
		ConfigKeyInfo{Key: "frontendUrl", Description: "Base URL of the browser application", Type: "string", Default: "http://localhost:55555"},
		ConfigKeyInfo{Key: "service.name", Type: "string", Default: "medical-tracker-backend"},
		ConfigKeyInfo{Key: "service.version", Type: "string", Default: "1.0.0"},
	)

	if cfg := config.SearchForConfig(ConfigFile, "."); cfg != "" {
		if err := Config.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			panic("error loading config: " + err.Error())
		}
	}
	if err := Config.Load(env.Provider(config.EnvPrefix, ".", config.TransformEnv), nil); err != nil {
		panic("error loading env config: " + err.Error())
	}
}

// RegisterConfigKeys documents configuration keys and seeds their defaults.
// Plugins call this from init, so defaults are in place before any plugin
// constructor reads Config. Values that are already set are left alone.
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	config.Register(infos...)
	for _, info := range infos {
		if info.Default != nil && !Config.Exists(info.Key) {
			_ = Config.Set(info.Key, info.Default)
		}
	}
}

// LoadConfigFile merges a YAML file into Config.
func LoadConfigFile(path string) error {
	return Config.Load(file.Provider(path), yaml.Parser())
}

// LoadConfigDefaults merges a map of values into Config. Mostly useful in
// tests and for application specific defaults.
func LoadConfigDefaults(values map[string]any) error {
	return Config.Load(confmap.Provider(values, "."), nil)
}

// ConfigWarnings returns human readable warnings for unknown configuration
// keys.
func ConfigWarnings() []string {
	var out []string
	for _, w := range config.Validate(Config) {
		out = append(out, w.String())
	}
	return out
}

// ConfigString returns the string value for the given key.
func ConfigString(key string) string { return Config.String(key) }

// ConfigInt returns the int value for the given key.
func ConfigInt(key string) int { return Config.Int(key) }

// ConfigBool returns the bool value for the given key.
func ConfigBool(key string) bool { return Config.Bool(key) }

// ConfigDuration returns the duration value for the given key, parsing strings
// such as "5m" or "1h".
func ConfigDuration(key string) time.Duration { return Config.Duration(key) }

// ConfigStrings returns the string slice value for the given key.
func ConfigStrings(key string) []string { return Config.Strings(key) }

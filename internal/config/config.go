// Package config holds the bridge configuration: a viper singleton
// initialised once at startup and read-only thereafter, except the per-table
// TTL override map, which the set_table_ttl control operation and config-file
// hot reload may update. Overrides take effect on the next cache write for
// the table.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/gridbase/gridbase-mcp/internal/debug"
)

var v *viper.Viper

var (
	overridesMu  sync.RWMutex
	ttlOverrides = map[string]int{}
)

// Initialize sets up the viper configuration singleton. Call once at startup.
//
// Config file precedence: $GRIDBASE_CONFIG_DIR/config.yaml, then
// ~/.gridbase/config.yaml. GRIDBASE_* environment variables override the
// file; defaults cover everything else. A tables.toml beside the config file
// overlays per-table TTL overrides on top of the YAML map.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false
	if dir := os.Getenv("GRIDBASE_CONFIG_DIR"); dir != "" {
		path := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			configFileSet = true
		}
	}
	if !configFileSet {
		if home, err := os.UserHomeDir(); err == nil {
			path := filepath.Join(home, ".gridbase", "config.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	// GRIDBASE_CACHE_PATH maps to cache.path, and so on.
	v.SetEnvPrefix("GRIDBASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults()

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return err
		}
		// Hot reload refreshes only the TTL override map; everything else
		// stays fixed for the process lifetime.
		v.OnConfigChange(func(_ fsnotify.Event) {
			debug.Logf("config changed, reloading ttl overrides\n")
			reloadOverrides()
		})
		v.WatchConfig()
	}

	reloadOverrides()
	return nil
}

func setDefaults() {
	v.SetDefault("cache.path", defaultCachePath())
	v.SetDefault("cache.default_ttl_seconds", 3600)
	v.SetDefault("cache.table_ttl_overrides", map[string]int{})
	v.SetDefault("timezone", "")
	v.SetDefault("fuzzy.max_edits_short", 1)
	v.SetDefault("fuzzy.max_edits_long", 2)
	v.SetDefault("filter.strict_validation", false)
	v.SetDefault("upstream.base_url", "https://api.gridbase.io/v1")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.workspace_id", "")
	v.SetDefault("upstream.timeout_seconds", 30)
	v.SetDefault("otel.enabled", false)
	v.SetDefault("request.timeout_seconds", 120)
}

func defaultCachePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".gridbase", "cache.db")
	}
	return "gridbase-cache.db"
}

// reloadOverrides rebuilds the TTL override map from the YAML map plus the
// tables.toml overlay.
func reloadOverrides() {
	merged := map[string]int{}
	for id, secs := range v.GetStringMap("cache.table_ttl_overrides") {
		if n, ok := toInt(secs); ok && n > 0 {
			merged[id] = n
		}
	}
	if path := tablesTomlPath(); path != "" {
		var overlay struct {
			TTLOverrides map[string]int `toml:"ttl_overrides"`
		}
		if _, err := toml.DecodeFile(path, &overlay); err != nil {
			debug.Errorf("failed to read %s: %v\n", path, err)
		} else {
			for id, secs := range overlay.TTLOverrides {
				if secs > 0 {
					merged[id] = secs
				}
			}
		}
	}

	overridesMu.Lock()
	ttlOverrides = merged
	overridesMu.Unlock()
}

func tablesTomlPath() string {
	if v == nil || v.ConfigFileUsed() == "" {
		return ""
	}
	path := filepath.Join(filepath.Dir(v.ConfigFileUsed()), "tables.toml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func toInt(raw any) (int, bool) {
	switch n := raw.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func ensureInitialized() {
	if v == nil {
		if err := Initialize(); err != nil {
			debug.Errorf("config initialization failed: %v\n", err)
		}
	}
}

// GetString returns a string configuration value.
func GetString(key string) string {
	ensureInitialized()
	return v.GetString(key)
}

// GetBool returns a boolean configuration value.
func GetBool(key string) bool {
	ensureInitialized()
	return v.GetBool(key)
}

// GetInt returns an integer configuration value.
func GetInt(key string) int {
	ensureInitialized()
	return v.GetInt(key)
}

// GetDuration converts a *_seconds key to a duration.
func GetDuration(secondsKey string) time.Duration {
	return time.Duration(GetInt(secondsKey)) * time.Second
}

// Set overrides a configuration value. For tests and flag binding.
func Set(key string, value any) {
	ensureInitialized()
	v.Set(key, value)
	if key == "cache.table_ttl_overrides" {
		reloadOverrides()
	}
}

// DefaultTTL is the medium-category default applied to tables without an
// override.
func DefaultTTL() time.Duration {
	return GetDuration("cache.default_ttl_seconds")
}

// TableTTL returns the record TTL for a table: its override when present,
// the default otherwise.
func TableTTL(tableID string) time.Duration {
	ensureInitialized()
	overridesMu.RLock()
	secs, ok := ttlOverrides[tableID]
	overridesMu.RUnlock()
	if ok {
		return time.Duration(secs) * time.Second
	}
	return DefaultTTL()
}

// SetTableTTL installs a per-table override at runtime. It takes effect on
// the next cache write for the table.
func SetTableTTL(tableID string, seconds int) {
	ensureInitialized()
	overridesMu.Lock()
	if seconds > 0 {
		ttlOverrides[tableID] = seconds
	} else {
		delete(ttlOverrides, tableID)
	}
	overridesMu.Unlock()
}

// Timezone resolves the configured zone: the timezone key when it parses,
// the fallback zone (a member profile's, when the caller has one), then the
// system zone. Zone names are IANA names or fixed offsets like +02:00.
func Timezone(fallback string) *time.Location {
	for _, name := range []string{GetString("timezone"), fallback} {
		if name == "" {
			continue
		}
		if loc := parseZone(name); loc != nil {
			return loc
		}
		debug.Logf("unknown timezone %q, trying next\n", name)
	}
	return time.Local
}

var fixedOffsetRe = regexp.MustCompile(`^([+-])(\d{2}):?(\d{2})$`)

func parseZone(name string) *time.Location {
	if m := fixedOffsetRe.FindStringSubmatch(name); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes, _ := strconv.Atoi(m[3])
		offset := hours*3600 + minutes*60
		if m[1] == "-" {
			offset = -offset
		}
		return time.FixedZone(name, offset)
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return nil
}

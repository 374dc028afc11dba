package offlinecache

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultCachePrefix names cache generations when no prefix is configured.
const DefaultCachePrefix = "gamble-king-cache"

// DefaultPrecache is the application shell: the fixed asset list installed
// into every new cache generation.
var DefaultPrecache = []string{
	"/",
	"/manifest.json",
	"/static/js/app.js",
	"/static/css/styles.css",
	"/static/images/icon-192x192.png",
	"/static/images/icon-512x512.png",
}

// FileConfig is the on-disk configuration of the agent process.
type FileConfig struct {
	Origin          string   `yaml:"origin"`
	Port            int      `yaml:"port"`
	Provider        string   `yaml:"provider"`
	DBFilename      string   `yaml:"db"`
	RedisAddr       string   `yaml:"redisAddr"`
	Version         string   `yaml:"version"`
	EnvFile         string   `yaml:"envFile"`
	CachePrefix     string   `yaml:"cachePrefix"`
	Routes          Routes   `yaml:"routes"`
	Precache        []string `yaml:"precache"`
	Heartbeat       string   `yaml:"heartbeat"`
	Timeout         string   `yaml:"timeout"`
	WaitForTakeover bool     `yaml:"waitForTakeover"`
}

// DefaultConfig returns a config with every default filled in.
func DefaultConfig() FileConfig {
	var config FileConfig
	config.applyDefaults()
	return config
}

// LoadConfig reads and parses the yaml config file and fills in defaults.
func LoadConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, err
	}
	config.applyDefaults()
	return config, nil
}

func (c *FileConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Provider == "" {
		c.Provider = "sqlite"
	}
	if c.CachePrefix == "" {
		c.CachePrefix = DefaultCachePrefix
	}
	if c.Routes == (Routes{}) {
		c.Routes = DefaultRoutes
	}
	if len(c.Precache) == 0 {
		c.Precache = DefaultPrecache
	}
	if c.Version == "" && c.EnvFile != "" {
		c.Version = VersionFromEnv(c.EnvFile)
	}
}

// HeartbeatInterval parses the configured heartbeat, defaulting to a minute.
func (c FileConfig) HeartbeatInterval() time.Duration {
	if d, err := time.ParseDuration(c.Heartbeat); err == nil && d > 0 {
		return d
	}
	return time.Minute
}

// NetworkTimeout parses the configured network timeout; zero means the agent
// default applies.
func (c FileConfig) NetworkTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	return 0
}

// VersionFromEnv reads APP_VERSION from the given .env file. This mirrors
// how the tracked application publishes its deployed version. Returns the
// empty string if the file is missing or does not define the key.
func VersionFromEnv(filename string) string {
	env, err := godotenv.Read(filename)
	if err != nil {
		return ""
	}
	return env["APP_VERSION"]
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"

	offlinecache "github.com/gamble-king/offline-cache"
	"github.com/gamble-king/offline-cache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	originFlag         string
	portFlag           int
	providerFlag       string
	dbFilenameFlag     string
	redisAddrFlag      string
	versionFlag        string
	envFileFlag        string
	verbosityTraceFlag bool
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to forward requests to (overrides config)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&providerFlag, "provider", "", "Cache provider: sqlite, memory or redis (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name for the sqlite provider")
	flag.StringVar(&redisAddrFlag, "redis", "localhost:6379", "Redis address for the redis provider")
	flag.StringVar(&versionFlag, "version", "", "Agent version (overrides config and env file)")
	flag.StringVar(&envFileFlag, "env", "", "Path to .env file to read APP_VERSION from")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	config := offlinecache.DefaultConfig()
	if configFilenameFlag != "" {
		var err error
		config, err = offlinecache.LoadConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not read config file")
		}
	}

	if originFlag != "" {
		config.Origin = originFlag
	}
	if portFlag != 0 {
		config.Port = portFlag
	}
	if providerFlag != "" {
		config.Provider = providerFlag
	}
	if envFileFlag != "" {
		config.Version = offlinecache.VersionFromEnv(envFileFlag)
	}
	if versionFlag != "" {
		config.Version = versionFlag
	}

	if config.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	if config.Version == "" {
		log.Fatal().Msg("Please specify the agent version")
	}

	originURL, err := url.Parse(config.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid origin URL")
	}

	// use configured provider, exit if unsupported
	var provider cache.CacheProvider
	switch config.Provider {
	case "sqlite":
		provider = cache.NewSQLiteCache(dbFilenameFlag)
	case "memory":
		provider = cache.NewMemCache()
	case "redis":
		provider = cache.NewRedisCache(
			redis.NewClient(&redis.Options{Addr: redisAddrFlag}),
			config.CachePrefix+":")
	default:
		log.Fatal().Msgf("Unsupported cache provider: %s", config.Provider)
	}

	bus := offlinecache.NewBus()
	agent := offlinecache.NewAgent(offlinecache.Config{
		Cache:           provider,
		OriginURL:       *originURL,
		Version:         config.Version,
		CachePrefix:     config.CachePrefix,
		Routes:          config.Routes,
		Precache:        config.Precache,
		Logger:          &log.Logger,
		Timeout:         config.NetworkTimeout(),
		WaitForTakeover: config.WaitForTakeover,
	}, bus)

	ctx := context.Background()
	go func() {
		if err := agent.Run(ctx); err != nil && err != context.Canceled {
			log.Fatal().Err(err).Msg("Agent stopped")
		}
	}()

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"state":%q,"version":%q}`, agent.State(), agent.Version())
	})
	r.Handle("/*", agent)

	addr := fmt.Sprintf(":%d", config.Port)
	log.Info().
		Str("addr", addr).
		Str("origin", config.Origin).
		Str("version", config.Version).
		Msg("Starting offline caching agent")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

package offlinecache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gamble-king/offline-cache/cache"

	"github.com/rs/zerolog"
)

// AgentState is one of the lifecycle states of the caching agent.
type AgentState int32

const (
	// StateInstalling: the agent is pre-populating its cache generation.
	StateInstalling AgentState = iota
	// StateWaiting: installation is done but an older agent still controls
	// the origin; the agent waits for a takeover signal.
	StateWaiting
	// StateActive: the agent is authoritative; stale generations are gone.
	StateActive
	// StateSuperseded: a newer agent took over; this one does no more work.
	StateSuperseded
)

func (s AgentState) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	}
	return "unknown"
}

const defaultNetworkTimeout = 30 * time.Second

// Config configures a caching agent.
type Config struct {
	// Storage for cache entries.
	Cache cache.CacheProvider
	// URL of the origin server requests are forwarded to.
	OriginURL url.URL
	// Version is the version this agent was built with (the serverVersion of
	// the negotiation protocol).
	Version string
	// CachePrefix names the cache generations; the current generation is
	// "<CachePrefix>-<Version>".
	CachePrefix string
	// Routes are the path prefixes used for request classification.
	Routes Routes
	// Precache lists the critical assets fetched during installation.
	Precache []string
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Timeout bounds every network call. Defaults to 30 seconds.
	// A timed-out call is treated exactly like a network failure.
	Timeout time.Duration
	// WaitForTakeover keeps the agent in the waiting state after install
	// until a SKIP_WAITING message arrives.
	WaitForTakeover bool
}

// Agent is the caching agent: it intercepts requests from the foreground
// client, applies one of four caching strategies per request class, and
// answers version-negotiation messages. One agent instance owns exactly one
// cache generation.
type Agent struct {
	cache      cache.CacheProvider
	routes     Routes
	origin     url.URL
	version    string
	generation string
	precache   []string
	client     *http.Client
	bus        *Bus
	log        zerolog.Logger
	wait       bool

	mu            sync.Mutex
	state         AgentState
	skipRequested bool
}

// NewAgent initializes an agent. Call Run to install, activate and start
// serving messages.
func NewAgent(config Config, bus *Bus) *Agent {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	prefix := config.CachePrefix
	if prefix == "" {
		prefix = DefaultCachePrefix
	}
	routes := config.Routes
	if routes == (Routes{}) {
		routes = DefaultRoutes
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultNetworkTimeout
	}
	generation := prefix + "-" + config.Version

	logger = logger.With().
		Str("generation", generation).
		Logger()

	return &Agent{
		cache:      config.Cache,
		routes:     routes,
		origin:     config.OriginURL,
		version:    config.Version,
		generation: generation,
		precache:   config.Precache,
		client: &http.Client{
			Timeout: timeout,
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		bus:  bus,
		log:  logger,
		wait: config.WaitForTakeover,
	}
}

// Version returns the version the agent was built with.
func (a *Agent) Version() string {
	return a.version
}

// Generation returns the name of the cache generation this agent owns.
func (a *Agent) Generation() string {
	return a.generation
}

// State returns the current lifecycle state.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s AgentState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.log.Info().Str("state", s.String()).Msg("Agent state changed")
}

// Run installs the agent, activates it (unless configured to wait for a
// takeover signal) and then serves protocol messages until the context is
// canceled.
func (a *Agent) Run(ctx context.Context) error {
	a.Install(ctx)

	a.mu.Lock()
	skip := a.skipRequested
	a.mu.Unlock()
	if !a.wait || skip {
		if err := a.Activate(); err != nil {
			a.log.Error().Err(err).Msg("Could not activate")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-a.bus.Inbox():
			a.handleMessage(msg)
		}
	}
}

// Install pre-populates the agent's cache generation with the pre-cache
// manifest. A failed manifest fetch is logged and skipped; installation
// always completes.
func (a *Agent) Install(ctx context.Context) {
	a.setState(StateInstalling)
	for _, path := range a.precache {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			a.log.Warn().Err(err).Str("path", path).Msg("Invalid pre-cache path")
			continue
		}
		res, err := a.fetch(req)
		if err != nil {
			a.log.Warn().Err(err).Str("path", path).Msg("Could not pre-cache asset")
			continue
		}
		a.store(req, res)
		res.Body.Close()
		a.log.Trace().Str("path", path).Msg("Pre-cached asset")
	}
	a.setState(StateWaiting)
}

// Activate makes the agent authoritative for the origin. On entry it deletes
// every cache generation other than its own. Deletion must complete before
// the agent is trusted to serve from the current generation; this is the
// eviction barrier. Calling Activate more than once is safe.
func (a *Agent) Activate() error {
	generations, err := a.cache.Generations()
	if err != nil {
		return fmt.Errorf("list generations: %w", err)
	}
	for _, name := range generations {
		if name == a.generation {
			continue
		}
		if err := a.cache.DeleteGeneration(name); err != nil {
			return fmt.Errorf("delete stale generation %s: %w", name, err)
		}
		a.log.Debug().Str("stale", name).Msg("Deleted stale cache generation")
	}
	a.setState(StateActive)
	return nil
}

// Supersede marks the agent as replaced by a newer instance. A superseded
// agent performs no further work.
func (a *Agent) Supersede() {
	a.setState(StateSuperseded)
}

// handleMessage dispatches one protocol message. A failure while handling a
// message never crashes the agent, and an unknown or malformed message is
// treated as a no-op.
func (a *Agent) handleMessage(msg Message) {
	switch msg.Type {
	case MsgCheckVersion:
		a.checkVersion(msg.Version)
	case MsgSkipWaiting:
		a.skipWaiting()
	case MsgClearCache:
		err := a.cache.DeleteAll()
		if err != nil {
			a.log.Error().Err(err).Msg("Could not clear caches")
		} else {
			a.log.Info().Msg("Cleared all cache generations")
		}
		if msg.Reply != nil {
			select {
			case msg.Reply <- err:
			default:
			}
		}
	case MsgForceUpdate:
		// best-effort cleanup: the refresh is broadcast even if the
		// deletion failed
		if err := a.cache.DeleteAll(); err != nil {
			a.log.Error().Err(err).Msg("Could not clear caches for forced update")
		}
		a.log.Info().Msg("Forcing refresh of all foreground contexts")
		a.bus.Broadcast(Message{Type: MsgForceRefresh})
	default:
		a.log.Debug().Str("type", string(msg.Type)).Msg("Ignoring unknown message")
	}
}

// checkVersion compares the version reported by a foreground context with
// the agent's own. Equal versions produce no reply. An empty version is
// treated as "no update", never as an error.
func (a *Agent) checkVersion(installed string) {
	if installed == "" || installed == a.version {
		return
	}
	a.log.Info().
		Str("installed", installed).
		Str("server", a.version).
		Msg("Version mismatch, notifying foreground contexts")
	a.bus.Broadcast(Message{
		Type:             MsgNewVersion,
		Version:          a.version,
		InstalledVersion: installed,
	})
}

func (a *Agent) skipWaiting() {
	a.mu.Lock()
	a.skipRequested = true
	waiting := a.state == StateWaiting
	a.mu.Unlock()
	if waiting {
		if err := a.Activate(); err != nil {
			a.log.Error().Err(err).Msg("Could not activate on takeover signal")
		}
	}
}

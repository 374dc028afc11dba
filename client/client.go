// Package client implements the foreground side of the offline caching
// layer: the version-check heartbeat, the update prompt state machine with
// dismissal memory, and the update-apply sequence.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	offlinecache "github.com/gamble-king/offline-cache"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const clearCacheAckTimeout = 5 * time.Second

// Config configures a foreground client.
type Config struct {
	// Version is the version the page was loaded with (installedVersion).
	Version string
	// Bus connects the client to the caching agent.
	Bus *offlinecache.Bus
	// State persists the dismissal record and other client-side settings.
	State *StateStore
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// HeartbeatInterval between periodic version checks. Defaults to a minute.
	HeartbeatInterval time.Duration
	// ShowPrompt renders the update-available prompt for the given version.
	ShowPrompt func(version string)
	// Reload performs the full page reload that applies an update.
	Reload func()
	// Unregister tears down the current agent registration before reloading.
	Unregister func()
}

// Client is one foreground context. It periodically reports its version to
// the agent, reacts to update broadcasts, and drives the accept/dismiss/
// forced-refresh cycle.
type Client struct {
	version    string
	bus        *offlinecache.Bus
	state      *StateStore
	log        zerolog.Logger
	interval   time.Duration
	showPrompt func(string)
	reload     func()
	unregister func()

	// reloadRequested latches the first reload so repeated takeover signals
	// cannot cause a reload loop.
	reloadRequested atomic.Bool

	mu              sync.Mutex
	promptedVersion string
}

// NewClient initializes a foreground client. Call Run to start the heartbeat
// and message handling.
func NewClient(config Config) *Client {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("installed", config.Version).Logger()

	interval := config.HeartbeatInterval
	if interval == 0 {
		interval = time.Minute
	}
	noop := func() {}
	reload := config.Reload
	if reload == nil {
		reload = noop
	}
	unregister := config.Unregister
	if unregister == nil {
		unregister = noop
	}
	showPrompt := config.ShowPrompt
	if showPrompt == nil {
		showPrompt = func(string) {}
	}

	return &Client{
		version:    config.Version,
		bus:        config.Bus,
		state:      config.State,
		log:        logger,
		interval:   interval,
		showPrompt: showPrompt,
		reload:     reload,
		unregister: unregister,
	}
}

// Run subscribes to the agent, performs an immediate version check, starts
// the heartbeat and handles broadcasts until the context is canceled.
func (c *Client) Run(ctx context.Context) error {
	inbox, unsubscribe := c.bus.Subscribe()
	defer unsubscribe()

	c.CheckNow()

	scheduler := cron.New()
	_, err := scheduler.AddFunc(fmt.Sprintf("@every %s", c.interval), c.CheckNow)
	if err != nil {
		return fmt.Errorf("schedule heartbeat: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-inbox:
			c.handleMessage(msg)
		}
	}
}

// CheckNow sends a version check to the agent. It runs on the heartbeat and
// can be called directly, e.g. when the page regains visibility.
func (c *Client) CheckNow() {
	c.bus.Send(offlinecache.Message{
		Type:    offlinecache.MsgCheckVersion,
		Version: c.version,
	})
}

// OnVisible should be called when the page becomes visible again after being
// hidden; it triggers an immediate version check.
func (c *Client) OnVisible() {
	c.CheckNow()
}

// PromptedVersion returns the version an update prompt is currently shown
// for, or the empty string.
func (c *Client) PromptedVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.promptedVersion
}

func (c *Client) handleMessage(msg offlinecache.Message) {
	switch msg.Type {
	case offlinecache.MsgNewVersion:
		c.onNewVersion(msg.Version)
	case offlinecache.MsgForceRefresh:
		c.onForceRefresh()
	default:
		c.log.Debug().Str("type", string(msg.Type)).Msg("Ignoring unknown message")
	}
}

// onNewVersion decides whether to render the update prompt. A version the
// user already dismissed is suppressed, as is a duplicate broadcast for the
// version currently prompted. A malformed broadcast means "no update".
func (c *Client) onNewVersion(version string) {
	if version == "" {
		return
	}
	dismissed, err := c.state.DismissedVersion()
	if err != nil {
		c.log.Error().Err(err).Msg("Could not read dismissal record")
		dismissed = ""
	}
	if version == dismissed {
		c.log.Debug().Str("version", version).Msg("Update prompt suppressed by dismissal")
		return
	}
	c.mu.Lock()
	if c.promptedVersion == version {
		c.mu.Unlock()
		return
	}
	c.promptedVersion = version
	c.mu.Unlock()
	c.log.Info().Str("version", version).Msg("Update available, prompting")
	c.showPrompt(version)
}

// Accept applies the prompted update: it clears the dismissal record, asks
// the agent to delete every cache so the next agent installs from a clean
// state, unregisters the agent and reloads. Cleanup is best effort; the
// reload always proceeds.
func (c *Client) Accept() {
	c.mu.Lock()
	c.promptedVersion = ""
	c.mu.Unlock()

	if err := c.state.ClearDismissedVersion(); err != nil {
		c.log.Error().Err(err).Msg("Could not clear dismissal record")
	}

	reply := make(chan error, 1)
	c.bus.Send(offlinecache.Message{Type: offlinecache.MsgClearCache, Reply: reply})
	select {
	case err := <-reply:
		if err != nil {
			c.log.Error().Err(err).Msg("Cache clear failed, reloading anyway")
		}
	case <-time.After(clearCacheAckTimeout):
		c.log.Warn().Msg("No cache clear acknowledgement, reloading anyway")
	}

	c.unregister()
	c.requestReload()
}

// Dismiss records the prompted version so the prompt does not come back for
// it, and removes the prompt.
func (c *Client) Dismiss() {
	c.mu.Lock()
	version := c.promptedVersion
	c.promptedVersion = ""
	c.mu.Unlock()
	if version == "" {
		return
	}
	if err := c.state.SetDismissedVersion(version); err != nil {
		c.log.Error().Err(err).Msg("Could not persist dismissal record")
	}
	c.log.Info().Str("version", version).Msg("Update dismissed")
}

// onForceRefresh clears the dismissal record and reloads without prompting.
// This is the escape hatch for mandatory updates and bypasses user consent.
func (c *Client) onForceRefresh() {
	if err := c.state.ClearDismissedVersion(); err != nil {
		c.log.Error().Err(err).Msg("Could not clear dismissal record")
	}
	c.log.Info().Msg("Forced refresh requested")
	c.requestReload()
}

// requestReload performs the reload at most once per page lifetime.
func (c *Client) requestReload() {
	if !c.reloadRequested.CompareAndSwap(false, true) {
		c.log.Debug().Msg("Reload already in progress, ignoring")
		return
	}
	c.reload()
}

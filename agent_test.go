package offlinecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gamble-king/offline-cache/cache"

	"github.com/rs/zerolog"
)

func TestInstallPrecachesManifest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("asset for " + r.URL.Path))
	}))
	defer server.Close()
	originURL, _ := url.Parse(server.URL)
	provider := cache.NewMemCache()
	logger := zerolog.Nop()
	agent := NewAgent(Config{
		Cache:     provider,
		OriginURL: *originURL,
		Version:   "1.0.7",
		Precache:  []string{"/", "/static/js/app.js", "/manifest.json"},
		Logger:    &logger,
	}, NewBus())

	agent.Install(context.Background())

	keys, err := provider.Keys(agent.Generation())
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Fatalf("pre-cached %d assets: %v", len(keys), keys)
	}
	if agent.State() != StateWaiting {
		t.Fatalf("state is %s", agent.State())
	}
}

func TestInstallIsLenient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()
	originURL, _ := url.Parse(server.URL)
	provider := cache.NewMemCache()
	logger := zerolog.Nop()
	agent := NewAgent(Config{
		Cache:     provider,
		OriginURL: *originURL,
		Version:   "1.0.7",
		Precache:  []string{"/", "/missing.png", "/manifest.json"},
		Logger:    &logger,
	}, NewBus())

	// a failed manifest fetch must not abort installation
	agent.Install(context.Background())

	keys, err := provider.Keys(agent.Generation())
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("pre-cached %d assets: %v", len(keys), keys)
	}
	if agent.State() != StateWaiting {
		t.Fatalf("state is %s", agent.State())
	}
}

func TestActivateEvictionIsIdempotent(t *testing.T) {
	provider := cache.NewMemCache()
	// stale generations left behind by older agents
	provider.Put("gamble-king-cache-1.0.5", "GET /", []byte("old"))
	provider.Put("gamble-king-cache-1.0.6", "GET /", []byte("older"))
	provider.Put("gamble-king-cache-1.0.7", "GET /", []byte("current"))

	logger := zerolog.Nop()
	agent := NewAgent(Config{
		Cache:   provider,
		Version: "1.0.7",
		Logger:  &logger,
	}, NewBus())

	for i := 0; i < 2; i++ {
		if err := agent.Activate(); err != nil {
			t.Fatal(err)
		}
		generations, err := provider.Generations()
		if err != nil {
			t.Fatal(err)
		}
		if len(generations) != 1 || generations[0] != "gamble-king-cache-1.0.7" {
			t.Fatalf("generations after activate: %v", generations)
		}
	}
	if agent.State() != StateActive {
		t.Fatalf("state is %s", agent.State())
	}
}

func TestSkipWaitingMovesToActive(t *testing.T) {
	provider := cache.NewMemCache()
	logger := zerolog.Nop()
	bus := NewBus()
	agent := NewAgent(Config{
		Cache:           provider,
		Version:         "1.0.7",
		Logger:          &logger,
		WaitForTakeover: true,
	}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	waitForState(t, agent, StateWaiting)
	bus.Send(Message{Type: MsgSkipWaiting})
	waitForState(t, agent, StateActive)
}

func TestSupersededAgentStopsWorking(t *testing.T) {
	provider := cache.NewMemCache()
	logger := zerolog.Nop()
	agent := NewAgent(Config{
		Cache:   provider,
		Version: "1.0.6",
		Logger:  &logger,
	}, NewBus())

	agent.Supersede()
	if agent.State() != StateSuperseded {
		t.Fatalf("state is %s", agent.State())
	}
}

func waitForState(t *testing.T, agent *Agent, want AgentState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for agent.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state is %s, want %s", agent.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package offlinecache

import (
	"context"
	"testing"
	"time"

	"github.com/gamble-king/offline-cache/cache"

	"github.com/rs/zerolog"
)

func startProtocolAgent(t *testing.T, provider cache.CacheProvider, version string) (*Agent, *Bus) {
	t.Helper()
	logger := zerolog.Nop()
	bus := NewBus()
	agent := NewAgent(Config{
		Cache:   provider,
		Version: version,
		Logger:  &logger,
	}, bus)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go agent.Run(ctx)
	waitForState(t, agent, StateActive)
	return agent, bus
}

func expectMessage(t *testing.T, inbox <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-inbox:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func expectSilence(t *testing.T, inbox <-chan Message) {
	t.Helper()
	select {
	case msg := <-inbox:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCheckVersionMatchingVersionIsSilent(t *testing.T) {
	_, bus := startProtocolAgent(t, cache.NewMemCache(), "1.0.7")
	inbox, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Send(Message{Type: MsgCheckVersion, Version: "1.0.7"})
	expectSilence(t, inbox)
}

func TestCheckVersionMismatchBroadcastsNewVersion(t *testing.T) {
	_, bus := startProtocolAgent(t, cache.NewMemCache(), "1.0.7")
	inbox, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Send(Message{Type: MsgCheckVersion, Version: "1.0.6"})

	msg := expectMessage(t, inbox)
	if msg.Type != MsgNewVersion {
		t.Fatalf("message type is %s", msg.Type)
	}
	if msg.Version != "1.0.7" || msg.InstalledVersion != "1.0.6" {
		t.Fatalf("message is %+v", msg)
	}
}

func TestCheckVersionEmptyVersionIsNoUpdate(t *testing.T) {
	_, bus := startProtocolAgent(t, cache.NewMemCache(), "1.0.7")
	inbox, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Send(Message{Type: MsgCheckVersion})
	expectSilence(t, inbox)
}

func TestUnknownMessageIsIgnored(t *testing.T) {
	_, bus := startProtocolAgent(t, cache.NewMemCache(), "1.0.7")
	inbox, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Send(Message{Type: MessageType("GIBBERISH")})
	expectSilence(t, inbox)
}

func TestClearCacheDeletesAllGenerationsAndAcks(t *testing.T) {
	provider := cache.NewMemCache()
	agent, bus := startProtocolAgent(t, provider, "1.0.7")
	provider.Put(agent.Generation(), "GET /api/sessions", []byte("data"))
	// a stray stale generation must go too
	provider.Put("gamble-king-cache-1.0.6", "GET /", []byte("old"))

	reply := make(chan error, 1)
	bus.Send(Message{Type: MsgClearCache, Reply: reply})

	select {
	case err := <-reply:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no acknowledgement")
	}

	generations, err := provider.Generations()
	if err != nil {
		t.Fatal(err)
	}
	if len(generations) != 0 {
		t.Fatalf("generations remaining: %v", generations)
	}
}

func TestForceUpdateClearsCachesAndBroadcastsRefresh(t *testing.T) {
	provider := cache.NewMemCache()
	agent, bus := startProtocolAgent(t, provider, "1.0.7")
	provider.Put(agent.Generation(), "GET /", []byte("data"))
	inbox, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Send(Message{Type: MsgForceUpdate})

	msg := expectMessage(t, inbox)
	if msg.Type != MsgForceRefresh {
		t.Fatalf("message type is %s", msg.Type)
	}
	generations, err := provider.Generations()
	if err != nil {
		t.Fatal(err)
	}
	if len(generations) != 0 {
		t.Fatalf("generations remaining: %v", generations)
	}
}

func TestNewVersionBroadcastReachesAllClients(t *testing.T) {
	_, bus := startProtocolAgent(t, cache.NewMemCache(), "1.0.7")
	first, unsubFirst := bus.Subscribe()
	defer unsubFirst()
	second, unsubSecond := bus.Subscribe()
	defer unsubSecond()

	bus.Send(Message{Type: MsgCheckVersion, Version: "1.0.6"})

	if msg := expectMessage(t, first); msg.Type != MsgNewVersion {
		t.Fatalf("message type is %s", msg.Type)
	}
	if msg := expectMessage(t, second); msg.Type != MsgNewVersion {
		t.Fatalf("message type is %s", msg.Type)
	}
}

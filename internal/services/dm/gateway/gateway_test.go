package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emberhollow/gloomvale/internal/platform/logging"
	"github.com/emberhollow/gloomvale/internal/services/dm/domain/event"
	"github.com/emberhollow/gloomvale/internal/services/dm/eventbus"
)

func dialGateway(t *testing.T, bus *eventbus.Bus) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(New(bus, logging.Discard()).Handler())
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGatewayForwardsEventJSON(t *testing.T) {
	bus := eventbus.New(logging.Discard())
	defer bus.Close()

	conn := dialGateway(t, bus)

	// Give the server a moment to register the subscription before emitting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := bus.Emit(context.Background(), event.Event{
			Type:     event.TypeCombatHit,
			CombatID: "c1",
			Damage:   5,
			X:        4,
			Y:        9,
		}); err != nil {
			t.Fatalf("emit: %v", err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		var received event.Event
		if err := conn.ReadJSON(&received); err == nil {
			if received.Type != event.TypeCombatHit || received.CombatID != "c1" || received.Damage != 5 {
				t.Fatalf("unexpected event %+v", received)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no event received before deadline")
		}
	}
}

func TestGatewayMultipleObservers(t *testing.T) {
	bus := eventbus.New(logging.Discard())
	defer bus.Close()

	first := dialGateway(t, bus)
	second := dialGateway(t, bus)

	// Wait for both subscriptions to be live, then both observers must see
	// the same event.
	time.Sleep(100 * time.Millisecond)
	if err := bus.Emit(context.Background(), event.Event{Type: event.TypeCombatEnd, CombatID: "c2"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	for i, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var received event.Event
		if err := conn.ReadJSON(&received); err != nil {
			t.Fatalf("observer %d read: %v", i, err)
		}
		if received.Type != event.TypeCombatEnd || received.CombatID != "c2" {
			t.Fatalf("observer %d got %+v", i, received)
		}
	}
}

func TestGatewayServeStopsOnContextCancel(t *testing.T) {
	bus := eventbus.New(logging.Discard())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(bus, logging.Discard()).Serve(ctx, "127.0.0.1:0")
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop on cancel")
	}
}

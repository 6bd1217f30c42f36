package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		handler(conn)
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestFeedSubscribeDeliversTicks(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		var sub subscribeMessage
		conn.ReadJSON(&sub)
		tick, _ := json.Marshal(tickMessage{EventType: "tick", Symbol: "BTC-PERP", Bid: 99, Ask: 101, Last: 100})
		conn.WriteMessage(websocket.TextMessage, tick)
		time.Sleep(50 * time.Millisecond)
	})
	defer srv.Close()

	feed := NewFeed(wsURL(srv.URL), nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ch, err := feed.Subscribe(ctx, []string{"BTC-PERP"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case data := <-ch:
		if data.Symbol != "BTC-PERP" || data.Mid != 100 {
			t.Errorf("data = %+v, want symbol BTC-PERP mid 100", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestFeedChannelClosesOnDisconnect(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(conn *websocket.Conn) {
		var sub subscribeMessage
		conn.ReadJSON(&sub)
		conn.Close()
	})
	defer srv.Close()

	feed := NewFeed(wsURL(srv.URL), nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ch, err := feed.Subscribe(ctx, []string{"BTC-PERP"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close without delivering a tick")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

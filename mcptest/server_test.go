package mcptest_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/mindbound/mcplite"
	"github.com/mindbound/mcplite/mcptest"
)

// openStream connects to an SSE endpoint and feeds its events to a channel.
func openStream(t *testing.T, client *http.Client, url string) <-chan sse.Event {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	events := make(chan sse.Event, 8)
	go func() {
		defer close(events)
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				return
			}
			events <- ev
		}
	}()

	return events
}

func nextEvent(t *testing.T, events <-chan sse.Event) sse.Event {
	t.Helper()

	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("Stream closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for event")
	}
	return sse.Event{}
}

func TestServerSession(t *testing.T) {
	srv := mcptest.NewServer(mcptest.Config{
		Info: mcplite.Info{Name: "scripted", Version: "0.0.1"},
	})
	mux := http.NewServeMux()
	mux.Handle("/sse", srv.HandleSSE())
	mux.Handle("/message", srv.HandleMessage())
	testServer := httptest.NewServer(mux)
	t.Cleanup(testServer.Close)

	events := openStream(t, testServer.Client(), testServer.URL+"/sse")

	announce := nextEvent(t, events)
	if announce.Type != "endpoint" {
		t.Fatalf("Wrong event type. Got %q, want %q", announce.Type, "endpoint")
	}
	if !strings.Contains(announce.Data, "sessionID=") {
		t.Fatalf("Expected a session id in the endpoint, got %q", announce.Data)
	}

	var sessID string
	select {
	case sessID = <-srv.Connected():
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for session registration")
	}

	resp, err := testServer.Client().Post(
		testServer.URL+announce.Data,
		"application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`),
	)
	if err != nil {
		t.Fatalf("failed to post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("Wrong status. Got %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	reply := nextEvent(t, events)
	var msg mcplite.JSONRPCMessage
	if err := json.Unmarshal([]byte(reply.Data), &msg); err != nil {
		t.Fatalf("failed to unmarshal reply: %v", err)
	}
	if msg.ID.String() != "1" || string(msg.Result) != "{}" {
		t.Errorf("Wrong ping reply. Got %s", reply.Data)
	}

	if _, ok := srv.WaitFor(func(msg mcplite.JSONRPCMessage) bool {
		return msg.Method == "ping"
	}, 2*time.Second); !ok {
		t.Error("Expected the ping to be recorded")
	}

	if err := srv.Notify(sessID, "notifications/tools/list_changed", nil); err != nil {
		t.Fatalf("failed to notify: %v", err)
	}
	pushed := nextEvent(t, events)
	if !strings.Contains(pushed.Data, "notifications/tools/list_changed") {
		t.Errorf("Wrong pushed frame. Got %s", pushed.Data)
	}
}

func TestServerCustomEndpoint(t *testing.T) {
	srv := mcptest.NewServer(mcptest.Config{}, mcptest.WithMessageEndpoint("/rpc"))
	mux := http.NewServeMux()
	mux.Handle("/sse", srv.HandleSSE())
	mux.Handle("/rpc", srv.HandleMessage())
	testServer := httptest.NewServer(mux)
	t.Cleanup(testServer.Close)

	events := openStream(t, testServer.Client(), testServer.URL+"/sse")

	announce := nextEvent(t, events)
	if !strings.HasPrefix(announce.Data, "/rpc?sessionID=") {
		t.Errorf("Wrong endpoint. Got %q, want a /rpc path", announce.Data)
	}
}

func TestServerRejectsUnknownSession(t *testing.T) {
	srv := mcptest.NewServer(mcptest.Config{})
	testServer := httptest.NewServer(srv.HandleMessage())
	defer testServer.Close()

	resp, err := testServer.Client().Post(
		testServer.URL+"/message?sessionID=nope",
		"application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`),
	)
	if err != nil {
		t.Fatalf("failed to post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Wrong status. Got %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

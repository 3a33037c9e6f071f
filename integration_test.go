package mcplite_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mindbound/mcplite"
	"github.com/mindbound/mcplite/mcptest"
)

// startServer mounts a scripted server on an httptest server with the SSE
// stream at /sse and the message endpoint at /message.
func startServer(t *testing.T, cfg mcptest.Config) (*mcptest.Server, string, *http.Client) {
	t.Helper()

	srv := mcptest.NewServer(cfg)
	mux := http.NewServeMux()
	mux.Handle("/sse", srv.HandleSSE())
	mux.Handle("/message", srv.HandleMessage())

	testServer := httptest.NewServer(mux)
	t.Cleanup(testServer.Close)

	return srv, testServer.URL + "/sse", testServer.Client()
}

func TestIntegration_FullSession(t *testing.T) {
	cfg := mcptest.Config{
		Info:         mcplite.Info{Name: "calc-server", Version: "0.2.0"},
		Instructions: "use the add tool",
		Tools: []mcplite.Tool{
			{Name: "add", Description: "Adds two numbers", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
		CallResults: map[string]*mcplite.CallToolResult{
			"add": {Content: []mcplite.Content{{Type: mcplite.ContentTypeText, Text: "3"}}},
		},
		Resources: []mcplite.Resource{
			{URI: "mem://greeting", Name: "greeting"},
		},
		ResourceContents: map[string][]mcplite.ResourceContents{
			"mem://greeting": {{URI: "mem://greeting", MimeType: "text/plain", Text: "hello"}},
		},
		ResourceTemplates: []mcplite.ResourceTemplate{
			{URITemplate: "mem://{name}", Name: "memory"},
		},
		Prompts: []mcplite.Prompt{
			{Name: "greet", Arguments: []mcplite.PromptArgument{{Name: "name", Required: true}}},
		},
		PromptResults: map[string]*mcplite.GetPromptResult{
			"greet": {
				Description: "A greeting",
				Messages: []mcplite.PromptMessage{
					{Role: mcplite.RoleUser, Content: mcplite.Content{Type: mcplite.ContentTypeText, Text: "hello bob"}},
				},
			},
		},
		CompleteValues: []string{"alpha", "beta"},
	}
	srv, connectURL, httpClient := startServer(t, cfg)

	transport := mcplite.NewSSEClient(connectURL, httpClient)
	c := mcplite.NewClient(
		mcplite.Info{Name: "integration-client", Version: "1.0.0"},
		transport,
		mcplite.WithRequestTimeout(5*time.Second),
	)

	events := make(chan mcplite.Event, 16)
	for _, name := range []mcplite.EventName{
		mcplite.EventConnect,
		mcplite.EventDisconnect,
		mcplite.EventToolListChanged,
		mcplite.EventResourceUpdated,
		mcplite.EventProgress,
		mcplite.EventMessage,
	} {
		c.On(name, func(ev mcplite.Event) { events <- ev })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Disconnect()

	connectEv, ok := waitEvent(t, events).(mcplite.ConnectEvent)
	if !ok {
		t.Fatal("Expected ConnectEvent")
	}
	if connectEv.Result.ServerInfo.Name != "calc-server" {
		t.Errorf("Wrong server name. Got %q, want %q", connectEv.Result.ServerInfo.Name, "calc-server")
	}
	if got := c.Instructions(); got != "use the add tool" {
		t.Errorf("Wrong instructions. Got %q", got)
	}
	if caps := c.ServerCapabilities(); caps.Tools == nil || caps.Resources == nil || caps.Prompts == nil {
		t.Errorf("Expected tools, resources, and prompts capabilities, got %+v", caps)
	}

	var sessID string
	select {
	case sessID = <-srv.Connected():
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for server session")
	}

	// Tools.
	tools, err := c.ListTools(ctx)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "add" {
		t.Fatalf("Wrong tools. Got %+v", tools)
	}

	callRes, err := c.CallTool(ctx, "add", map[string]int{"a": 1, "b": 2}, mcplite.WithProgress())
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	if len(callRes.Content) != 1 || callRes.Content[0].Text != "3" {
		t.Errorf("Wrong call result. Got %+v", callRes.Content)
	}

	// The scripted server echoes two progress updates for the token.
	for i := 0; i < 2; i++ {
		ev := waitEvent(t, events)
		progressEv, ok := ev.(mcplite.ProgressEvent)
		if !ok {
			t.Fatalf("Wrong event type. Got %T, want ProgressEvent", ev)
		}
		if progressEv.Params.ProgressToken == "" {
			t.Error("Expected a non-empty progress token")
		}
	}

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("failed to ping: %v", err)
	}

	// Resources.
	resources, err := c.ListResources(ctx)
	if err != nil {
		t.Fatalf("failed to list resources: %v", err)
	}
	if len(resources) != 1 || resources[0].URI != "mem://greeting" {
		t.Fatalf("Wrong resources. Got %+v", resources)
	}

	contents, err := c.ReadResource(ctx, "mem://greeting")
	if err != nil {
		t.Fatalf("failed to read resource: %v", err)
	}
	if len(contents) != 1 || contents[0].Text != "hello" {
		t.Errorf("Wrong contents. Got %+v", contents)
	}

	if _, err := c.ReadResource(ctx, "mem://missing"); err == nil {
		t.Error("Expected an error reading a missing resource")
	}

	templates, err := c.ListResourceTemplates(ctx)
	if err != nil {
		t.Fatalf("failed to list resource templates: %v", err)
	}
	if len(templates) != 1 || templates[0].URITemplate != "mem://{name}" {
		t.Errorf("Wrong templates. Got %+v", templates)
	}

	if err := c.SubscribeResource(ctx, "mem://greeting"); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	err = srv.Notify(sessID, "notifications/resources/updated", map[string]string{"uri": "mem://greeting"})
	if err != nil {
		t.Fatalf("failed to notify: %v", err)
	}
	updatedEv, ok := waitEvent(t, events).(mcplite.ResourceUpdatedEvent)
	if !ok {
		t.Fatal("Expected ResourceUpdatedEvent")
	}
	if updatedEv.URI != "mem://greeting" {
		t.Errorf("Wrong URI. Got %q", updatedEv.URI)
	}

	if err := c.UnsubscribeResource(ctx, "mem://greeting"); err != nil {
		t.Fatalf("failed to unsubscribe: %v", err)
	}

	// Prompts and completion.
	prompts, err := c.ListPrompts(ctx)
	if err != nil {
		t.Fatalf("failed to list prompts: %v", err)
	}
	if len(prompts) != 1 || prompts[0].Name != "greet" {
		t.Fatalf("Wrong prompts. Got %+v", prompts)
	}

	prompt, err := c.GetPrompt(ctx, "greet", map[string]string{"name": "bob"})
	if err != nil {
		t.Fatalf("failed to get prompt: %v", err)
	}
	if len(prompt.Messages) != 1 || prompt.Messages[0].Content.Text != "hello bob" {
		t.Errorf("Wrong prompt. Got %+v", prompt)
	}

	completion, err := c.Complete(ctx,
		mcplite.CompletionRef{Type: mcplite.CompletionRefPrompt, Name: "greet"},
		mcplite.CompletionArgument{Name: "name", Value: "b"},
	)
	if err != nil {
		t.Fatalf("failed to complete: %v", err)
	}
	if len(completion.Completion.Values) != 2 || completion.Completion.Values[0] != "alpha" {
		t.Errorf("Wrong completion. Got %+v", completion.Completion.Values)
	}

	// Logging.
	if err := c.SetLogLevel(ctx, mcplite.LogLevelWarning); err != nil {
		t.Fatalf("failed to set log level: %v", err)
	}
	err = srv.Notify(sessID, "notifications/message", mcplite.LogParams{
		Level: mcplite.LogLevelError,
		Data:  json.RawMessage(`{"msg":"something broke"}`),
	})
	if err != nil {
		t.Fatalf("failed to notify: %v", err)
	}
	logEv, ok := waitEvent(t, events).(mcplite.LogMessageEvent)
	if !ok {
		t.Fatal("Expected LogMessageEvent")
	}
	if logEv.Params.Level != mcplite.LogLevelError {
		t.Errorf("Wrong level. Got %s", logEv.Params.Level)
	}

	// Server-initiated ping is answered without surfacing anything.
	if err := srv.Request(sessID, "srv-ping-1", "ping", nil); err != nil {
		t.Fatalf("failed to send server ping: %v", err)
	}
	reply, ok := srv.WaitFor(func(msg mcplite.JSONRPCMessage) bool {
		return msg.Method == "" && msg.ID.String() == "srv-ping-1"
	}, 2*time.Second)
	if !ok {
		t.Fatal("Timeout waiting for ping reply")
	}
	if string(reply.Result) != "{}" {
		t.Errorf("Wrong ping reply. Got %s", reply.Result)
	}

	// A batched frame delivers its elements in order.
	batch := `[{"jsonrpc":"2.0","method":"notifications/tools/list_changed"},` +
		`{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":{}}}]`
	if err := srv.PushRaw(sessID, batch); err != nil {
		t.Fatalf("failed to push batch: %v", err)
	}
	if _, ok := waitEvent(t, events).(mcplite.ToolListChangedEvent); !ok {
		t.Error("Expected ToolListChangedEvent")
	}
	if _, ok := waitEvent(t, events).(mcplite.LogMessageEvent); !ok {
		t.Error("Expected LogMessageEvent")
	}

	c.Disconnect()
	if _, ok := waitEvent(t, events).(mcplite.DisconnectEvent); !ok {
		t.Error("Expected DisconnectEvent")
	}
	if got := c.State(); got != mcplite.StateDisconnected {
		t.Errorf("Wrong state. Got %s, want %s", got, mcplite.StateDisconnected)
	}
}

func TestIntegration_ServerHandlers(t *testing.T) {
	srv, connectURL, httpClient := startServer(t, mcptest.Config{
		Info: mcplite.Info{Name: "probe-server", Version: "0.1.0"},
	})

	transport := mcplite.NewSSEClient(connectURL, httpClient)
	c := mcplite.NewClient(
		mcplite.Info{Name: "integration-client", Version: "1.0.0"},
		transport,
		mcplite.WithRootsListHandler(func(context.Context) ([]mcplite.Root, error) {
			return []mcplite.Root{{URI: "file:///workspace", Name: "workspace"}}, nil
		}),
		mcplite.WithSamplingHandler(func(_ context.Context, params mcplite.SamplingParams) (mcplite.SamplingResult, error) {
			return mcplite.SamplingResult{
				Role:    mcplite.RoleAssistant,
				Content: mcplite.SamplingContent{Type: mcplite.ContentTypeText, Text: "echo: " + params.Messages[0].Content.Text},
				Model:   "tiny-1",
			}, nil
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Disconnect()

	var sessID string
	select {
	case sessID = <-srv.Connected():
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for server session")
	}

	// The handshake must have declared both capabilities.
	init, ok := srv.WaitFor(func(msg mcplite.JSONRPCMessage) bool {
		return msg.Method == "initialize"
	}, 2*time.Second)
	if !ok {
		t.Fatal("Timeout waiting for initialize")
	}
	if !strings.Contains(string(init.Params), `"roots"`) || !strings.Contains(string(init.Params), `"sampling"`) {
		t.Errorf("Expected declared capabilities in params, got %s", init.Params)
	}

	if err := srv.Request(sessID, 101, "roots/list", nil); err != nil {
		t.Fatalf("failed to request roots: %v", err)
	}
	rootsReply, ok := srv.WaitFor(func(msg mcplite.JSONRPCMessage) bool {
		return msg.Method == "" && msg.ID.String() == "101"
	}, 2*time.Second)
	if !ok {
		t.Fatal("Timeout waiting for roots reply")
	}
	var roots mcplite.RootList
	if err := json.Unmarshal(rootsReply.Result, &roots); err != nil {
		t.Fatalf("failed to unmarshal roots: %v", err)
	}
	if len(roots.Roots) != 1 || roots.Roots[0].URI != "file:///workspace" {
		t.Errorf("Wrong roots. Got %+v", roots.Roots)
	}

	err := srv.Request(sessID, "samp-1", "sampling/createMessage", mcplite.SamplingParams{
		Messages:  []mcplite.SamplingMessage{{Role: mcplite.RoleUser, Content: mcplite.SamplingContent{Type: mcplite.ContentTypeText, Text: "hi"}}},
		MaxTokens: 16,
	})
	if err != nil {
		t.Fatalf("failed to request sampling: %v", err)
	}
	samplingReply, ok := srv.WaitFor(func(msg mcplite.JSONRPCMessage) bool {
		return msg.Method == "" && msg.ID.String() == "samp-1"
	}, 2*time.Second)
	if !ok {
		t.Fatal("Timeout waiting for sampling reply")
	}
	var sampled mcplite.SamplingResult
	if err := json.Unmarshal(samplingReply.Result, &sampled); err != nil {
		t.Fatalf("failed to unmarshal sampling result: %v", err)
	}
	if sampled.Content.Text != "echo: hi" {
		t.Errorf("Wrong sampled text. Got %q", sampled.Content.Text)
	}
}

func TestIntegration_ScriptedError(t *testing.T) {
	_, connectURL, httpClient := startServer(t, mcptest.Config{
		Info: mcplite.Info{Name: "faulty-server", Version: "0.1.0"},
		Errors: map[string]*mcplite.JSONRPCError{
			"tools/call": {Code: -32000, Message: "tool exploded"},
		},
	})

	transport := mcplite.NewSSEClient(connectURL, httpClient)
	c := mcplite.NewClient(mcplite.Info{Name: "integration-client", Version: "1.0.0"}, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Disconnect()

	_, err := c.CallTool(ctx, "add", nil)
	if err == nil {
		t.Fatal("Expected an error")
	}
	var rpcErr *mcplite.JSONRPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Expected a JSONRPCError in the chain, got %v", err)
	}
	if rpcErr.Code != -32000 || rpcErr.Message != "tool exploded" {
		t.Errorf("Wrong error. Got %+v", rpcErr)
	}
}

func TestIntegration_DroppedResponseTimesOut(t *testing.T) {
	_, connectURL, httpClient := startServer(t, mcptest.Config{
		Info:        mcplite.Info{Name: "mute-server", Version: "0.1.0"},
		DropMethods: map[string]bool{"ping": true},
	})

	transport := mcplite.NewSSEClient(connectURL, httpClient)
	c := mcplite.NewClient(
		mcplite.Info{Name: "integration-client", Version: "1.0.0"},
		transport,
		mcplite.WithRequestTimeout(300*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.Ping(ctx); !errors.Is(err, mcplite.ErrRequestTimeout) {
		t.Fatalf("Wrong error. Got %v, want %v", err, mcplite.ErrRequestTimeout)
	}

	// The session survives the timeout.
	if got := c.State(); got != mcplite.StateReady {
		t.Errorf("Wrong state. Got %s, want %s", got, mcplite.StateReady)
	}
	if _, err := c.ListTools(ctx); err != nil {
		t.Errorf("Expected the session to stay usable, got %v", err)
	}
}

func TestIntegration_GarbageResponse(t *testing.T) {
	_, connectURL, httpClient := startServer(t, mcptest.Config{
		Info: mcplite.Info{Name: "noisy-server", Version: "0.1.0"},
		RawResponses: map[string]string{
			"tools/list": `this is not json`,
		},
	})

	transport := mcplite.NewSSEClient(connectURL, httpClient)
	c := mcplite.NewClient(
		mcplite.Info{Name: "integration-client", Version: "1.0.0"},
		transport,
		mcplite.WithRequestTimeout(300*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Disconnect()

	// The garbage frame is discarded, so the request runs into its deadline
	// rather than crashing the session.
	if _, err := c.ListTools(ctx); !errors.Is(err, mcplite.ErrRequestTimeout) {
		t.Fatalf("Wrong error. Got %v, want %v", err, mcplite.ErrRequestTimeout)
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Expected the session to stay usable, got %v", err)
	}
}

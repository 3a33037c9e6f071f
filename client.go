package mcplite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by client operations.
var (
	// ErrNotConnected is returned when an RPC operation is invoked while the
	// client is not in StateReady. The operation fails locally; nothing is sent.
	ErrNotConnected = errors.New("not connected")

	// ErrRequestTimeout is returned when a request receives no response within
	// its deadline. Only that call fails; the session stays ready.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrSessionClosed is returned for calls still pending when the session
	// ends.
	ErrSessionClosed = errors.New("session closed")
)

var (
	defaultRequestTimeout       = 30 * time.Second
	defaultPingInterval         = 30 * time.Second
	defaultPingTimeoutThreshold = 3
)

// SamplingHandler produces a sampled model message for a server-initiated
// sampling/createMessage request. Without one configured, such requests are
// surfaced as events and left unanswered.
type SamplingHandler func(ctx context.Context, params SamplingParams) (SamplingResult, error)

// RootsListHandler supplies the client's roots for a server-initiated
// roots/list request. Without one configured, the server receives an empty
// list.
type RootsListHandler func(ctx context.Context) ([]Root, error)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// WithLogger sets the logger used for protocol-level diagnostics.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRequestTimeout sets the default deadline for request completion. It
// can be overridden per call with WithCallTimeout. Defaults to 30 seconds.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.requestTimeout = timeout
	}
}

// WithPingInterval sets the interval between keepalive pings. Defaults to 30
// seconds.
func WithPingInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.pingInterval = interval
	}
}

// WithPingTimeoutThreshold sets the number of consecutive ping failures the
// client tolerates before it closes the session. Defaults to 3.
func WithPingTimeoutThreshold(threshold int) ClientOption {
	return func(c *Client) {
		c.pingTimeoutThreshold = threshold
	}
}

// WithSamplingHandler sets the handler servicing server-initiated sampling
// requests, and declares the sampling capability during the handshake.
func WithSamplingHandler(handler SamplingHandler) ClientOption {
	return func(c *Client) {
		c.samplingHandler = handler
	}
}

// WithRootsListHandler sets the handler supplying the client's roots, and
// declares the roots capability during the handshake.
func WithRootsListHandler(handler RootsListHandler) ClientOption {
	return func(c *Client) {
		c.rootsListHandler = handler
	}
}

// Client implements a Model Context Protocol (MCP) client: it drives the
// connection handshake over a Transport, correlates responses to outstanding
// requests, routes server notifications and server-initiated requests, and
// exposes the protocol's operations. It monitors connection health through
// periodic pings.
//
// A Client must be created using NewClient and connected with Connect before
// any RPC operation can be performed. One Client carries one connection and
// one session; after Disconnect, or after a failed Connect, a fresh Client is
// required.
type Client struct {
	info      Info
	transport Transport
	logger    *slog.Logger

	requestTimeout       time.Duration
	pingInterval         time.Duration
	pingTimeoutThreshold int

	samplingHandler  SamplingHandler
	rootsListHandler RootsListHandler
	capabilities     ClientCapabilities

	nextID  atomic.Int64
	pending *pendingCalls
	events  *emitter

	mu                 sync.Mutex
	state              ConnState
	serverInfo         Info
	serverCapabilities ServerCapabilities
	instructions       string
	sessionCtx         context.Context
	cancelSession      context.CancelFunc
}

// NewClient creates a new Model Context Protocol (MCP) client with the given
// identity and transport.
//
// Optional behaviors are configured through ClientOption functions: handlers
// for server-initiated sampling and roots requests, the default request
// timeout, and logging. The declared client capabilities are derived from the
// configured handlers.
//
// The client is not connected until Connect is called.
func NewClient(info Info, transport Transport, options ...ClientOption) *Client {
	c := &Client{
		info:      info,
		transport: transport,
		logger:    slog.Default(),
		pending:   newPendingCalls(),
		events:    newEmitter(),
		state:     StateIdle,
	}
	for _, opt := range options {
		opt(c)
	}

	if c.requestTimeout == 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.pingInterval == 0 {
		c.pingInterval = defaultPingInterval
	}
	if c.pingTimeoutThreshold == 0 {
		c.pingTimeoutThreshold = defaultPingTimeoutThreshold
	}

	if c.rootsListHandler != nil {
		c.capabilities.Roots = &RootsCapability{}
	}
	if c.samplingHandler != nil {
		c.capabilities.Sampling = &SamplingCapability{}
	}

	return c
}

// On registers a handler for the named event. Any number of handlers may be
// registered per name; they run synchronously in registration order when the
// event is emitted.
func (c *Client) On(name EventName, handler Handler) {
	c.events.on(name, handler)
}

// State returns the client's connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerInfo returns the server identity negotiated during the handshake.
func (c *Client) ServerInfo() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// ServerCapabilities returns the capabilities the server declared during the
// handshake. They are stored opaquely; the client does not gate operations on
// them.
func (c *Client) ServerCapabilities() ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCapabilities
}

// Instructions returns the usage instructions the server supplied during the
// handshake, if any.
func (c *Client) Instructions() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instructions
}

// Connect establishes the session and performs the protocol handshake: it
// opens the transport's inbound subscription, waits for the transport to
// become ready, exchanges initialize/initialized, and emits a connect event
// carrying the negotiated result.
//
// The context bounds the handshake only; the session itself lives until
// Disconnect or until the server closes the stream. Connect is valid once,
// from StateIdle. Any failure moves the client to StateFailed, emits an error
// event, and is returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot connect in state %s", state)
	}
	c.state = StateConnecting
	sessCtx, cancel := context.WithCancel(context.Background())
	c.sessionCtx = sessCtx
	c.cancelSession = cancel
	c.mu.Unlock()

	ready := make(chan error, 1)
	msgs, err := c.transport.StartSession(sessCtx, ready)
	if err != nil {
		err = fmt.Errorf("failed to start session: %w", err)
		c.failConnect(err)
		return err
	}

	c.setState(StateAwaitingEndpoint)

	select {
	case err := <-ready:
		if err != nil {
			err = fmt.Errorf("failed to establish stream: %w", err)
			c.failConnect(err)
			return err
		}
	case <-ctx.Done():
		err := fmt.Errorf("failed to establish stream: %w", ctx.Err())
		c.failConnect(err)
		return err
	}

	c.setState(StateInitializing)
	go c.listenMessages(msgs)

	result, err := c.initialize(ctx)
	if err != nil {
		c.failConnect(err)
		return err
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.instructions = result.Instructions
	c.mu.Unlock()

	if err := c.sendNotification(ctx, methodNotificationsInitialized, nil); err != nil {
		err = fmt.Errorf("failed to send initialized notification: %w", err)
		c.failConnect(err)
		return err
	}

	c.setState(StateReady)
	c.events.emit(ConnectEvent{Result: result})

	go c.keepalive(sessCtx)

	return nil
}

// Disconnect closes the session: the inbound subscription is cancelled, calls
// still pending fail with ErrSessionClosed, and a disconnect event is emitted.
// It is idempotent; calling it again, or on a client that never connected, is
// a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	cancel := c.cancelSession
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.pending.failAll(ErrSessionClosed)
	c.events.emit(DisconnectEvent{})
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, methodPing, nil, 0)
	return err
}

// ListTools retrieves the tools the server exposes.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	res, err := c.request(ctx, MethodToolsList, struct{}{}, 0)
	if err != nil {
		return nil, err
	}

	var result listToolsResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tools list: %w", err)
	}
	return result.Tools, nil
}

// CallOption configures a single tool call.
type CallOption func(*callOptions)

type callOptions struct {
	progress bool
	timeout  time.Duration
}

// WithProgress attaches a unique progress token to the call, allowing the
// server to emit correlated progress notifications, surfaced through the
// progress event.
func WithProgress() CallOption {
	return func(o *callOptions) {
		o.progress = true
	}
}

// WithCallTimeout overrides the client's default request timeout for one call.
func WithCallTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = timeout
	}
}

// CallTool invokes the named tool with the given arguments, which are
// marshaled to JSON. It returns the full call result; a tool-level failure is
// reported through the result's IsError, while a protocol-level error fails
// the call.
func (c *Client) CallTool(ctx context.Context, name string, args any, options ...CallOption) (*CallToolResult, error) {
	var opts callOptions
	for _, opt := range options {
		opt(&opts)
	}

	params := callToolParams{Name: name}
	if args != nil {
		argsBs, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal arguments: %w", err)
		}
		params.Arguments = argsBs
	}
	if opts.progress {
		// Token uniqueness comes from uuid, never from the clock; request IDs
		// stay on the monotonic counter.
		params.Meta = &paramsMeta{ProgressToken: ProgressToken(uuid.NewString())}
	}

	res, err := c.request(ctx, MethodToolsCall, params, opts.timeout)
	if err != nil {
		return nil, err
	}

	var result CallToolResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call result: %w", err)
	}
	return &result, nil
}

// ListResources retrieves the resources the server exposes.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	res, err := c.request(ctx, MethodResourcesList, struct{}{}, 0)
	if err != nil {
		return nil, err
	}

	var result listResourcesResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resources list: %w", err)
	}
	return result.Resources, nil
}

// ReadResource retrieves the contents of the resource identified by uri.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]ResourceContents, error) {
	res, err := c.request(ctx, MethodResourcesRead, readResourceParams{URI: uri}, 0)
	if err != nil {
		return nil, err
	}

	var result readResourceResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resource contents: %w", err)
	}
	return result.Contents, nil
}

// ListResourceTemplates retrieves the resource templates the server exposes.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	res, err := c.request(ctx, MethodResourcesTemplatesList, struct{}{}, 0)
	if err != nil {
		return nil, err
	}

	var result listResourceTemplatesResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resource templates: %w", err)
	}
	return result.Templates, nil
}

// SubscribeResource registers for update notifications about the resource
// identified by uri, surfaced through the resource updated event.
func (c *Client) SubscribeResource(ctx context.Context, uri string) error {
	_, err := c.request(ctx, MethodResourcesSubscribe, subscribeResourceParams{URI: uri}, 0)
	return err
}

// UnsubscribeResource cancels update notifications for the resource
// identified by uri.
func (c *Client) UnsubscribeResource(ctx context.Context, uri string) error {
	_, err := c.request(ctx, MethodResourcesUnsubscribe, subscribeResourceParams{URI: uri}, 0)
	return err
}

// ListPrompts retrieves the prompts the server exposes.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	res, err := c.request(ctx, MethodPromptsList, struct{}{}, 0)
	if err != nil {
		return nil, err
	}

	var result listPromptsResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts list: %w", err)
	}
	return result.Prompts, nil
}

// GetPrompt retrieves the named prompt rendered with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*GetPromptResult, error) {
	res, err := c.request(ctx, MethodPromptsGet, getPromptParams{Name: name, Arguments: args}, 0)
	if err != nil {
		return nil, err
	}

	var result GetPromptResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompt: %w", err)
	}
	return &result, nil
}

// Complete requests completion suggestions for a prompt or resource template
// argument.
func (c *Client) Complete(ctx context.Context, ref CompletionRef, argument CompletionArgument) (*CompletionResult, error) {
	res, err := c.request(ctx, MethodCompletionComplete, completeParams{Ref: ref, Argument: argument}, 0)
	if err != nil {
		return nil, err
	}

	var result CompletionResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal completion: %w", err)
	}
	return &result, nil
}

// SetLogLevel sets the minimum severity of the log messages the server pushes
// through the message event.
func (c *Client) SetLogLevel(ctx context.Context, level LogLevel) error {
	_, err := c.request(ctx, MethodLoggingSetLevel, setLogLevelParams{Level: level}, 0)
	return err
}

// request performs one correlated RPC round trip for the public operations:
// it fails fast outside StateReady, sends exactly one request, and returns
// the raw result payload.
func (c *Client) request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}

	res, err := c.sendRequest(ctx, method, params, timeout)
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, fmt.Errorf("result error: %w", res.Error)
	}
	return res.Result, nil
}

func (c *Client) requireReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return fmt.Errorf("%w: client state is %s", ErrNotConnected, c.state)
	}
	return nil
}

// sendRequest assigns the next request ID, registers the pending call, sends
// the request, and blocks until the response, the timeout, or the context
// resolves it.
func (c *Client) sendRequest(ctx context.Context, method string, params any, timeout time.Duration) (JSONRPCMessage, error) {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return JSONRPCMessage{}, fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = paramsBs
	}

	id := c.nextID.Add(1)
	msg.ID = NewRequestID(id)
	key := strconv.FormatInt(id, 10)

	if timeout <= 0 {
		timeout = c.requestTimeout
	}

	type outcome struct {
		msg JSONRPCMessage
		err error
	}
	results := make(chan outcome, 1)
	c.pending.register(key, timeout, func(res JSONRPCMessage, err error) {
		results <- outcome{msg: res, err: err}
	})

	if err := c.send(ctx, msg); err != nil {
		c.pending.forget(key)
		return JSONRPCMessage{}, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case out := <-results:
		if out.err != nil {
			return JSONRPCMessage{}, out.err
		}
		return out.msg, nil
	case <-ctx.Done():
		c.pending.forget(key)
		return JSONRPCMessage{}, ctx.Err()
	}
}

func (c *Client) initialize(ctx context.Context) (InitializeResult, error) {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
	}

	res, err := c.sendRequest(ctx, methodInitialize, params, c.requestTimeout)
	if err != nil {
		return InitializeResult{}, fmt.Errorf("failed to send initialize request: %w", err)
	}
	if res.Error != nil {
		return InitializeResult{}, fmt.Errorf("initialize error: %w", res.Error)
	}

	// The negotiated protocol version is stored as an opaque value, not
	// validated.
	var result InitializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return InitializeResult{}, fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}

	return result, nil
}

// listenMessages is the dispatch loop: every inbound payload is handled to
// completion, one at a time, before the next is read.
func (c *Client) listenMessages(msgs iter.Seq[[]byte]) {
	for payload := range msgs {
		if st := c.State(); st == StateDisconnected || st == StateFailed {
			// Drain without dispatching so the transport goroutine can exit.
			continue
		}
		c.handlePayload(payload)
	}

	c.onStreamEnd()
}

func (c *Client) handlePayload(payload []byte) {
	raws, err := splitPayload(payload)
	if err != nil {
		c.logger.Error("failed to parse inbound payload", "err", err)
		return
	}

	for _, raw := range raws {
		var msg JSONRPCMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Error("failed to unmarshal message", "err", err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg JSONRPCMessage) {
	switch msg.kind() {
	case kindResponse:
		if !c.pending.resolve(msg.ID.String(), msg) {
			c.logger.Debug("discarding response with no pending request", "id", msg.ID.String())
		}
	case kindNotification:
		c.handleNotification(msg)
	case kindRequest:
		c.handleServerRequest(msg)
	default:
		c.logger.Warn("discarding malformed message", "method", msg.Method, "id", msg.ID.String())
	}
}

func (c *Client) handleNotification(msg JSONRPCMessage) {
	switch msg.Method {
	case methodNotificationsResourcesListChanged:
		c.events.emit(ResourceListChangedEvent{})
	case methodNotificationsResourcesUpdated:
		var params resourceUpdatedParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Error("failed to unmarshal resource updated params", "err", err)
			return
		}
		c.events.emit(ResourceUpdatedEvent{URI: params.URI})
	case methodNotificationsToolsListChanged:
		c.events.emit(ToolListChangedEvent{})
	case methodNotificationsPromptsListChanged:
		c.events.emit(PromptListChangedEvent{})
	case methodNotificationsProgress:
		var params ProgressParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Error("failed to unmarshal progress params", "err", err)
			return
		}
		c.events.emit(ProgressEvent{Params: params})
	case methodNotificationsMessage:
		var params LogParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Error("failed to unmarshal log params", "err", err)
			return
		}
		c.events.emit(LogMessageEvent{Params: params})
	default:
		c.logger.Warn("unrecognized notification method", "method", msg.Method)
	}
}

func (c *Client) handleServerRequest(msg JSONRPCMessage) {
	ctx := c.sessionContext()

	switch msg.Method {
	case methodPing:
		if err := c.sendResult(ctx, msg.ID, json.RawMessage("{}")); err != nil {
			c.logger.Error("failed to reply to ping", "err", err)
		}
	case MethodSamplingCreateMessage:
		c.handleSamplingRequest(ctx, msg)
	case MethodRootsList:
		c.handleRootsListRequest(ctx, msg)
	default:
		err := c.sendError(ctx, msg.ID, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: errMsgMethodNotFound,
		})
		if err != nil {
			c.logger.Error("failed to reply to unknown method", "method", msg.Method, "err", err)
		}
	}
}

// handleSamplingRequest surfaces the request as an event. Without a sampling
// handler there is deliberately no default reply: the engine cannot
// synthesize model output, and an application that does not support sampling
// leaves the request unanswered.
func (c *Client) handleSamplingRequest(ctx context.Context, msg JSONRPCMessage) {
	var params SamplingParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.logger.Error("failed to unmarshal sampling params", "err", err)
		return
	}

	c.events.emit(SamplingRequestEvent{ID: msg.ID, Params: params})

	if c.samplingHandler == nil {
		return
	}

	result, err := c.samplingHandler(ctx, params)
	if err != nil {
		c.logger.Error("sampling handler failed", "err", err)
		if sErr := c.sendError(ctx, msg.ID, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: errMsgInternalError,
		}); sErr != nil {
			c.logger.Error("failed to reply to sampling request", "err", sErr)
		}
		return
	}

	if err := c.sendResult(ctx, msg.ID, result); err != nil {
		c.logger.Error("failed to reply to sampling request", "err", err)
	}
}

// handleRootsListRequest emits the event and always replies, so the server
// gets a response even when the application does nothing: the configured
// handler's roots, or an empty list.
func (c *Client) handleRootsListRequest(ctx context.Context, msg JSONRPCMessage) {
	c.events.emit(RootsListRequestEvent{ID: msg.ID})

	roots := []Root{}
	if c.rootsListHandler != nil {
		var err error
		roots, err = c.rootsListHandler(ctx)
		if err != nil {
			c.logger.Error("roots list handler failed", "err", err)
			if sErr := c.sendError(ctx, msg.ID, JSONRPCError{
				Code:    jsonRPCInternalErrorCode,
				Message: errMsgInternalError,
			}); sErr != nil {
				c.logger.Error("failed to reply to roots list request", "err", sErr)
			}
			return
		}
		if roots == nil {
			roots = []Root{}
		}
	}

	if err := c.sendResult(ctx, msg.ID, RootList{Roots: roots}); err != nil {
		c.logger.Error("failed to reply to roots list request", "err", err)
	}
}

// keepalive monitors server health through periodic pings. Consecutive
// failures beyond the threshold end the session the same way a lost stream
// does.
func (c *Client) keepalive(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	failedPings := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Ping(ctx); err != nil {
				if errors.Is(err, ErrNotConnected) {
					return
				}
				c.logger.Error("failed to ping server", "err", err)
				failedPings++
				if failedPings > c.pingTimeoutThreshold {
					c.onPingsExhausted(failedPings)
					return
				}
				continue
			}
			failedPings = 0
		}
	}
}

// onPingsExhausted tears down a session whose server stopped answering pings.
func (c *Client) onPingsExhausted(failedPings int) {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	cancel := c.cancelSession
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.pending.failAll(ErrSessionClosed)
	c.events.emit(ErrorEvent{Err: fmt.Errorf("too many ping failures: %d", failedPings)})
	c.events.emit(DisconnectEvent{})
}

// onStreamEnd runs when the inbound subscription ends. A stream that dies
// while the session is ready tears the session down as if disconnected, after
// surfacing the loss as an error event.
func (c *Client) onStreamEnd() {
	c.mu.Lock()
	state := c.state
	if state == StateReady {
		c.state = StateDisconnected
	}
	cancel := c.cancelSession
	c.mu.Unlock()

	switch state {
	case StateReady:
		if cancel != nil {
			cancel()
		}
		c.pending.failAll(ErrSessionClosed)
		c.events.emit(ErrorEvent{Err: errors.New("server closed the stream")})
		c.events.emit(DisconnectEvent{})
	case StateConnecting, StateAwaitingEndpoint, StateInitializing:
		// The connect path owns the state transition; failing the pending
		// initialize is enough to unblock it.
		c.pending.failAll(ErrSessionClosed)
	default:
		c.pending.failAll(ErrSessionClosed)
	}
}

// failConnect moves a failing handshake to StateFailed and surfaces the error
// event, unless a concurrent Disconnect already ended the session.
func (c *Client) failConnect(err error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	cancel := c.cancelSession
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.pending.failAll(ErrSessionClosed)
	c.events.emit(ErrorEvent{Err: err})
}

func (c *Client) setState(state ConnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Client) sessionContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionCtx == nil {
		return context.Background()
	}
	return c.sessionCtx
}

// send marshals and delivers one envelope, bounding the write with the
// request timeout so a stalled transport cannot hang the dispatch loop.
func (c *Client) send(ctx context.Context, msg JSONRPCMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	sCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	return c.transport.Send(sCtx, payload)
}

func (c *Client) sendNotification(ctx context.Context, method string, params any) error {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = paramsBs
	}

	if err := c.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

func (c *Client) sendResult(ctx context.Context, id *RequestID, result any) error {
	resBs, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	}

	if err := c.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send result: %w", err)
	}
	return nil
}

func (c *Client) sendError(ctx context.Context, id *RequestID, rpcErr JSONRPCError) error {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &rpcErr,
	}

	if err := c.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send error: %w", err)
	}
	return nil
}

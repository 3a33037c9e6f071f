// Package mcptest provides a scriptable in-process Model Context Protocol
// (MCP) server speaking the SSE transport. It serves canned tools, resources,
// and prompts from a Config, records every message a client sends, and can
// push arbitrary frames down the stream, which makes client behavior
// observable end to end in tests.
package mcptest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/mindbound/mcplite"
)

const (
	methodInitialize     = "initialize"
	methodPing           = "ping"
	notificationProgress = "notifications/progress"
)

// Config scripts the server's behavior. The zero value is a server with no
// tools, resources, or prompts that still completes the handshake.
type Config struct {
	// Info identifies the server during the handshake.
	Info mcplite.Info
	// Instructions is returned verbatim in the initialize result.
	Instructions string

	// Tools is served by tools/list. CallResults maps a tool name to the
	// canned result tools/call returns for it; tools without an entry get a
	// plain text "ok" result.
	Tools       []mcplite.Tool
	CallResults map[string]*mcplite.CallToolResult

	// Resources is served by resources/list, ResourceContents keys
	// resources/read replies by URI, and ResourceTemplates is served by
	// resources/templates/list.
	Resources         []mcplite.Resource
	ResourceContents  map[string][]mcplite.ResourceContents
	ResourceTemplates []mcplite.ResourceTemplate

	// Prompts is served by prompts/list. PromptResults maps a prompt name to
	// the canned prompts/get reply; prompts without an entry get a single user
	// message naming the prompt.
	Prompts       []mcplite.Prompt
	PromptResults map[string]*mcplite.GetPromptResult

	// CompleteValues is returned for every completion/complete request.
	CompleteValues []string

	// Delays postpones the reply to a method. Errors scripts an error reply
	// for a method, DropMethods suppresses the reply entirely, and
	// RawResponses short-circuits the computed reply with a verbatim frame.
	Delays       map[string]time.Duration
	Errors       map[string]*mcplite.JSONRPCError
	DropMethods  map[string]bool
	RawResponses map[string]string
}

// Option is a function that configures a server.
type Option func(*Server)

// WithLogger sets the logger used by the server's handlers.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMessageEndpoint sets the endpoint announced to connecting clients,
// "/message" when unset. A relative endpoint is resolved by the client
// against the stream URL, so the message handler must be mounted on the same
// host at this path.
func WithMessageEndpoint(endpoint string) Option {
	return func(s *Server) {
		s.messageEndpoint = endpoint
	}
}

// Server is an in-process MCP server over SSE. Mount HandleSSE where clients
// connect and HandleMessage at the announced message endpoint.
type Server struct {
	cfg             Config
	logger          *slog.Logger
	messageEndpoint string

	connected chan string

	mu       sync.Mutex
	sessions map[string]*session
	received []mcplite.JSONRPCMessage
}

type session struct {
	id   string
	msgs chan *sse.Message
	done chan struct{}
}

// NewServer creates a server scripted by cfg.
func NewServer(cfg Config, options ...Option) *Server {
	s := &Server{
		cfg:             cfg,
		logger:          slog.Default(),
		messageEndpoint: "/message",
		connected:       make(chan string, 4),
		sessions:        make(map[string]*session),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Connected yields the ID of each session as its endpoint announcement
// completes. The channel is buffered; unconsumed IDs are dropped.
func (s *Server) Connected() <-chan string {
	return s.connected
}

// Received returns a snapshot of every message posted to the server so far,
// in arrival order.
func (s *Server) Received() []mcplite.JSONRPCMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mcplite.JSONRPCMessage, len(s.received))
	copy(out, s.received)
	return out
}

// WaitFor polls the received messages until one satisfies pred or the timeout
// elapses.
func (s *Server) WaitFor(pred func(mcplite.JSONRPCMessage) bool, timeout time.Duration) (mcplite.JSONRPCMessage, bool) {
	deadline := time.Now().Add(timeout)
	for {
		for _, msg := range s.Received() {
			if pred(msg) {
				return msg, true
			}
		}
		if time.Now().After(deadline) {
			return mcplite.JSONRPCMessage{}, false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Push sends one message down the session's stream.
func (s *Server) Push(sessionID string, msg mcplite.JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.PushRaw(sessionID, string(msgBs))
}

// PushRaw sends data verbatim as one message event on the session's stream.
// It is the hook for feeding a client frames no well-formed server would
// produce, batches included.
func (s *Server) PushRaw(sessionID, data string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session: %s", sessionID)
	}

	msg := &sse.Message{
		Type: sse.Type("message"),
	}
	msg.AppendData(data)

	select {
	case sess.msgs <- msg:
		return nil
	case <-sess.done:
		return fmt.Errorf("session is closed")
	}
}

// Notify sends a notification with the given method and params to the session.
func (s *Server) Notify(sessionID, method string, params any) error {
	msg := mcplite.JSONRPCMessage{
		JSONRPC: mcplite.JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = paramsBs
	}
	return s.Push(sessionID, msg)
}

// Request sends a server-initiated request with the given ID, method, and
// params to the session. The client's reply arrives through Received.
func (s *Server) Request(sessionID string, id any, method string, params any) error {
	msg := mcplite.JSONRPCMessage{
		JSONRPC: mcplite.JSONRPCVersion,
		ID:      mcplite.NewRequestID(id),
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = paramsBs
	}
	return s.Push(sessionID, msg)
}

// HandleSSE returns the http.Handler for the SSE stream. It upgrades the
// connection, assigns a session ID, announces the message endpoint, and keeps
// the stream open until the client goes away.
func (s *Server) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		sessID := uuid.NewString()

		endpoint := fmt.Sprintf("%s?sessionID=%s", s.messageEndpoint, sessID)
		msg := sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(endpoint)
		if err := sess.Send(&msg); err != nil {
			s.logger.Error("failed to write endpoint event", "err", err)
			return
		}
		if err := sess.Flush(); err != nil {
			s.logger.Error("failed to flush endpoint event", "err", err)
			return
		}

		cs := &session{
			id:   sessID,
			msgs: make(chan *sse.Message, 16),
			done: make(chan struct{}),
		}
		s.mu.Lock()
		s.sessions[sessID] = cs
		s.mu.Unlock()

		defer func() {
			close(cs.done)
			s.mu.Lock()
			delete(s.sessions, sessID)
			s.mu.Unlock()
		}()

		select {
		case s.connected <- sessID:
		default:
		}

		// All writes to this session go through the msgs channel so they are
		// serialized on the handler goroutine.
		for {
			select {
			case <-r.Context().Done():
				return
			case m := <-cs.msgs:
				if err := sess.Send(m); err != nil {
					s.logger.Warn("failed to send message", "err", err)
					return
				}
				if err := sess.Flush(); err != nil {
					s.logger.Warn("failed to flush message", "err", err)
					return
				}
			}
		}
	})
}

// HandleMessage returns the http.Handler for the message endpoint. Posted
// messages are recorded and answered per the Config; replies to
// server-initiated requests are recorded only.
func (s *Server) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		sess, ok := s.sessions[sessID]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "unknown session", http.StatusBadRequest)
			return
		}

		var msg mcplite.JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, fmt.Sprintf("failed to decode message: %v", err), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()

		w.WriteHeader(http.StatusAccepted)

		go s.reply(sess, msg)
	})
}

func (s *Server) reply(sess *session, msg mcplite.JSONRPCMessage) {
	// A message without a method is the client's reply to a server-initiated
	// request; there is nothing to answer.
	if msg.Method == "" {
		return
	}

	if s.cfg.DropMethods[msg.Method] {
		return
	}
	if delay := s.cfg.Delays[msg.Method]; delay > 0 {
		time.Sleep(delay)
	}
	if raw, ok := s.cfg.RawResponses[msg.Method]; ok {
		if err := s.PushRaw(sess.id, raw); err != nil {
			s.logger.Warn("failed to push raw response", "err", err)
		}
		return
	}
	if rpcErr, ok := s.cfg.Errors[msg.Method]; ok {
		s.respondError(sess, msg.ID, *rpcErr)
		return
	}

	// Notifications get no reply.
	if msg.ID.IsNil() {
		return
	}

	switch msg.Method {
	case methodInitialize:
		s.respondResult(sess, msg.ID, s.initializeResult(msg.Params))
	case methodPing:
		s.respondResult(sess, msg.ID, struct{}{})
	case mcplite.MethodToolsList:
		s.respondResult(sess, msg.ID, toolsListResult{Tools: s.cfg.Tools})
	case mcplite.MethodToolsCall:
		s.replyToolCall(sess, msg)
	case mcplite.MethodResourcesList:
		s.respondResult(sess, msg.ID, resourcesListResult{Resources: s.cfg.Resources})
	case mcplite.MethodResourcesRead:
		s.replyResourceRead(sess, msg)
	case mcplite.MethodResourcesTemplatesList:
		s.respondResult(sess, msg.ID, resourceTemplatesListResult{Templates: s.cfg.ResourceTemplates})
	case mcplite.MethodResourcesSubscribe, mcplite.MethodResourcesUnsubscribe:
		s.respondResult(sess, msg.ID, struct{}{})
	case mcplite.MethodPromptsList:
		s.respondResult(sess, msg.ID, promptsListResult{Prompts: s.cfg.Prompts})
	case mcplite.MethodPromptsGet:
		s.replyPromptGet(sess, msg)
	case mcplite.MethodCompletionComplete:
		var result mcplite.CompletionResult
		result.Completion.Values = s.cfg.CompleteValues
		s.respondResult(sess, msg.ID, result)
	case mcplite.MethodLoggingSetLevel:
		s.respondResult(sess, msg.ID, struct{}{})
	default:
		s.respondError(sess, msg.ID, mcplite.JSONRPCError{
			Code:    -32601,
			Message: "Method not found",
		})
	}
}

func (s *Server) initializeResult(params json.RawMessage) mcplite.InitializeResult {
	// Echo the protocol version the client asked for.
	var p struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Warn("failed to unmarshal initialize params", "err", err)
	}

	caps := mcplite.ServerCapabilities{
		Logging: &mcplite.LoggingCapability{},
	}
	if len(s.cfg.Tools) > 0 {
		caps.Tools = &mcplite.ToolsCapability{ListChanged: true}
	}
	if len(s.cfg.Resources) > 0 {
		caps.Resources = &mcplite.ResourcesCapability{Subscribe: true, ListChanged: true}
	}
	if len(s.cfg.Prompts) > 0 {
		caps.Prompts = &mcplite.PromptsCapability{ListChanged: true}
	}

	return mcplite.InitializeResult{
		ProtocolVersion: p.ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      s.cfg.Info,
		Instructions:    s.cfg.Instructions,
	}
}

func (s *Server) replyToolCall(sess *session, msg mcplite.JSONRPCMessage) {
	var params struct {
		Name string `json:"name"`
		Meta struct {
			ProgressToken mcplite.ProgressToken `json:"progressToken"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.respondError(sess, msg.ID, mcplite.JSONRPCError{
			Code:    -32602,
			Message: "Invalid params",
		})
		return
	}

	// A call carrying a progress token gets progress updates before the
	// result, echoing the token back.
	if params.Meta.ProgressToken != "" {
		for _, progress := range []float64{0.5, 1} {
			err := s.Notify(sess.id, notificationProgress, mcplite.ProgressParams{
				ProgressToken: params.Meta.ProgressToken,
				Progress:      progress,
				Total:         1,
			})
			if err != nil {
				s.logger.Warn("failed to send progress", "err", err)
			}
		}
	}

	if result, ok := s.cfg.CallResults[params.Name]; ok {
		s.respondResult(sess, msg.ID, result)
		return
	}
	s.respondResult(sess, msg.ID, mcplite.CallToolResult{
		Content: []mcplite.Content{{Type: mcplite.ContentTypeText, Text: "ok"}},
	})
}

func (s *Server) replyResourceRead(sess *session, msg mcplite.JSONRPCMessage) {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.respondError(sess, msg.ID, mcplite.JSONRPCError{
			Code:    -32602,
			Message: "Invalid params",
		})
		return
	}

	contents, ok := s.cfg.ResourceContents[params.URI]
	if !ok {
		s.respondError(sess, msg.ID, mcplite.JSONRPCError{
			Code:    -32002,
			Message: "Resource not found",
		})
		return
	}
	s.respondResult(sess, msg.ID, resourceReadResult{Contents: contents})
}

func (s *Server) replyPromptGet(sess *session, msg mcplite.JSONRPCMessage) {
	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.respondError(sess, msg.ID, mcplite.JSONRPCError{
			Code:    -32602,
			Message: "Invalid params",
		})
		return
	}

	if result, ok := s.cfg.PromptResults[params.Name]; ok {
		s.respondResult(sess, msg.ID, result)
		return
	}
	s.respondResult(sess, msg.ID, mcplite.GetPromptResult{
		Messages: []mcplite.PromptMessage{
			{
				Role:    mcplite.RoleUser,
				Content: mcplite.Content{Type: mcplite.ContentTypeText, Text: params.Name},
			},
		},
	})
}

func (s *Server) respondResult(sess *session, id *mcplite.RequestID, result any) {
	resBs, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to marshal result", "err", err)
		return
	}

	msg := mcplite.JSONRPCMessage{
		JSONRPC: mcplite.JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	}
	if err := s.Push(sess.id, msg); err != nil {
		s.logger.Warn("failed to push result", "err", err)
	}
}

func (s *Server) respondError(sess *session, id *mcplite.RequestID, rpcErr mcplite.JSONRPCError) {
	msg := mcplite.JSONRPCMessage{
		JSONRPC: mcplite.JSONRPCVersion,
		ID:      id,
		Error:   &rpcErr,
	}
	if err := s.Push(sess.id, msg); err != nil {
		s.logger.Warn("failed to push error", "err", err)
	}
}

type toolsListResult struct {
	Tools []mcplite.Tool `json:"tools"`
}

type resourcesListResult struct {
	Resources []mcplite.Resource `json:"resources"`
}

type resourceReadResult struct {
	Contents []mcplite.ResourceContents `json:"contents"`
}

type resourceTemplatesListResult struct {
	Templates []mcplite.ResourceTemplate `json:"resourceTemplates"`
}

type promptsListResult struct {
	Prompts []mcplite.Prompt `json:"prompts"`
}

package mcplite

// EventName identifies a class of protocol event subscribable through Client.On.
type EventName string

// Event names surfaced by the client.
const (
	EventConnect             EventName = "connect"
	EventDisconnect          EventName = "disconnect"
	EventError               EventName = "error"
	EventResourceListChanged EventName = "resourceListChanged"
	EventResourceUpdated     EventName = "resourceUpdated"
	EventToolListChanged     EventName = "toolListChanged"
	EventPromptListChanged   EventName = "promptListChanged"
	EventProgress            EventName = "progress"
	EventMessage             EventName = "message"
	EventSamplingRequest     EventName = "samplingRequest"
	EventRootsListRequest    EventName = "rootsListRequest"
)

// Event is implemented by every payload delivered to subscribed handlers.
// Handlers registered for an event name receive the concrete type listed with
// that name below and can type-assert accordingly.
type Event interface {
	// Name returns the event name this payload is published under.
	Name() EventName
}

// ConnectEvent is emitted once when the handshake completes, carrying the full
// negotiated initialize result.
type ConnectEvent struct {
	Result InitializeResult
}

// DisconnectEvent is emitted exactly once when the session ends.
type DisconnectEvent struct{}

// ErrorEvent is emitted on connection-level failures.
type ErrorEvent struct {
	Err error
}

// ResourceListChangedEvent signals that the server's resource list changed.
type ResourceListChangedEvent struct{}

// ResourceUpdatedEvent signals that a subscribed resource changed.
type ResourceUpdatedEvent struct {
	URI string
}

// ToolListChangedEvent signals that the server's tool list changed.
type ToolListChangedEvent struct{}

// PromptListChangedEvent signals that the server's prompt list changed.
type PromptListChangedEvent struct{}

// ProgressEvent carries a progress update for a long-running request.
type ProgressEvent struct {
	Params ProgressParams
}

// LogMessageEvent carries a log message pushed by the server.
type LogMessageEvent struct {
	Params LogParams
}

// SamplingRequestEvent surfaces a server-initiated sampling/createMessage
// request. The engine itself never answers it; a client configured with
// WithSamplingHandler replies with the handler's result.
type SamplingRequestEvent struct {
	ID     *RequestID
	Params SamplingParams
}

// RootsListRequestEvent surfaces a server-initiated roots/list request. The
// server always receives a reply: the configured roots handler's result, or an
// empty list when none is set.
type RootsListRequestEvent struct {
	ID *RequestID
}

func (ConnectEvent) Name() EventName             { return EventConnect }
func (DisconnectEvent) Name() EventName          { return EventDisconnect }
func (ErrorEvent) Name() EventName               { return EventError }
func (ResourceListChangedEvent) Name() EventName { return EventResourceListChanged }
func (ResourceUpdatedEvent) Name() EventName     { return EventResourceUpdated }
func (ToolListChangedEvent) Name() EventName     { return EventToolListChanged }
func (PromptListChangedEvent) Name() EventName   { return EventPromptListChanged }
func (ProgressEvent) Name() EventName            { return EventProgress }
func (LogMessageEvent) Name() EventName          { return EventMessage }
func (SamplingRequestEvent) Name() EventName     { return EventSamplingRequest }
func (RootsListRequestEvent) Name() EventName    { return EventRootsListRequest }

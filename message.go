package mcplite

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RequestID represents a JSON-RPC message ID, which the wire format allows to be
// either a string or a number. The original JSON type is preserved across
// unmarshal/marshal so a reply always carries the ID in the exact form the peer
// sent it.
type RequestID struct {
	value any
}

// NewRequestID creates a RequestID from a string or integer value. Unsupported
// types produce a nil ID.
func NewRequestID(value any) *RequestID {
	switch v := value.(type) {
	case string, int, int32, int64, uint, uint32, uint64, float64:
		return &RequestID{value: v}
	default:
		return &RequestID{value: nil}
	}
}

// String returns the canonical string form of the ID, used as the correlation key.
func (id *RequestID) String() string {
	if id == nil || id.value == nil {
		return ""
	}
	return fmt.Sprintf("%v", id.value)
}

// IsNil reports whether the ID is absent.
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

// Value returns the underlying string or numeric value, nil when absent.
func (id *RequestID) Value() any {
	if id == nil {
		return nil
	}
	return id.value
}

// MarshalJSON implements json.Marshaler, emitting the ID with its original type.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler, accepting string and number IDs.
// A JSON null decodes as an absent ID.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		id.value = nil
		return nil
	}

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}

	return fmt.Errorf("id must be a string or number, got: %s", string(data))
}

// JSONRPCMessage represents a JSON-RPC 2.0 message. Which fields are populated
// determines what the message is:
//   - Request: JSONRPC, ID, Method, and optionally Params are set
//   - Notification: JSONRPC and Method are set, ID is absent
//   - Response: JSONRPC, ID, and exactly one of Result or Error are set
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification.
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs; absent on notifications.
	ID *RequestID `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications.
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON value.
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON value.
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed.
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error object in a JSON-RPC 2.0 response. It
// implements the error interface so a failed call surfaces the code and message
// directly to its caller.
type JSONRPCError struct {
	// Code indicates the error type that occurred. Standard JSON-RPC error codes
	// or custom codes outside the reserved range.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional unstructured information about the error.
	Data map[string]any `json:"data,omitempty"`
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s", j.Code, j.Message)
}

type msgKind int

const (
	kindMalformed msgKind = iota
	kindRequest
	kindNotification
	kindResponse
)

// kind classifies a decoded message into the closed set of shapes the dispatch
// loop switches over. Every shape violation collapses into kindMalformed, which
// is logged and discarded rather than treated as fatal.
func (m JSONRPCMessage) kind() msgKind {
	if m.JSONRPC != JSONRPCVersion {
		return kindMalformed
	}

	hasResult := len(m.Result) > 0
	hasError := m.Error != nil

	if m.Method != "" {
		// Requests and notifications never carry result or error.
		if hasResult || hasError {
			return kindMalformed
		}
		if m.ID.IsNil() {
			return kindNotification
		}
		return kindRequest
	}

	// A response correlates by ID and carries exactly one of result or error.
	if m.ID.IsNil() {
		return kindMalformed
	}
	if hasResult == hasError {
		return kindMalformed
	}
	return kindResponse
}

// splitPayload breaks one stream payload into individual raw envelopes. A JSON
// array is a batch: its elements are returned in array order so each can be
// decoded and handled independently. Anything else passes through as a single
// envelope.
func splitPayload(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	if trimmed[0] != '[' {
		return []json.RawMessage{data}, nil
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}
	return batch, nil
}

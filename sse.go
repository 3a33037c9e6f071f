package mcplite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/tmaxmax/go-sse"
)

// SSEClient implements Transport over a Server-Sent Events stream for
// server-to-client push and HTTP POST for client-to-server delivery. The
// server announces the POST address through an "endpoint" stream event; until
// one arrives, sends fall back to a default derived from the connect URL.
// Instances should be created using NewSSEClient.
type SSEClient struct {
	httpClient *http.Client
	connectURL string
	logger     *slog.Logger

	maxPayloadSize int

	// messageURL is set once by the endpoint event and permanently overrides
	// the default send address for the lifetime of the connection.
	mu         sync.Mutex
	messageURL string

	payloads chan []byte
}

// SSEClientOption represents the options for the SSEClient.
type SSEClientOption func(*SSEClient)

// WithSSEClientMaxPayloadSize caps the size of a single stream event. Events
// exceeding the limit terminate the stream with an error.
func WithSSEClientMaxPayloadSize(size int) SSEClientOption {
	return func(s *SSEClient) {
		s.maxPayloadSize = size
	}
}

// WithSSEClientLogger sets the logger used for stream-level diagnostics.
func WithSSEClientLogger(logger *slog.Logger) SSEClientOption {
	return func(s *SSEClient) {
		s.logger = logger
	}
}

// NewSSEClient creates an SSE transport that connects to the given URL. The
// optional httpClient parameter allows custom HTTP client configuration; if
// nil, the default HTTP client is used.
func NewSSEClient(connectURL string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	s := &SSEClient{
		connectURL: connectURL,
		httpClient: cli,
		logger:     slog.Default(),
		payloads:   make(chan []byte),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// StartSession implements Transport. It issues the GET that opens the stream
// and consumes it on a background goroutine until the context is cancelled or
// the server closes the connection. The ready channel resolves when the
// endpoint announcement arrives.
func (s *SSEClient) StartSession(ctx context.Context, ready chan<- error) (iter.Seq[[]byte], error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.connectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSE server: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	go s.listenSSEMessages(resp.Body, ready)

	return s.listenPayloads(), nil
}

// Send implements Transport by POSTing the payload to the message endpoint.
// Any 2xx status is accepted; some servers acknowledge with 202.
func (s *SSEClient) Send(ctx context.Context, payload []byte) error {
	addr, err := s.sendAddress()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// sendAddress returns the announced message endpoint, or the default derived
// from the connect URL when no endpoint event ever arrived.
func (s *SSEClient) sendAddress() (string, error) {
	s.mu.Lock()
	addr := s.messageURL
	s.mu.Unlock()

	if addr != "" {
		return addr, nil
	}

	base, err := url.Parse(s.connectURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse connect URL: %w", err)
	}
	base.Path = "/message"
	base.RawQuery = ""
	return base.String(), nil
}

func (s *SSEClient) listenSSEMessages(body io.ReadCloser, ready chan<- error) {
	announced := false
	defer func() {
		body.Close()
		close(s.payloads)
		if !announced {
			// The connect path is still waiting on ready; unblock it.
			ready <- errors.New("stream closed before endpoint announcement")
		}
	}()

	var config *sse.ReadConfig
	if s.maxPayloadSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: s.maxPayloadSize,
		}
	}

	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Error("failed to read SSE message", "err", err)
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			if announced {
				s.logger.Warn("ignoring duplicate endpoint event", "data", ev.Data)
				continue
			}

			addr, err := s.resolveEndpoint(ev.Data)
			if err != nil {
				ready <- err
				announced = true
				return
			}

			s.mu.Lock()
			s.messageURL = addr
			s.mu.Unlock()

			announced = true
			close(ready)
		case "message":
			// Messages before the endpoint announcement would belong to a
			// session the server has not finished establishing; drop them.
			if !announced {
				s.logger.Error("received message before endpoint event")
				continue
			}

			s.payloads <- []byte(ev.Data)
		default:
			s.logger.Error("unhandled event type", "type", ev.Type)
		}
	}
}

// resolveEndpoint parses the announced endpoint and resolves it against the
// connect URL, so servers may announce a relative path.
func (s *SSEClient) resolveEndpoint(data string) (string, error) {
	ref, err := url.Parse(data)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	if ref.String() == "" {
		return "", errors.New("empty endpoint URL")
	}

	base, err := url.Parse(s.connectURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse connect URL: %w", err)
	}

	return base.ResolveReference(ref).String(), nil
}

func (s *SSEClient) listenPayloads() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for payload := range s.payloads {
			if !yield(payload) {
				return
			}
		}
	}
}

package mcplite

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
)

// StdIO implements Transport over newline-delimited JSON on an
// io.Reader/io.Writer pair, typically the stdin/stdout of a subprocess server.
// There is no endpoint handshake on a pipe, so the session is ready as soon as
// it starts. Instances should be created using NewStdIO.
type StdIO struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writes   chan stdIOWrite
	payloads chan []byte
}

type stdIOWrite struct {
	payload []byte
	errs    chan error
}

// StdIOOption represents the options for the StdIO transport.
type StdIOOption func(*StdIO)

// WithStdIOLogger sets the logger used for transport-level diagnostics.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.logger = logger
	}
}

// NewStdIO creates a StdIO transport reading server messages from reader and
// writing client messages to writer.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) *StdIO {
	s := &StdIO{
		reader:   reader,
		writer:   writer,
		logger:   slog.Default(),
		writes:   make(chan stdIOWrite),
		payloads: make(chan []byte),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// StartSession implements Transport. The ready channel is closed immediately:
// a pipe needs no endpoint announcement before it can carry traffic.
func (s *StdIO) StartSession(ctx context.Context, ready chan<- error) (iter.Seq[[]byte], error) {
	go s.processWrites(ctx)
	go s.listenLines(ctx)

	close(ready)

	return func(yield func([]byte) bool) {
		for payload := range s.payloads {
			if !yield(payload) {
				return
			}
		}
	}, nil
}

// Send implements Transport. Writes are serialized through a single goroutine
// so concurrent senders never interleave partial lines.
func (s *StdIO) Send(ctx context.Context, payload []byte) error {
	framed := make([]byte, 0, len(payload)+1)
	framed = append(framed, payload...)
	framed = append(framed, '\n')

	w := stdIOWrite{
		payload: framed,
		errs:    make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.writes <- w:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-w.errs:
		if err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
		return nil
	}
}

func (s *StdIO) processWrites(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-s.writes:
			_, err := s.writer.Write(w.payload)
			w.errs <- err
		}
	}
}

func (s *StdIO) listenLines(ctx context.Context) {
	defer close(s.payloads)

	// bufio.Reader instead of bufio.Scanner to avoid max token size errors
	// on large messages.
	reader := bufio.NewReader(s.reader)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Error("failed to read message", "err", err)
			}
			return
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case s.payloads <- []byte(line):
		}
	}
}
